package p2p

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meridianchain/ledgerd/internal/blockstore"
	"github.com/meridianchain/ledgerd/internal/chain"
	"github.com/meridianchain/ledgerd/internal/ledgertx"
	"github.com/meridianchain/ledgerd/internal/metrics"
)

// Config carries Node's tunables (spec.md §6 environment variables).
type Config struct {
	Hostname          string
	NodeName          string
	ProtocolVersion   int
	HeartbeatInterval time.Duration
	StartTime         int64
}

// Node is C9's glue: the peer table (PeerStore), the outbound client
// (Client), and the collaborators a heartbeat/sync cycle needs (Chain,
// for height/tip comparisons and folding in a synced run of blocks).
// Grounded on the teacher's internal/p2p.Node, which likewise holds its
// PubSub/Discovery/Syncer collaborators plus a background-goroutine
// lifecycle — generalized here from libp2p's host-driven connection
// notifications to an explicit heartbeat ticker (this package's client/
// initiator-only role means there's no inbound connection event to react
// to; spec.md §4.9 names a fixed HEARTBEAT_INTERVAL poll instead).
type Node struct {
	cfg    Config
	peers  *PeerStore
	client Client
	chain  *chain.Chain
	log    *zap.Logger
}

// NewNode constructs a Node.
func NewNode(cfg Config, peers *PeerStore, client Client, c *chain.Chain, log *zap.Logger) *Node {
	return &Node{cfg: cfg, peers: peers, client: client, chain: c, log: log}
}

// self builds this node's current announce payload.
func (n *Node) self() Peer {
	tip := n.chain.Tip()
	p := Peer{
		Hostname:         n.cfg.Hostname,
		NodeName:         n.cfg.NodeName,
		Version:          n.cfg.ProtocolVersion,
		StartTime:        n.cfg.StartTime,
		Timestamp:        time.Now().Unix(),
		BlockchainHeight: n.chain.Height(),
	}
	if tip != nil {
		p.BlockAtHeight = tip
	}
	return p
}

// AddPeer seeds the peer table with an address to heartbeat against,
// typically from a bootnode list (out of scope to parse here — spec.md §1
// excludes CLI/env parsing — callers resolve the list themselves).
func (n *Node) AddPeer(hostname string) error {
	return n.peers.Upsert(Peer{Hostname: hostname})
}

// Run drives the HEARTBEAT_INTERVAL loop spec.md §4.9 names: announce to
// every known peer, update the peer table with what comes back, and sync
// from any peer that is ahead.
func (n *Node) Run(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.heartbeatOnce(ctx)
		}
	}
}

func (n *Node) heartbeatOnce(ctx context.Context) {
	all := n.peers.All()
	metrics.PeersConnected.Set(float64(len(all)))
	for _, peer := range all {
		n.pingPeer(ctx, peer.Hostname)
	}
}

func (n *Node) pingPeer(ctx context.Context, hostname string) {
	if !n.peers.Limiter(hostname).Allow() {
		n.log.Debug("heartbeat rate limited", zap.String("peer", hostname))
		return
	}
	if n.peers.ShouldSkip(hostname, n.cfg.HeartbeatInterval) {
		n.log.Debug("heartbeat backing off", zap.String("peer", hostname))
		return
	}

	resp, err := n.client.Announce(ctx, hostname, n.self())
	now := time.Now().Unix()
	if err != nil {
		n.peers.RecordFailure(hostname)
		n.log.Warn("heartbeat failed", zap.String("peer", hostname), zap.Error(err))
		if existing, ok := n.peers.Get(hostname); ok {
			existing.PingError = err.Error()
			existing.LastPing = now
			_ = n.peers.Upsert(existing)
		}
		return
	}
	n.peers.RecordSuccess(hostname)

	resp.Self.Hostname = hostname
	resp.Self.LastPing = now
	resp.Self.PingError = ""
	if err := n.peers.Upsert(resp.Self); err != nil {
		n.log.Warn("persist peer state failed", zap.String("peer", hostname), zap.Error(err))
	}
	for _, discovered := range resp.Peers {
		if discovered.Hostname == "" || discovered.Hostname == n.cfg.Hostname {
			continue
		}
		if _, known := n.peers.Get(discovered.Hostname); !known {
			_ = n.peers.Upsert(Peer{Hostname: discovered.Hostname})
		}
	}

	if n.aheadOfUs(resp.Self) {
		err := SyncFromPeer(ctx, n.client, hostname, n.chain)
		logSyncOutcome(n.log, hostname, err)
		if err != nil {
			metrics.SyncAttempts.WithLabelValues("failed").Inc()
			if depeerErr := n.peers.Remove(hostname); depeerErr != nil {
				n.log.Warn("de-peer after failed sync failed", zap.String("peer", hostname), zap.Error(depeerErr))
			}
		} else {
			metrics.SyncAttempts.WithLabelValues("ok").Inc()
		}
	}
}

// aheadOfUs applies spec.md §4.9's tie-break: a strictly taller peer wins
// outright; an equal-height peer wins only if its tip is strictly older
// (the longer-settled chain is preferred when heights tie).
func (n *Node) aheadOfUs(peer Peer) bool {
	ourHeight := n.chain.Height()
	if peer.BlockchainHeight > ourHeight {
		return true
	}
	if peer.BlockchainHeight < ourHeight || peer.BlockAtHeight == nil {
		return false
	}
	ourTip := n.chain.Tip()
	if ourTip == nil {
		return true
	}
	return peer.BlockAtHeight.Timestamp < ourTip.Timestamp
}

// BroadcastBlock pushes a freshly mined block to every known peer,
// satisfying internal/miner.Broadcaster. Delivery is best-effort and
// fire-and-forget per peer — a peer that misses it will pick the block up
// on its next heartbeat sync.
func (n *Node) BroadcastBlock(b *blockstore.Block) {
	ctx, cancel := context.WithTimeout(context.Background(), peerTimeout)
	defer cancel()
	for _, peer := range n.peers.All() {
		outcome, err := n.client.AnnounceBlock(ctx, peer.Hostname, b)
		if err != nil {
			n.log.Debug("block announce failed", zap.String("peer", peer.Hostname), zap.Error(err))
			continue
		}
		if !outcome.Accepted {
			n.log.Debug("peer rejected announced block", zap.String("peer", peer.Hostname), zap.String("reason", outcome.Error))
		}
	}
}

// BroadcastTransaction pushes a newly admitted transaction to every known
// peer (spec.md §4.9's mempool gossip), mirroring BroadcastBlock.
func (n *Node) BroadcastTransaction(tx *ledgertx.Transaction) {
	ctx, cancel := context.WithTimeout(context.Background(), peerTimeout)
	defer cancel()
	for _, peer := range n.peers.All() {
		outcome, err := n.client.AnnounceTransaction(ctx, peer.Hostname, tx)
		if err != nil {
			n.log.Debug("transaction announce failed", zap.String("peer", peer.Hostname), zap.Error(err))
			continue
		}
		if !outcome.Accepted {
			n.log.Debug("peer rejected announced transaction", zap.String("peer", peer.Hostname), zap.String("reason", outcome.Error))
		}
	}
}
