package p2p

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/meridianchain/ledgerd/internal/chain"
	"github.com/meridianchain/ledgerd/internal/nodeerr"
)

// syncBatch is the page size spec.md §6 names for both the hash-locator walk
// and the subsequent full-block fetch.
const syncBatch = 100

// SyncFromPeer performs spec.md §4.9's longest-chain sync: walk the block
// hashes the peer returns starting syncBatch below the local height, newest
// first, looking for a hash this node already has (the shared tip), then pull every full block after that point and
// fold it in with a forced rewind. No shared hash within the window de-peers
// the caller (spec.md: "full-history rollback is out of scope").
//
// Grounded on the teacher's internal/p2p/sync.go locator-style ancestor
// search (there walking a libp2p DHT-advertised share chain to find a common
// share; here walking an HTTP peer's block-hash list to find a common
// block).
func SyncFromPeer(ctx context.Context, client Client, peerAddr string, c *chain.Chain) error {
	height := c.Height()
	fromIndex := height - syncBatch
	if fromIndex < 0 {
		fromIndex = 0
	}

	refs, err := client.BlockRefs(ctx, peerAddr, fromIndex)
	if err != nil {
		return fmt.Errorf("fetch block refs from %s: %w", peerAddr, err)
	}

	matchIndex, ok := findCommonAncestor(c, refs)
	if !ok {
		return fmt.Errorf("sync with %s: %w", peerAddr, nodeerr.ErrNoCommonAncestor)
	}

	blocks, err := client.Blocks(ctx, peerAddr, matchIndex+1)
	if err != nil {
		return fmt.Errorf("fetch blocks from %s starting at %d: %w", peerAddr, matchIndex+1, err)
	}
	if len(blocks) == 0 {
		return nil
	}

	if err := c.AddChain(blocks, chain.AddChainOptions{ForceOverwrite: true}); err != nil {
		return fmt.Errorf("add_chain from %s: %w", peerAddr, err)
	}
	return nil
}

// findCommonAncestor returns the highest index present both locally and in
// refs (refs is assumed oldest-to-newest, as returned by a `type=hashes`
// request), or false if none of refs' hashes match the local chain.
func findCommonAncestor(c *chain.Chain, refs []BlockRef) (int64, bool) {
	for i := len(refs) - 1; i >= 0; i-- {
		r := refs[i]
		local := c.BlockAt(r.Index)
		if local != nil && local.Hash == r.Hash {
			return r.Index, true
		}
	}
	return 0, false
}

// logSyncOutcome is a small helper so callers (node.go's heartbeat loop) log
// consistently whether sync succeeded, failed, or de-peered.
func logSyncOutcome(log *zap.Logger, peerAddr string, err error) {
	if err == nil {
		log.Info("synced chain from peer", zap.String("peer", peerAddr))
		return
	}
	log.Warn("sync from peer failed", zap.String("peer", peerAddr), zap.Error(err))
}
