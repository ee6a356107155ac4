package p2p

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/meridianchain/ledgerd/internal/blockstore"
	"github.com/meridianchain/ledgerd/internal/chain"
	"github.com/meridianchain/ledgerd/internal/ledgertx"
	"github.com/meridianchain/ledgerd/internal/mempool"
	"github.com/meridianchain/ledgerd/internal/nodeerr"
	"github.com/meridianchain/ledgerd/internal/wallet"
)

const syncTestBaseToken = "COIN$"

func newSyncTestChain(t *testing.T) *chain.Chain {
	t.Helper()
	dir := t.TempDir()
	log := zaptest.NewLogger(t)

	ws, err := wallet.NewStore(filepath.Join(dir, "wallet.json"), log)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	h := ledgertx.NewHandler(ws, syncTestBaseToken, 1.0, 0.1, log)
	pool, err := mempool.New(filepath.Join(dir, "mempool.db"), ws, syncTestBaseToken, 16, log)
	if err != nil {
		t.Fatalf("mempool.New: %v", err)
	}
	idx, err := blockstore.NewBoltStore(filepath.Join(dir, "index.db"), log)
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	cfg := chain.Config{
		NodeName:            "node1",
		DataPath:            filepath.Join(dir, "blocks"),
		BaseToken:           syncTestBaseToken,
		ProtocolVersion:     1,
		GenesisIssue:        1000,
		NodeTimestampWindow: 2 * time.Hour,
	}
	c := chain.New(cfg, ws, h, pool, idx, log)
	if err := c.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return c
}

func mineSyncBlock(t *testing.T, b *blockstore.Block, difficulty int) *blockstore.Block {
	t.Helper()
	solved, err := b.Mine(difficulty, 0, 0)
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if !solved {
		t.Fatalf("failed to solve block at difficulty %d", difficulty)
	}
	return b
}

func TestFindCommonAncestorMatchesSharedTip(t *testing.T) {
	c := newSyncTestChain(t)
	genesis := c.BlockAt(0)

	refs := []BlockRef{{Index: 0, Hash: genesis.Hash}, {Index: 1, Hash: "not-ours"}}
	idx, ok := findCommonAncestor(c, refs)
	if !ok || idx != 0 {
		t.Fatalf("findCommonAncestor = (%d, %v), want (0, true)", idx, ok)
	}
}

func TestFindCommonAncestorNoneFound(t *testing.T) {
	c := newSyncTestChain(t)
	refs := []BlockRef{{Index: 0, Hash: "totally-different"}}
	_, ok := findCommonAncestor(c, refs)
	if ok {
		t.Fatalf("expected no common ancestor")
	}
}

func TestSyncFromPeerAdoptsLongerFork(t *testing.T) {
	local := newSyncTestChain(t)
	genesis := local.BlockAt(0)

	b1, err := local.PrepareBlock(nil)
	if err != nil {
		t.Fatalf("PrepareBlock: %v", err)
	}
	mineSyncBlock(t, b1, chain.Difficulty(1))
	if err := local.AddBlock(b1); err != nil {
		t.Fatalf("AddBlock b1: %v", err)
	}
	if local.Height() != 2 {
		t.Fatalf("local height = %d, want 2", local.Height())
	}

	// Peer replaced index 1 with a different miner's block, then added
	// index 2 on top of it — a longer fork from the shared genesis.
	peerB1 := &blockstore.Block{Index: 1, PrevHash: genesis.Hash, Version: 1, Timestamp: time.Now().Unix(), MinerName: "peer-node"}
	mineSyncBlock(t, peerB1, chain.Difficulty(1))
	peerB2 := &blockstore.Block{Index: 2, PrevHash: peerB1.Hash, Version: 1, Timestamp: time.Now().Unix() + 1, MinerName: "peer-node"}
	mineSyncBlock(t, peerB2, chain.Difficulty(1))

	fc := newFakeClient()
	const peerAddr = "http://peer:8080"
	fc.refsByPeer[peerAddr] = []BlockRef{{Index: 0, Hash: genesis.Hash}, {Index: 1, Hash: peerB1.Hash}}
	fc.blocksByPeer[peerAddr] = []*blockstore.Block{peerB1, peerB2}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := SyncFromPeer(ctx, fc, peerAddr, local); err != nil {
		t.Fatalf("SyncFromPeer: %v", err)
	}

	if local.Height() != 3 {
		t.Fatalf("height after sync = %d, want 3", local.Height())
	}
	if local.BlockAt(1).MinerName != "peer-node" {
		t.Fatalf("expected peer's block to win index 1")
	}
	if local.BlockAt(2).MinerName != "peer-node" {
		t.Fatalf("expected peer's block at index 2")
	}
}

func TestSyncFromPeerErrorsWithNoCommonAncestor(t *testing.T) {
	local := newSyncTestChain(t)
	fc := newFakeClient()
	const peerAddr = "http://peer:8080"
	fc.refsByPeer[peerAddr] = []BlockRef{{Index: 0, Hash: "unrelated-genesis"}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := SyncFromPeer(ctx, fc, peerAddr, local)
	if !errors.Is(err, nodeerr.ErrNoCommonAncestor) {
		t.Fatalf("err = %v, want wrapping ErrNoCommonAncestor", err)
	}
}
