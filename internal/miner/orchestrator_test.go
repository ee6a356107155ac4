package miner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/meridianchain/ledgerd/internal/blockstore"
	"github.com/meridianchain/ledgerd/internal/chain"
	"github.com/meridianchain/ledgerd/internal/ledgertx"
	"github.com/meridianchain/ledgerd/internal/mempool"
	"github.com/meridianchain/ledgerd/internal/wallet"
)

const testBaseToken = "COIN$"

type testEnv struct {
	chain   *chain.Chain
	wallets *wallet.Store
	handler *ledgertx.Handler
	pool    *mempool.Pool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	log := zaptest.NewLogger(t)

	ws, err := wallet.NewStore(filepath.Join(dir, "wallet.json"), log)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	h := ledgertx.NewHandler(ws, testBaseToken, 1.0, 0.1, log)
	pool, err := mempool.New(filepath.Join(dir, "mempool.db"), ws, testBaseToken, 16, log)
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
		BaseToken:           testBaseToken,
		ProtocolVersion:     1,
		GenesisIssue:        1000,
		NodeTimestampWindow: 2 * time.Hour,
	}
	c := chain.New(cfg, ws, h, pool, idx, log)
	if err := c.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return &testEnv{chain: c, wallets: ws, handler: h, pool: pool}
}

type recordingBroadcaster struct {
	blocks chan *blockstore.Block
}

func (r *recordingBroadcaster) BroadcastBlock(b *blockstore.Block) {
	r.blocks <- b
}

func TestOrchestratorMinesAndCommitsOneBlock(t *testing.T) {
	env := newTestEnv(t)
	log := zaptest.NewLogger(t)

	if _, _, err := env.wallets.Generate("alice", testBaseToken); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := env.wallets.Update("alice", testBaseToken, func(w *wallet.Wallet) {
		w.Slot(testBaseToken).OnChain.Balance = 100
		w.Slot(testBaseToken).Tx.Balance = 100
	}); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	alice, err := env.wallets.GetUser("alice", false, testBaseToken)
	if err != nil {
		t.Fatalf("GetUser alice: %v", err)
	}

	transfer := &ledgertx.Transaction{
		Timestamp: time.Now().Unix(),
		Src:       alice.PublicKey,
		Dest:      "bob",
		Amount:    10,
		Token:     testBaseToken,
		Fee:       env.handler.Fee(alice.PublicKey, 10, 0),
		Type:      ledgertx.TypeTransfer,
		Seq:       1,
	}
	if err := env.pool.Submit(env.handler, transfer, "node1", env.pool.StakedMinerFor(transfer.Src)); err != nil {
		t.Fatalf("pool.Submit: %v", err)
	}

	bcast := &recordingBroadcaster{blocks: make(chan *blockstore.Block, 1)}
	cfg := Config{
		NodeName:             "node1",
		MiningTryInterval:    10 * time.Millisecond,
		BlockMinTransactions: 1,
		BlockMaxTransactions: 10,
	}
	o := New(cfg, env.chain, env.pool, env.handler, bcast, log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go o.Run(ctx)

	select {
	case b := <-bcast.blocks:
		if b.Index != 1 {
			t.Fatalf("mined block index = %d, want 1", b.Index)
		}
		foundReward, foundFees := false, false
		for _, tx := range b.Transactions {
			switch tx.Type {
			case ledgertx.TypeMiningReward:
				foundReward = true
				if tx.Dest != "node1" {
					t.Fatalf("miningReward dest = %s, want node1", tx.Dest)
				}
			case ledgertx.TypeMiningFees:
				foundFees = true
				if tx.Source != transfer.Hash {
					t.Fatalf("miningFees source = %s, want %s", tx.Source, transfer.Hash)
				}
			}
		}
		if !foundReward {
			t.Fatalf("mined block missing miningReward transaction")
		}
		if !foundFees {
			t.Fatalf("mined block missing miningFees transaction")
		}
	case <-time.After(9 * time.Second):
		t.Fatalf("timed out waiting for a mined block")
	}

	if env.chain.Height() != 2 {
		t.Fatalf("chain height = %d, want 2", env.chain.Height())
	}
}

func TestOrchestratorStaysReadyBelowMinTransactions(t *testing.T) {
	env := newTestEnv(t)
	log := zaptest.NewLogger(t)

	bcast := &recordingBroadcaster{blocks: make(chan *blockstore.Block, 1)}
	cfg := Config{
		NodeName:             "node1",
		MiningTryInterval:    10 * time.Millisecond,
		BlockMinTransactions: 1,
		BlockMaxTransactions: 10,
	}
	o := New(cfg, env.chain, env.pool, env.handler, bcast, log)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	o.Run(ctx)

	select {
	case b := <-bcast.blocks:
		t.Fatalf("unexpected block mined with an empty mempool: index %d", b.Index)
	default:
	}
	if o.State() != StateReady {
		t.Fatalf("state = %v, want Ready", o.State())
	}
}
