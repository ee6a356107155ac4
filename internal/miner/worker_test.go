package miner

import (
	"context"
	"testing"
	"time"

	"github.com/meridianchain/ledgerd/internal/blockstore"
	"github.com/meridianchain/ledgerd/pkg/util"
)

func sampleBlock() *blockstore.Block {
	return &blockstore.Block{
		Index:      1,
		PrevHash:   "deadbeef",
		Version:    1,
		Timestamp:  1700000000,
		MinerName:  "node1",
		MerkleRoot: "root",
	}
}

func TestWorkerSolvesAtLowDifficulty(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w := Start(ctx, sampleBlock(), 1, 0, 0)
	var final Report
	for r := range w.Reports() {
		final = r
	}
	if final.Status != StatusSolved {
		t.Fatalf("status = %v, want Solved", final.Status)
	}
	if !util.MeetsExactDifficulty(final.Block.Hash, 1) {
		t.Fatalf("solved block hash %q does not meet difficulty 1", final.Block.Hash)
	}
	w.Wait()
}

func TestWorkerAbortStopsPromptly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// Difficulty high enough that the search won't realistically finish
	// before we cancel it.
	w := Start(ctx, sampleBlock(), 6, 0, 0)
	cancel()

	var final Report
	for r := range w.Reports() {
		final = r
	}
	if final.Status != StatusAborted {
		t.Fatalf("status = %v, want Aborted", final.Status)
	}
	w.Wait()
}

func TestWorkerReportsExhaustionAtNonceEnd(t *testing.T) {
	ctx := context.Background()
	// A nonceEnd reached almost immediately, at a difficulty unlikely to
	// have already solved within the first handful of nonces.
	w := Start(ctx, sampleBlock(), 6, 0, 3)
	var final Report
	for r := range w.Reports() {
		final = r
	}
	if final.Status != StatusAborted {
		t.Fatalf("status = %v, want Aborted", final.Status)
	}
	w.Wait()
}

func TestWorkerDoesNotMutateCallersBlock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := sampleBlock()
	w := Start(ctx, b, 1, 0, 0)
	for range w.Reports() {
	}
	w.Wait()

	if b.Nonce != 0 || b.Hash != "" {
		t.Fatalf("caller's block was mutated: nonce=%d hash=%q", b.Nonce, b.Hash)
	}
}
