// Package miner implements C7 (the isolated proof-of-work worker) and C8
// (the orchestrator state machine driving block preparation through
// commit). Grounded on the teacher's internal/work.Generator: a goroutine
// driven by context cancellation, reporting progress on a buffered channel
// that the caller drains non-blockingly (internal/work/generator.go's
// select/default around jobCh).
package miner

import (
	"context"
	"time"

	"github.com/meridianchain/ledgerd/internal/blockstore"
	"github.com/meridianchain/ledgerd/internal/ledgertx"
	"github.com/meridianchain/ledgerd/pkg/util"
)

// reportEvery is the nonce-search iteration interval at which the worker
// emits an Update message (spec.md §4.7: "every 1,000,000 iterations").
const reportEvery = 1_000_000

// Status is the terminal or progress state carried by a Report.
type Status int

const (
	StatusUpdate Status = iota
	StatusSolved
	StatusAborted
)

// Report is the single message type the worker emits. Only the fields
// relevant to Status are populated: Update carries Nonce/Elapsed, Solved
// carries Block/Elapsed, Aborted carries Nonce/Elapsed.
type Report struct {
	Status  Status
	Nonce   uint64
	Elapsed time.Duration
	Block   *blockstore.Block
}

// Worker runs one nonce search in its own goroutine. It never touches
// shared ledger/chain state — it only reads the block it was given, mutates
// its own copy's Nonce, and emits Reports (spec.md §4.7's concurrency
// contract).
type Worker struct {
	reports chan Report
	cancel  context.CancelFunc
	done    chan struct{}
}

// Start launches a nonce search over [startNonce, nonceEnd] against block at
// difficulty. block is copied before mutation so the caller's original is
// never touched concurrently. Call Abort to stop early; the worker honors it
// within the next iteration tick.
func Start(ctx context.Context, block *blockstore.Block, difficulty int, startNonce, nonceEnd uint64) *Worker {
	runCtx, cancel := context.WithCancel(ctx)
	w := &Worker{
		reports: make(chan Report, 8),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.run(runCtx, cloneBlock(block), difficulty, startNonce, nonceEnd)
	return w
}

// Reports returns the channel of progress/terminal messages. It is closed
// once the worker emits its terminal Report (Solved or Aborted).
func (w *Worker) Reports() <-chan Report {
	return w.reports
}

// Abort requests early termination. Safe to call multiple times or after
// the worker has already finished.
func (w *Worker) Abort() {
	w.cancel()
}

// Wait blocks until the worker goroutine has fully exited.
func (w *Worker) Wait() {
	<-w.done
}

func (w *Worker) run(ctx context.Context, b *blockstore.Block, difficulty int, nonce, nonceEnd uint64) {
	defer close(w.done)
	defer close(w.reports)

	start := time.Now()
	b.Nonce = nonce
	var iterSinceReport uint64

	for {
		select {
		case <-ctx.Done():
			w.emit(Report{Status: StatusAborted, Nonce: b.Nonce, Elapsed: time.Since(start)})
			return
		default:
		}

		hash, err := b.CalcHash()
		if err != nil {
			w.emit(Report{Status: StatusAborted, Nonce: b.Nonce, Elapsed: time.Since(start)})
			return
		}
		if util.MeetsExactDifficulty(hash, difficulty) {
			b.Hash = hash
			b.PowTime = time.Now().Unix()
			w.emit(Report{Status: StatusSolved, Block: b, Elapsed: time.Since(start)})
			return
		}

		if nonceEnd > 0 && b.Nonce >= nonceEnd {
			w.emit(Report{Status: StatusAborted, Nonce: b.Nonce, Elapsed: time.Since(start)})
			return
		}

		b.Nonce++
		iterSinceReport++
		if iterSinceReport >= reportEvery {
			iterSinceReport = 0
			w.emit(Report{Status: StatusUpdate, Nonce: b.Nonce, Elapsed: time.Since(start)})
		}
	}
}

// emit sends a progress Update non-blockingly — a slow consumer drops
// Updates rather than stall the nonce search (the teacher's jobCh-full
// warning in generator.go, minus the log since this package has no logger
// of its own) — but always delivers a terminal report (Solved/Aborted),
// which the orchestrator's select loop is guaranteed to be waiting on.
func (w *Worker) emit(r Report) {
	if r.Status == StatusUpdate {
		select {
		case w.reports <- r:
		default:
		}
		return
	}
	w.reports <- r
}

func cloneBlock(b *blockstore.Block) *blockstore.Block {
	cp := *b
	cp.Transactions = append([]*ledgertx.Transaction(nil), b.Transactions...)
	return &cp
}
