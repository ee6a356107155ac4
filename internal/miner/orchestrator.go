package miner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridianchain/ledgerd/internal/blockstore"
	"github.com/meridianchain/ledgerd/internal/chain"
	"github.com/meridianchain/ledgerd/internal/ledgertx"
	"github.com/meridianchain/ledgerd/internal/mempool"
	"github.com/meridianchain/ledgerd/internal/metrics"
)

// State is the orchestrator's explicit state machine position (spec.md
// §4.8).
type State int

const (
	StateReady State = iota
	StateMining
	StateCommit
	StateRollbackRewards
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateMining:
		return "MINING"
	case StateCommit:
		return "COMMIT"
	case StateRollbackRewards:
		return "ROLLBACK_REWARDS"
	default:
		return "UNKNOWN"
	}
}

// Broadcaster is the subset of C9 the orchestrator needs: announcing a
// freshly mined block to peers. Defined here (rather than depending on
// internal/p2p) so the two packages don't import each other.
type Broadcaster interface {
	BroadcastBlock(b *blockstore.Block)
}

// Config carries the orchestrator's tunables (spec.md §6 environment
// variables, §4.8).
type Config struct {
	NodeName             string
	MiningTryInterval    time.Duration
	BlockMinTransactions int
	BlockMaxTransactions int
}

// Orchestrator drives C6/C7 cooperatively: it is the only goroutine that
// calls into Chain/Mempool/ledgertx for mining purposes, aside from the one
// isolated Worker goroutine it dispatches and awaits (spec.md §5's
// single-threaded-cooperative-except-the-worker model).
type Orchestrator struct {
	cfg     Config
	chain   *chain.Chain
	pool    *mempool.Pool
	handler *ledgertx.Handler
	bcast   Broadcaster
	log     *zap.Logger

	mu           sync.Mutex
	state        State
	preparedIdx  int64
	worker       *Worker
	workerCancel context.CancelFunc

	announced chan *blockstore.Block
}

// New constructs an Orchestrator. Call Run in its own goroutine to start
// the READY-tick loop.
func New(cfg Config, c *chain.Chain, pool *mempool.Pool, handler *ledgertx.Handler, bcast Broadcaster, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		chain:     c,
		pool:      pool,
		handler:   handler,
		bcast:     bcast,
		log:       log,
		state:     StateReady,
		announced: make(chan *blockstore.Block, 4),
	}
}

// State reports the orchestrator's current state (for status endpoints).
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// AnnounceCompeting offers a peer-mined block for the height the
// orchestrator is currently mining. If it audits and commits successfully,
// the in-flight worker is aborted and local reward construction is rolled
// back (spec.md §4.8: "An incoming block announcement for the same height
// that audits OK may send ABORT"). A block for a different height, or one
// that fails commit, is ignored here — ordinary sync (C9) handles it.
func (o *Orchestrator) AnnounceCompeting(b *blockstore.Block) {
	o.mu.Lock()
	mining := o.state == StateMining && b.Index == o.preparedIdx
	o.mu.Unlock()
	if !mining {
		return
	}
	if err := o.chain.AddBlock(b); err != nil {
		o.log.Debug("competing block announcement did not commit, continuing to mine",
			zap.Int64("index", b.Index), zap.Error(err))
		return
	}
	select {
	case o.announced <- b:
	default:
	}
	o.abortInFlight()
}

// Run executes the READY-tick loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.MiningTryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.abortInFlight()
			return
		case <-ticker.C:
			if o.State() != StateReady {
				continue
			}
			o.tryStartMining(ctx)
		}
	}
}

func (o *Orchestrator) abortInFlight() {
	o.mu.Lock()
	cancel := o.workerCancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// tryStartMining pulls a candidate batch, builds the reward transactions,
// prepares a block, and dispatches a Worker — transitioning READY -> MINING.
// It stays READY without logging when the batch is below
// BlockMinTransactions; a fetch, build or prepare failure logs a warning.
func (o *Orchestrator) tryStartMining(ctx context.Context) {
	userTxs, err := o.pool.GetMinerSorted(mempool.MinerSortOpts{
		Miner:           o.cfg.NodeName,
		MaxTransactions: o.cfg.BlockMaxTransactions,
	})
	if err != nil {
		o.log.Warn("get_miner_sorted failed", zap.Error(err))
		return
	}
	if len(userTxs) < o.cfg.BlockMinTransactions {
		return
	}

	rewardTxs, err := o.buildRewardTransactions(userTxs)
	if err != nil {
		o.log.Warn("building reward transactions failed", zap.Error(err))
		return
	}

	prepared, err := o.chain.PrepareBlock(append(append([]*ledgertx.Transaction{}, userTxs...), rewardTxs...))
	if err != nil {
		o.log.Warn("prepare_block failed", zap.Error(err))
		return
	}

	difficulty := chain.Difficulty(prepared.Index)
	workerCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	o.state = StateMining
	o.preparedIdx = prepared.Index
	o.workerCancel = cancel
	o.worker = Start(workerCtx, prepared, difficulty, 0, 0)
	worker := o.worker
	o.mu.Unlock()

	o.log.Info("mining started", zap.Int64("index", prepared.Index), zap.Int("difficulty", difficulty), zap.Int("txCount", len(prepared.Transactions)))
	metrics.MiningAttempts.Inc()
	go o.watch(workerCtx, worker)
}

// buildRewardTransactions constructs one miningFees transaction per fee-
// bearing user transaction plus one miningReward to self, all sourced from
// the system mint pool (spec.md §4.8).
func (o *Orchestrator) buildRewardTransactions(userTxs []*ledgertx.Transaction) ([]*ledgertx.Transaction, error) {
	now := time.Now().Unix()
	height := o.chain.Height()

	var out []*ledgertx.Transaction
	for _, tx := range userTxs {
		if tx.Fee <= 0 {
			continue
		}
		fee := &ledgertx.Transaction{
			Timestamp: now,
			Src:       "_mint",
			Dest:      o.cfg.NodeName,
			Amount:    tx.Fee,
			Token:     o.handler.BaseToken(),
			Type:      ledgertx.TypeMiningFees,
			Source:    tx.Hash,
		}
		if err := o.handler.Sign(fee); err != nil {
			return nil, fmt.Errorf("sign miningFees for %s: %w", tx.Hash, err)
		}
		out = append(out, fee)
	}

	reward := &ledgertx.Transaction{
		Timestamp: now,
		Src:       "_mint",
		Dest:      o.cfg.NodeName,
		Amount:    chain.MiningReward(height),
		Token:     o.handler.BaseToken(),
		Type:      ledgertx.TypeMiningReward,
	}
	if err := o.handler.Sign(reward); err != nil {
		return nil, fmt.Errorf("sign miningReward: %w", err)
	}
	out = append(out, reward)
	return out, nil
}

// watch drains the Worker's reports until a terminal one arrives, then
// drives COMMIT/ROLLBACK_REWARDS and returns to READY.
func (o *Orchestrator) watch(ctx context.Context, w *Worker) {
	for r := range w.Reports() {
		switch r.Status {
		case StatusUpdate:
			o.log.Debug("mining progress", zap.Uint64("nonce", r.Nonce), zap.Duration("elapsed", r.Elapsed))
		case StatusSolved:
			o.onSolved(r.Block, r.Elapsed)
		case StatusAborted:
			o.onAborted()
		}
	}
}

func (o *Orchestrator) onSolved(b *blockstore.Block, elapsed time.Duration) {
	metrics.MiningSuccesses.Inc()
	o.setState(StateCommit)
	if err := o.chain.AddBlock(b); err != nil {
		o.log.Warn("solved block failed to commit", zap.Int64("index", b.Index), zap.Error(err))
		o.rollbackRewards()
		o.setState(StateReady)
		return
	}
	o.log.Info("mined block", zap.Int64("index", b.Index), zap.String("hash", b.Hash), zap.Duration("elapsed", elapsed))
	if o.bcast != nil {
		o.bcast.BroadcastBlock(b)
	}
	o.setState(StateReady)
}

func (o *Orchestrator) onAborted() {
	select {
	case peer := <-o.announced:
		o.log.Info("aborted mining: peer block won the height", zap.Int64("index", peer.Index), zap.String("hash", peer.Hash))
	default:
		o.log.Debug("mining aborted")
	}
	o.rollbackRewards()
	o.setState(StateReady)
}

// rollbackRewards exists as an explicit state step per spec.md §4.8, but the
// reward/fee transactions built in buildRewardTransactions are never
// admitted to the mempool or applied to any wallet before a block commits —
// Chain.AddBlock's own snapshot/dry-run/restore pass is what would undo any
// trial mutation, and that never ran here since the block was never
// submitted. There is nothing to undo; the transition is kept for state-
// machine symmetry and so a future caller hooking this step (e.g. to
// re-stake a dropped user transaction under a fresh miner) has a home.
func (o *Orchestrator) rollbackRewards() {
	o.setState(StateRollbackRewards)
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	if s == StateReady {
		o.worker = nil
		o.workerCancel = nil
	}
	o.mu.Unlock()
}
