package chain

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/meridianchain/ledgerd/internal/blockstore"
	"github.com/meridianchain/ledgerd/internal/ledgertx"
)

// AddChainOptions parameterizes AddChain.
type AddChainOptions struct {
	ForceOverwrite bool
}

// AddChain integrates a run of incoming blocks (spec.md §4.6 add_chain):
// when ForceOverwrite is set and the local chain is taller than the
// incoming run's first index, it rewinds the local chain to that index
// first (re-injecting user+admin transactions from the dropped blocks),
// then audits and commits each incoming block in order, aborting with the
// offending index on the first audit failure.
func (c *Chain) AddChain(blocks []*blockstore.Block, opts AddChainOptions) error {
	if len(blocks) == 0 {
		return nil
	}
	fromIndex := blocks[0].Index

	if opts.ForceOverwrite {
		c.mu.RLock()
		localHeight := int64(len(c.blocks))
		c.mu.RUnlock()
		if localHeight > fromIndex {
			if err := c.rewindTo(fromIndex); err != nil {
				return fmt.Errorf("add_chain: rewind to %d: %w", fromIndex, err)
			}
		}
	}

	for _, b := range blocks {
		if err := c.AddBlock(b); err != nil {
			return fmt.Errorf("add_chain: block %d: %w", b.Index, err)
		}
	}
	return nil
}

// rewindTo truncates the local chain back to fromIndex, re-injects the
// dropped blocks' user+admin transactions into the mempool (system-
// generated miningReward/miningFees are not re-injected — spec.md §4.6),
// resets every wallet, and rebuilds balances/sequences by replaying the
// retained prefix of the chain. c.mu is taken only around each individual
// step (copying the block array, clearing it, each replayed commit) and is
// not held across the whole rewind; no SYNC_CHAIN node state is entered.
func (c *Chain) rewindTo(fromIndex int64) error {
	c.mu.Lock()
	if fromIndex < 0 || fromIndex > int64(len(c.blocks)) {
		c.mu.Unlock()
		return fmt.Errorf("rewind target %d out of range (height %d)", fromIndex, len(c.blocks))
	}
	dropped := append([]*blockstore.Block{}, c.blocks[fromIndex:]...)
	retained := append([]*blockstore.Block{}, c.blocks[:fromIndex]...)
	c.mu.Unlock()

	for i := len(dropped) - 1; i >= 0; i-- {
		b := dropped[i]
		for _, tx := range b.Transactions {
			if tx.Type == ledgertx.TypeMiningReward || tx.Type == ledgertx.TypeMiningFees {
				continue
			}
			reinject := *tx
			if err := c.pool.Requeue(&reinject, c.cfg.NodeName); err != nil {
				c.log.Warn("re-inject transaction on rollback failed", zap.String("hash", tx.Hash), zap.Error(err))
			}
		}
	}

	if err := c.index.Truncate(fromIndex); err != nil {
		return fmt.Errorf("truncate block index: %w", err)
	}
	if err := c.wallets.Reset(); err != nil {
		return fmt.Errorf("reset wallets: %w", err)
	}

	c.mu.Lock()
	c.blocks = nil
	c.mu.Unlock()

	for _, b := range retained {
		if err := c.commitExisting(b); err != nil {
			return fmt.Errorf("replay retained block %d: %w", b.Index, err)
		}
	}
	return nil
}
