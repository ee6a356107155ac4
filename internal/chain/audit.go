package chain

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meridianchain/ledgerd/internal/blockstore"
	"github.com/meridianchain/ledgerd/internal/ledgertx"
	"github.com/meridianchain/ledgerd/internal/metrics"
	"github.com/meridianchain/ledgerd/internal/nodeerr"
	"github.com/meridianchain/ledgerd/pkg/util"
)

// AddBlock audits b against the current tip and, on success, commits it:
// writes the block file (if not already present), indexes it, applies its
// transactions for real, and appends it to the in-memory chain array
// (spec.md §4.6 add_block).
func (c *Chain) AddBlock(b *blockstore.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addBlockLocked(b, true)
}

// commitExisting replays an already-written block file during Bootstrap or
// rollback-replay without rewriting it to disk.
func (c *Chain) commitExisting(b *blockstore.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addBlockLocked(b, false)
}

func (c *Chain) addBlockLocked(b *blockstore.Block, writeFile bool) error {
	if b.Index != int64(len(c.blocks)) {
		return nodeerr.New(nodeerr.KindChainMismatch, "block %d does not match chain length %d", b.Index, len(c.blocks))
	}

	ok, err := b.Verify()
	if err != nil {
		return fmt.Errorf("verify block %d: %w", b.Index, err)
	}
	if !ok {
		return nodeerr.New(nodeerr.KindInputRejected, "block %d: stored hash does not match recomputed hash", b.Index)
	}

	var tip *blockstore.Block
	if len(c.blocks) > 0 {
		tip = c.blocks[len(c.blocks)-1]
	}
	if b.Index > 0 {
		if tip == nil || b.PrevHash != tip.Hash {
			return nodeerr.New(nodeerr.KindChainMismatch, "block %d: prevHash does not match tip", b.Index)
		}
		if err := c.checkTimestampWindowLocked(b); err != nil {
			return err
		}
		diff := Difficulty(b.Index)
		if !util.MeetsExactDifficulty(b.Hash, diff) {
			return nodeerr.New(nodeerr.KindPoWInvalid, "block %d: hash does not meet exact difficulty %d", b.Index, diff)
		}
	}

	names := touchedNames(b)
	snap := c.wallets.Snapshot(names)
	if err := c.auditTransactions(b); err != nil {
		_ = c.wallets.Restore(snap)
		return err
	}
	if err := c.wallets.Restore(snap); err != nil {
		return fmt.Errorf("restore snapshot after audit: %w", err)
	}

	for _, tx := range b.Transactions {
		wasMempooled := c.pool.Exists(tx.Hash)
		opts := ledgertx.ApplyOptions{Mode: ledgertx.ModeConfirmed, BlockIndex: b.Index, SyncTxView: !wasMempooled}
		if err := c.handler.Apply(tx, opts); err != nil {
			return fmt.Errorf("commit block %d: apply %s: %w", b.Index, tx.Hash, err)
		}
		if wasMempooled {
			if err := c.pool.Commit(tx.Hash, b.Index); err != nil {
				c.log.Warn("mempool commit bookkeeping failed", zap.String("hash", tx.Hash), zap.Error(err))
			}
		} else if err := c.pool.UpdateBlockIdx(tx.Hash, b.Index); err != nil {
			c.log.Warn("mempool hash-index update failed", zap.String("hash", tx.Hash), zap.Error(err))
		}
	}

	if writeFile {
		path := c.blockPath(b.Index)
		if !blockstore.Exists(path) {
			if err := blockstore.WriteFile(path, b, c.cfg.CompressBlockFiles); err != nil {
				return fmt.Errorf("write block %d: %w", b.Index, err)
			}
		}
	}

	if _, already := c.index.Get(b.Hash); !already {
		if err := c.index.Add(b); err != nil {
			c.log.Warn("block index add failed", zap.Int64("index", b.Index), zap.Error(err))
		}
	}
	if err := c.index.SetTip(b.Hash); err != nil {
		c.log.Warn("set tip failed", zap.Error(err))
	}

	c.blocks = append(c.blocks, b)
	c.log.Info("committed block", zap.Int64("index", b.Index), zap.String("hash", b.Hash), zap.Int("txCount", len(b.Transactions)))

	metrics.ChainHeight.Set(float64(len(c.blocks)))
	metrics.ChainDifficulty.Set(float64(Difficulty(b.Index)))
	metrics.LastBlockTimestamp.Set(float64(b.Timestamp))
	if writeFile {
		// Only a freshly-submitted block counts here — commitExisting
		// replays (Bootstrap, rollback-replay) would otherwise inflate
		// this every restart.
		if b.MinerName == c.cfg.NodeName {
			metrics.BlocksMined.Inc()
		} else {
			metrics.BlocksReceived.Inc()
		}
	}
	return nil
}

// auditTransactions dry-runs every transaction in b against the onChain
// view (sequence, balance, then the real ledger mutation, since the caller
// has already snapshotted and will restore regardless of outcome), and
// checks the block-level role rules from spec.md §4.6 step 4 / I7.
func (c *Chain) auditTransactions(b *blockstore.Block) error {
	byHash := make(map[string]*ledgertx.Transaction, len(b.Transactions))
	for _, tx := range b.Transactions {
		byHash[tx.Hash] = tx
	}

	rewardCount := 0
	for _, tx := range b.Transactions {
		if err := c.handler.EnforceSequence(tx, ledgertx.ModeConfirmed); err != nil {
			return nodeerr.AuditFailed(tx.Hash, err.Error())
		}
		if err := c.handler.EnforceBalance(tx, ledgertx.ModeConfirmed); err != nil {
			return nodeerr.AuditFailed(tx.Hash, err.Error())
		}
		if err := c.handler.Apply(tx, ledgertx.ApplyOptions{Mode: ledgertx.ModeConfirmed, BlockIndex: b.Index}); err != nil {
			return nodeerr.AuditFailed(tx.Hash, err.Error())
		}

		switch tx.Type {
		case ledgertx.TypeMiningReward:
			rewardCount++
			if rewardCount > 1 {
				return nodeerr.AuditFailed(tx.Hash, "more than one miningReward in block")
			}
			if tx.Dest != b.MinerName {
				return nodeerr.AuditFailed(tx.Hash, "miningReward not addressed to the block's miner")
			}
			if want := MiningReward(b.Index); tx.Amount != want {
				return nodeerr.AuditFailed(tx.Hash, fmt.Sprintf("miningReward amount %.6f does not match schedule %.6f", tx.Amount, want))
			}
		case ledgertx.TypeMiningFees:
			src, ok := byHash[tx.Source]
			if !ok {
				return nodeerr.AuditFailed(tx.Hash, "miningFees source transaction not present in block")
			}
			if tx.Amount != src.Fee {
				return nodeerr.AuditFailed(tx.Hash, "miningFees amount does not match the referenced transaction's fee")
			}
		}
	}
	return nil
}

// checkTimestampWindowLocked enforces I3: block.timestamp must exceed the
// average of up to the previous 3 block timestamps minus the tolerance
// window, and stay under now+tolerance.
func (c *Chain) checkTimestampWindowLocked(b *blockstore.Block) error {
	n := len(c.blocks)
	var sum int64
	count := 0
	for i := n - 1; i >= 0 && count < 3; i-- {
		sum += c.blocks[i].Timestamp
		count++
	}
	if count == 0 {
		return nil
	}
	avg := sum / int64(count)
	window := int64(c.cfg.NodeTimestampWindow / time.Second)
	now := time.Now().Unix()
	if b.Timestamp <= avg-window {
		return nodeerr.New(nodeerr.KindTimestampOutOfWindow, "block %d timestamp %d precedes average %d by more than %ds", b.Index, b.Timestamp, avg, window)
	}
	if b.Timestamp >= now+window {
		return nodeerr.New(nodeerr.KindTimestampOutOfWindow, "block %d timestamp %d is more than %ds ahead of now", b.Index, b.Timestamp, window)
	}
	return nil
}

func touchedNames(b *blockstore.Block) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		names = append(names, n)
	}
	for _, tx := range b.Transactions {
		add(tx.Src)
		add(tx.Dest)
	}
	add("_mint")
	return names
}
