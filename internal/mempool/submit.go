package mempool

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/meridianchain/ledgerd/internal/ledgertx"
)

// Submit runs the admission pipeline spec.md §2's data-flow line and §4.5's
// C5 responsibility list name for an incoming transaction: handler signs and
// validates it against the speculative (tx) view, that view is applied, and
// only then is the transaction admitted to the pool. Sequence/balance
// rejection and a failed admission (duplicate hash, full quota) both leave
// no trace — the speculative view is undone if Add rejects tx after Apply
// already ran.
//
// stakedByNode names a miner that already has a pending transaction staked
// for tx.Src (from Pool.StakedMinerFor, called by the caller before Submit,
// since once Submit picks a miner for tx it can no longer see "the other"
// candidate); pass "" if none. When set, tx.Meta.Warning is stamped so the
// client is informed but not blocked, per spec.md §4.5's meta warning.
func (p *Pool) Submit(handler *ledgertx.Handler, tx *ledgertx.Transaction, miner, stakedByNode string) error {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	if err := handler.Sign(tx); err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	if err := handler.EnforceSequence(tx, ledgertx.ModeSpeculative); err != nil {
		return err
	}
	if err := handler.EnforceBalance(tx, ledgertx.ModeSpeculative); err != nil {
		return err
	}
	if err := handler.Apply(tx, ledgertx.ApplyOptions{Mode: ledgertx.ModeSpeculative}); err != nil {
		return fmt.Errorf("apply speculative view: %w", err)
	}

	ledgertx.AttachPendingWarning(tx, stakedByNode)

	if err := p.Add(tx, miner); err != nil {
		if undoErr := handler.UndoSpeculative(tx); undoErr != nil {
			p.log.Error("undo speculative apply after failed admission",
				zap.String("hash", tx.Hash), zap.Error(undoErr))
		}
		return err
	}
	return nil
}
