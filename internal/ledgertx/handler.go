package ledgertx

import (
	"crypto/ed25519"
	"fmt"
	"math"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/meridianchain/ledgerd/internal/crypto"
	"github.com/meridianchain/ledgerd/internal/nodeerr"
	"github.com/meridianchain/ledgerd/internal/wallet"
)

// Handler carries the transaction handler's collaborators: the wallet
// address book, the base token name (fee accounting always happens in this
// token per SPEC_FULL.md §C.4), fee policy parameters, and a logger.
type Handler struct {
	wallets    *wallet.Store
	baseToken  string
	feeCap     float64
	feePercent float64
	log        *zap.Logger
}

// NewHandler constructs a Handler over an already-open wallet store.
func NewHandler(wallets *wallet.Store, baseToken string, feeCap, feePercent float64, log *zap.Logger) *Handler {
	return &Handler{
		wallets:    wallets,
		baseToken:  baseToken,
		feeCap:     feeCap,
		feePercent: feePercent,
		log:        log,
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// BaseToken returns the token fee accounting always happens in.
func (h *Handler) BaseToken() string {
	return h.baseToken
}

// Fee computes fee = min(FeeCap, max(offered, amount*FeePercent/100));
// system-account senders pay 0 (spec.md §4.5).
func (h *Handler) Fee(src string, amount, offered float64) float64 {
	if crypto.IsSystemAccount(src) {
		return 0
	}
	pct := amount * h.feePercent / 100
	fee := offered
	if pct > fee {
		fee = pct
	}
	if fee > h.feeCap {
		fee = h.feeCap
	}
	return round6(fee)
}

// Sign computes tx.Hash (rejecting a caller-supplied mismatch), and, for
// non-system senders, either verifies a caller-supplied TxSig or signs with
// the sender's locally-held private key. System-account senders are
// signing-exempt and get an empty TxSig.
func (h *Handler) Sign(tx *Transaction) error {
	rawHash, err := tx.ComputeHashRaw()
	if err != nil {
		return fmt.Errorf("compute transaction hash: %w", err)
	}
	computed := base58.Encode(rawHash[:])

	if tx.Hash != "" && tx.Hash != computed {
		return nodeerr.New(nodeerr.KindInputRejected, "hash mismatch: got %s want %s", tx.Hash, computed)
	}
	tx.Hash = computed

	if crypto.IsSystemAccount(tx.Src) {
		tx.TxSig = ""
		return nil
	}

	pubKey, err := h.wallets.GetPublicKey(tx.Src)
	if err != nil {
		return err
	}

	if tx.TxSig != "" {
		ok, err := crypto.Verify(pubKey, tx.TxSig, rawHash[:])
		if err != nil {
			return fmt.Errorf("%w: %v", nodeerr.New(nodeerr.KindSignatureInvalid, "malformed signature"), err)
		}
		if !ok {
			return nodeerr.New(nodeerr.KindSignatureInvalid, "signature does not verify for %s", tx.Src)
		}
		return nil
	}

	w, err := h.wallets.GetUser(tx.Src, false, h.baseToken)
	if err != nil || w.PrivateKey == "" {
		return nodeerr.New(nodeerr.KindSignatureInvalid, "no txSig supplied and no local private key for %s", tx.Src)
	}
	rawPriv, err := base58.Decode(w.PrivateKey)
	if err != nil {
		return fmt.Errorf("decode stored private key for %s: %w", tx.Src, err)
	}
	tx.TxSig = crypto.Sign(ed25519.PrivateKey(rawPriv), rawHash[:])
	return nil
}

// EnforceSequence checks the sequence rule (spec.md §4.5): mempool
// admission requires seq == wallet.tx.seq+1; block commit requires
// seq == wallet.onChain.seq+1. System-account senders are sequence-exempt.
func (h *Handler) EnforceSequence(tx *Transaction, mode ApplyMode) error {
	if crypto.IsSystemAccount(tx.Src) {
		return nil
	}
	w, err := h.wallets.GetUser(tx.Src, true, h.baseToken)
	if err != nil {
		return err
	}
	var expected uint64
	if mode == ModeSpeculative {
		expected = w.Seq.Tx + 1
	} else {
		expected = w.Seq.OnChain + 1
	}
	if tx.Seq != expected {
		return nodeerr.SequenceGap(expected, tx.Seq)
	}
	return nil
}

// EnforceBalance checks that src can afford amount (in tx.Token) and fee
// (always in BASE_TOKEN, per SPEC_FULL.md §C.4 — combined with amount when
// tx.Token is already the base token). System-account senders are
// balance-exempt (the mint pool is allowed to go negative).
func (h *Handler) EnforceBalance(tx *Transaction, mode ApplyMode) error {
	if crypto.IsSystemAccount(tx.Src) {
		return nil
	}
	w, err := h.wallets.GetUser(tx.Src, true, h.baseToken)
	if err != nil {
		return err
	}

	tokenBalance := viewBalance(w.Slot(tx.Token), mode)
	tokenNeed := tx.Amount
	if tx.Token == h.baseToken {
		tokenNeed += tx.Fee
	}
	if tokenBalance < tokenNeed {
		return nodeerr.InsufficientFunds(tokenBalance, tokenNeed)
	}

	if tx.Token != h.baseToken && tx.Fee > 0 {
		baseBalance := viewBalance(w.Slot(h.baseToken), mode)
		if baseBalance < tx.Fee {
			return nodeerr.InsufficientFunds(baseBalance, tx.Fee)
		}
	}
	return nil
}

func viewBalance(slot *wallet.TokenSlot, mode ApplyMode) float64 {
	if mode == ModeSpeculative {
		return slot.Tx.Balance
	}
	return slot.OnChain.Balance
}

// ApplyMode selects which wallet view Apply/Reverse mutate.
type ApplyMode int

const (
	// ModeSpeculative updates only the tx view — mempool admission.
	ModeSpeculative ApplyMode = iota
	// ModeConfirmed updates the onChain view — block commit.
	ModeConfirmed
)

// ApplyOptions parameterizes Apply/Reverse.
type ApplyOptions struct {
	Mode ApplyMode

	// BlockIndex is recorded in OnChain history; only meaningful when
	// Mode == ModeConfirmed.
	BlockIndex int64

	// SyncTxView mirrors the onChain update into the tx view too, for
	// transactions that were never mempooled on this node (spec.md §4.5,
	// keeping I8 — wallet.tx equals wallet.onChain once settled). Only
	// meaningful when Mode == ModeConfirmed.
	SyncTxView bool
}

func applyDelta(w *wallet.Wallet, token string, delta float64, opts ApplyOptions) {
	slot := w.Slot(token)
	switch opts.Mode {
	case ModeSpeculative:
		slot.Tx.Amount += delta
		slot.Tx.Balance += delta
	case ModeConfirmed:
		slot.OnChain.Amount += delta
		slot.OnChain.Balance += delta
		slot.OnChain.PushHistory(opts.BlockIndex)
		if opts.SyncTxView {
			slot.Tx.Amount = slot.OnChain.Amount
			slot.Tx.Balance = slot.OnChain.Balance
		}
	}
}

func advanceSeq(w *wallet.Wallet, opts ApplyOptions) {
	switch opts.Mode {
	case ModeSpeculative:
		w.Seq.Tx++
	case ModeConfirmed:
		w.Seq.OnChain++
		if opts.SyncTxView {
			w.Seq.Tx = w.Seq.OnChain
		}
	}
}

func rewindSeq(w *wallet.Wallet, opts ApplyOptions) {
	switch opts.Mode {
	case ModeSpeculative:
		w.Seq.Tx--
	case ModeConfirmed:
		w.Seq.OnChain--
		if opts.SyncTxView {
			w.Seq.Tx = w.Seq.OnChain
		}
	}
}

// Apply debits src by amount+fee, credits dest by amount, and credits the
// mint pool ("_mint") by fee — the fee is redistributed to a miner later via
// a miningFees transaction the blockchain engine inserts when sealing a
// block (spec.md §4.5). Fee is always accounted in BASE_TOKEN regardless of
// tx.Token (SPEC_FULL.md §C.4); since Wallet.Slot returns the same pointer
// for a repeated token key, debiting tx.Token then BASE_TOKEN accumulates
// correctly on the same slot when the two coincide.
func (h *Handler) Apply(tx *Transaction, opts ApplyOptions) error {
	if !crypto.IsSystemAccount(tx.Src) {
		if _, err := h.wallets.Update(tx.Src, h.baseToken, func(w *wallet.Wallet) {
			applyDelta(w, tx.Token, -tx.Amount, opts)
			applyDelta(w, h.baseToken, -tx.Fee, opts)
			advanceSeq(w, opts)
		}); err != nil {
			return fmt.Errorf("debit src %s: %w", tx.Src, err)
		}
	}

	if _, err := h.wallets.Update(tx.Dest, h.baseToken, func(w *wallet.Wallet) {
		applyDelta(w, tx.Token, tx.Amount, opts)
	}); err != nil {
		return fmt.Errorf("credit dest %s: %w", tx.Dest, err)
	}

	if tx.Fee != 0 {
		if _, err := h.wallets.Update("_mint", h.baseToken, func(w *wallet.Wallet) {
			applyDelta(w, h.baseToken, tx.Fee, opts)
		}); err != nil {
			return fmt.Errorf("credit fee pool: %w", err)
		}
	}
	return nil
}

// Reverse undoes the ledger effect Apply had for orig — refunding src its
// amount+fee, clawing back dest's amount, and clawing back the mint pool's
// collected fee — then returns a signed audit-trail transaction of type
// reversal:<origType> recording the undo (SPEC_FULL.md §C.3: reversals are
// node policy, synthesized locally with the system sender "_mint", not
// separately authority-signed). Nothing else in this repository calls it:
// chain.rewindTo rebuilds wallets by a Reset plus replay, and the miner
// orchestrator's rollbackRewards has no applied effect to undo.
func (h *Handler) Reverse(orig *Transaction, timestamp int64, opts ApplyOptions) (*Transaction, error) {
	if err := h.reverseEffect(orig, opts); err != nil {
		return nil, err
	}

	rev := &Transaction{
		Timestamp: timestamp,
		Src:       "_mint",
		Dest:      orig.Src,
		Amount:    orig.Amount,
		Token:     orig.Token,
		Fee:       orig.Fee,
		Type:      ReversalType(orig.Type),
		Source:    orig.Hash,
	}
	if err := h.Sign(rev); err != nil {
		return nil, fmt.Errorf("sign reversal: %w", err)
	}
	h.log.Debug("reversed transaction",
		zap.String("origHash", orig.Hash), zap.String("revHash", rev.Hash), zap.String("type", string(rev.Type)))
	return rev, nil
}

// reverseEffect undoes Apply's wallet-view effect for tx under opts — the
// wallet mutation shared by Reverse (confirmed, produces an audit record)
// and UndoSpeculative (mempool admission rollback, silent).
func (h *Handler) reverseEffect(tx *Transaction, opts ApplyOptions) error {
	if !crypto.IsSystemAccount(tx.Src) {
		if _, err := h.wallets.Update(tx.Src, h.baseToken, func(w *wallet.Wallet) {
			applyDelta(w, tx.Token, tx.Amount, opts)
			applyDelta(w, h.baseToken, tx.Fee, opts)
			rewindSeq(w, opts)
		}); err != nil {
			return fmt.Errorf("refund src %s: %w", tx.Src, err)
		}
	}

	if _, err := h.wallets.Update(tx.Dest, h.baseToken, func(w *wallet.Wallet) {
		applyDelta(w, tx.Token, -tx.Amount, opts)
	}); err != nil {
		return fmt.Errorf("claw back dest %s: %w", tx.Dest, err)
	}

	if tx.Fee != 0 {
		if _, err := h.wallets.Update("_mint", h.baseToken, func(w *wallet.Wallet) {
			applyDelta(w, h.baseToken, -tx.Fee, opts)
		}); err != nil {
			return fmt.Errorf("claw back fee pool: %w", err)
		}
	}
	return nil
}

// UndoSpeculative reverses Apply's speculative-view effect for tx, with no
// audit-trail record produced — used when mempool admission fails after the
// speculative view was already applied (Pool.Submit's apply-then-admit
// ordering spec.md §2/§4.5 requires).
func (h *Handler) UndoSpeculative(tx *Transaction) error {
	return h.reverseEffect(tx, ApplyOptions{Mode: ModeSpeculative})
}

// AttachPendingWarning stamps tx.Meta.Warning when another node already has
// a pending transaction staked for the same src (spec.md §4.5).
func AttachPendingWarning(tx *Transaction, stakedByNode string) {
	if stakedByNode == "" {
		return
	}
	if tx.Meta == nil {
		tx.Meta = &Meta{}
	}
	tx.Meta.Warning = fmt.Sprintf("pending on %s", stakedByNode)
}
