// Package wallet implements C2: the address book of per-public-key wallet
// records, key generation, per-token balance slots, and the snapshot/restore
// pairs the blockchain engine uses to dry-run a block audit. Grounded on the
// teacher's constructor-injected, RWMutex-guarded store shape
// (internal/sharechain.BoltStore) generalized from bbolt-backed share storage
// to an in-memory map with whole-file JSON persistence, since spec.md §4.2
// names a single address-book file rewritten on every update rather than a
// keyed KV engine.
package wallet

import (
	"encoding/json"
	"fmt"
)

// View is a balance view shared by the speculative (tx) and confirmed
// (onChain) token slots.
type View struct {
	Amount  float64 `json:"amount"`
	Balance float64 `json:"balance"`
}

// maxHistoryIdx bounds how many block indices OnChainView.HistoryIdx retains.
const maxHistoryIdx = 10

// OnChainView is the confirmed balance view, additionally tracking the most
// recent block indices that touched this token slot (most-recent-first).
type OnChainView struct {
	Amount     float64 `json:"amount"`
	Balance    float64 `json:"balance"`
	HistoryIdx []int64 `json:"historyIdx"`
}

// PushHistory prepends blockIndex, trimming to maxHistoryIdx entries.
func (v *OnChainView) PushHistory(blockIndex int64) {
	v.HistoryIdx = append([]int64{blockIndex}, v.HistoryIdx...)
	if len(v.HistoryIdx) > maxHistoryIdx {
		v.HistoryIdx = v.HistoryIdx[:maxHistoryIdx]
	}
}

// TokenSlot holds the dual tx/onChain balance views for one token.
type TokenSlot struct {
	Tx      View        `json:"tx"`
	OnChain OnChainView `json:"onChain"`
}

// Seq tracks the dual sequence counters used for per-sender ordering (I4).
type Seq struct {
	Tx      uint64 `json:"tx"`
	OnChain uint64 `json:"onChain"`
}

// Wallet is the per-public-key record described in spec.md §3. Token slots
// are dynamic fields alongside the fixed ones, so Wallet carries its own
// MarshalJSON/UnmarshalJSON to flatten Tokens into the same object instead
// of nesting it under a "tokens" key.
type Wallet struct {
	Name       string `json:"name"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
	Seq        Seq    `json:"seq"`

	Tokens map[string]*TokenSlot `json:"-"`
}

// Slot returns the token slot for token, creating a zeroed one if absent.
func (w *Wallet) Slot(token string) *TokenSlot {
	if w.Tokens == nil {
		w.Tokens = make(map[string]*TokenSlot)
	}
	slot, ok := w.Tokens[token]
	if !ok {
		slot = &TokenSlot{}
		w.Tokens[token] = slot
	}
	return slot
}

// Clone returns a deep copy, used by Store.Snapshot/Restore so an audit
// dry-run can mutate a copy and discard it without touching the live wallet.
func (w *Wallet) Clone() *Wallet {
	clone := &Wallet{
		Name:       w.Name,
		PublicKey:  w.PublicKey,
		PrivateKey: w.PrivateKey,
		CreatedAt:  w.CreatedAt,
		Seq:        w.Seq,
		Tokens:     make(map[string]*TokenSlot, len(w.Tokens)),
	}
	for token, slot := range w.Tokens {
		cp := *slot
		cp.OnChain.HistoryIdx = append([]int64{}, slot.OnChain.HistoryIdx...)
		clone.Tokens[token] = &cp
	}
	return clone
}

type walletFixed struct {
	Name       string `json:"name"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
	Seq        Seq    `json:"seq"`
}

func (w *Wallet) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(walletFixed{
		Name:       w.Name,
		PublicKey:  w.PublicKey,
		PrivateKey: w.PrivateKey,
		CreatedAt:  w.CreatedAt,
		Seq:        w.Seq,
	})
	if err != nil {
		return nil, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for token, slot := range w.Tokens {
		b, err := json.Marshal(slot)
		if err != nil {
			return nil, fmt.Errorf("marshal token slot %s: %w", token, err)
		}
		merged[token] = b
	}
	return json.Marshal(merged)
}

func (w *Wallet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var fixed walletFixed
	if err := json.Unmarshal(data, &fixed); err != nil {
		return err
	}
	w.Name = fixed.Name
	w.PublicKey = fixed.PublicKey
	w.PrivateKey = fixed.PrivateKey
	w.CreatedAt = fixed.CreatedAt
	w.Seq = fixed.Seq

	for _, known := range []string{"name", "publicKey", "privateKey", "createdAt", "seq"} {
		delete(raw, known)
	}

	w.Tokens = make(map[string]*TokenSlot, len(raw))
	for token, b := range raw {
		var slot TokenSlot
		if err := json.Unmarshal(b, &slot); err != nil {
			return fmt.Errorf("unmarshal token slot %s: %w", token, err)
		}
		w.Tokens[token] = &slot
	}
	return nil
}
