// Package ledgertx implements C5: transaction signing/verification, fee
// policy, per-sender sequence enforcement, the dual tx/onChain balance
// update, and reversal. Grounded on the teacher's sharechain.Validator shape
// (internal/sharechain/validation.go) — a struct holding its collaborators
// (store, target function) with one method per validation concern —
// generalized from share/PoW validation to transaction admission/audit.
package ledgertx

import "github.com/meridianchain/ledgerd/internal/crypto"

// Type is one of the transaction kinds named in spec.md §3.
type Type string

const (
	TypeMintIssue    Type = "mintIssue"
	TypeMintAirDrop  Type = "mintAirDrop"
	TypeMinerDeposit Type = "minerDeposit"
	TypeTransfer     Type = "transfer"
	TypeMiningReward Type = "miningReward"
	TypeMiningFees   Type = "miningFees"
)

// ReversalType returns the reversal type name for an original type
// (e.g. "reversal:transfer").
func ReversalType(orig Type) Type {
	return Type("reversal:" + string(orig))
}

// IsReversal reports whether t names a reversal of some original type.
func (t Type) IsReversal() bool {
	return len(t) > 9 && t[:9] == "reversal:"
}

// Meta is node-local bookkeeping. It is never part of the hashable or
// persisted transaction form (spec.md §3, §9) — carried only in memory.
type Meta struct {
	Miner     string
	QueueTime int64
	Warning   string
	Balance   float64
}

// Transaction is the per-spec.md-§3 record. Meta is a field tagged
// json:"-", so it is never marshaled and stays out of the hashable/persisted
// field set.
type Transaction struct {
	Timestamp int64   `json:"timestamp"`
	Src       string  `json:"src"`
	Dest      string  `json:"dest"`
	Amount    float64 `json:"amount"`
	Token     string  `json:"token"`
	Fee       float64 `json:"fee"`
	Type      Type    `json:"type"`
	Seq       uint64  `json:"seq"`
	TxSig     string  `json:"txSig,omitempty"`
	Hash      string  `json:"hash,omitempty"`
	Source    string  `json:"source,omitempty"`
	Note      string  `json:"note,omitempty"`

	Meta *Meta `json:"-"`
}

// hashable is the subset of fields that participate in Transaction.Hash,
// matching spec.md §3's "canonical JSON of transaction with {meta, txSig,
// hash} removed".
type hashable struct {
	Timestamp int64   `json:"timestamp"`
	Src       string  `json:"src"`
	Dest      string  `json:"dest"`
	Amount    float64 `json:"amount"`
	Token     string  `json:"token"`
	Fee       float64 `json:"fee"`
	Type      Type    `json:"type"`
	Seq       uint64  `json:"seq"`
	Source    string  `json:"source,omitempty"`
	Note      string  `json:"note,omitempty"`
}

func (t *Transaction) hashableForm() hashable {
	return hashable{
		Timestamp: t.Timestamp,
		Src:       t.Src,
		Dest:      t.Dest,
		Amount:    t.Amount,
		Token:     t.Token,
		Fee:       t.Fee,
		Type:      t.Type,
		Seq:       t.Seq,
		Source:    t.Source,
		Note:      t.Note,
	}
}

// ComputeHashRaw returns the raw 32-byte digest of the transaction's
// hashable form.
func (t *Transaction) ComputeHashRaw() ([32]byte, error) {
	return crypto.HashRaw(t.hashableForm())
}

// ComputeHash returns base58(ComputeHashRaw()).
func (t *Transaction) ComputeHash() (string, error) {
	return crypto.Hash(t.hashableForm())
}
