// Package nodeerr defines the typed error kinds surfaced by every component
// back to the (out-of-scope) HTTP edge. Protocol-level rejections use
// *LedgerError so callers can branch on Kind without string-matching, in the
// same shape as the teacher's sharechain.ValidationError. Internal plumbing
// failures (file I/O, codec errors) use plain wrapped sentinel errors below.
package nodeerr

import "fmt"

// Kind identifies one of the rejection categories named in the external
// interface contract.
type Kind string

const (
	KindInputRejected        Kind = "InputRejected"
	KindSignatureInvalid     Kind = "SignatureInvalid"
	KindSequenceGap          Kind = "SequenceGap"
	KindInsufficientFunds    Kind = "InsufficientFunds"
	KindDuplicateHash        Kind = "DuplicateHash"
	KindQuotaExceeded        Kind = "QuotaExceeded"
	KindChainMismatch        Kind = "ChainMismatch"
	KindPoWInvalid           Kind = "PoWInvalid"
	KindTimestampOutOfWindow Kind = "TimestampOutOfWindow"
	KindAuditFailed          Kind = "AuditFailed"
	KindPeerUnreachable      Kind = "PeerUnreachable"
	KindPeerSkewed           Kind = "PeerSkewed"
)

// LedgerError is the structured error returned by every ledger/chain/mempool
// operation that can be rejected for a protocol reason.
type LedgerError struct {
	Kind   Kind
	Reason string

	// Optional structured context, populated only by the constructors that
	// need it (SequenceGap, InsufficientFunds, DuplicateHash, AuditFailed).
	Expected     *uint64
	Balance      *float64
	BlockIndex   *int64
	OffendingTx  string
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func New(kind Kind, reason string, args ...interface{}) *LedgerError {
	return &LedgerError{Kind: kind, Reason: fmt.Sprintf(reason, args...)}
}

func SequenceGap(expected uint64, got uint64) *LedgerError {
	e := New(KindSequenceGap, "expected seq %d, got %d", expected, got)
	e.Expected = &expected
	return e
}

func InsufficientFunds(balance, needed float64) *LedgerError {
	e := New(KindInsufficientFunds, "balance %.6f is less than required %.6f", balance, needed)
	e.Balance = &balance
	return e
}

func DuplicateHash(hash string, blockIndex int64) *LedgerError {
	e := New(KindDuplicateHash, "hash %s already assigned to block %d", hash, blockIndex)
	e.BlockIndex = &blockIndex
	e.OffendingTx = hash
	return e
}

func AuditFailed(offendingTx string, reason string) *LedgerError {
	e := New(KindAuditFailed, "%s", reason)
	e.OffendingTx = offendingTx
	return e
}

// KindOf reports the error kind, so callers can branch without a type switch.
func (e *LedgerError) KindOf() Kind { return e.Kind }
