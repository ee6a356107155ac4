package nodeerr

import "errors"

// Plumbing failures: file I/O, codec errors, startup faults. Wrapped with
// fmt.Errorf("...: %w", err) at the call site rather than carried as a
// *LedgerError, matching how the teacher handles its own bbolt/file errors.
var (
	ErrWalletFileCorrupt  = errors.New("wallet file is corrupt or unreadable")
	ErrBlockFileTampered  = errors.New("block file hash does not match recomputed hash")
	ErrBlockFileExists    = errors.New("block file already exists")
	ErrGenesisUnwritable  = errors.New("unable to create genesis block")
	ErrNoCommonAncestor   = errors.New("no common ancestor found with peer within search window")
)
