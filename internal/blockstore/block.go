// Package blockstore implements C3: the in-memory block record, its
// deterministic hash, per-index block file read/write, and a bbolt-backed
// index (block-hash→block, tip pointer, ancestor walk) grounded on the
// teacher's internal/sharechain.BoltStore (generalized from a single
// 32-byte share hash keyed store to the hex block-hash keyed store this
// domain needs).
package blockstore

import (
	"fmt"

	"github.com/meridianchain/ledgerd/internal/crypto"
	"github.com/meridianchain/ledgerd/internal/ledgertx"
	"github.com/meridianchain/ledgerd/pkg/util"
)

// Block is the spec.md §3 record. PowTime is local operator bookkeeping —
// persisted to the block file (SPEC_FULL.md §C.2) but excluded
// from the hash.
type Block struct {
	Index        int64                  `json:"index"`
	PrevHash     string                 `json:"prevHash"`
	Version      int                    `json:"version"`
	Timestamp    int64                  `json:"timestamp"`
	MinerName    string                 `json:"minerName"`
	MerkleRoot   string                 `json:"merkleRoot"`
	Nonce        uint64                 `json:"nonce"`
	Transactions []*ledgertx.Transaction `json:"transactions"`
	Hash         string                 `json:"hash"`
	PowTime      int64                  `json:"powTime,omitempty"`
}

// hashableForm is the field set CalcHash covers — everything but Hash and
// PowTime (spec.md §3).
func (b *Block) hashableForm() []interface{} {
	return []interface{}{
		b.Index, b.PrevHash, b.Version, b.Timestamp, b.MinerName,
		b.MerkleRoot, b.Nonce, b.Transactions,
	}
}

// CalcHash returns the hex SHA-256 digest of the block's hashable fields
// (spec.md §4.3) — hex, not base58, unlike a transaction hash: blocks are
// gated by leading-zero hex nibbles (I2), so the hash needs to be read as
// hex directly.
func (b *Block) CalcHash() (string, error) {
	digest, err := crypto.HashRaw(b.hashableForm())
	if err != nil {
		return "", fmt.Errorf("calc block hash: %w", err)
	}
	return util.BytesToHex(digest[:]), nil
}

// Mine searches for a nonce, starting at startNonce, whose resulting hash
// has exactly difficulty leading zero hex characters (I2 — exact gating,
// not "at least"). If iterations > 0, Mine stops and returns solved=false
// after that many tries, leaving b.Nonce positioned to resume — supporting
// the spec's chunked cooperative-mining mode (spec.md §4.7).
func (b *Block) Mine(difficulty int, startNonce uint64, iterations int) (solved bool, err error) {
	b.Nonce = startNonce
	tried := 0
	for {
		hash, err := b.CalcHash()
		if err != nil {
			return false, err
		}
		if util.MeetsExactDifficulty(hash, difficulty) {
			b.Hash = hash
			return true, nil
		}
		b.Nonce++
		tried++
		if iterations > 0 && tried >= iterations {
			return false, nil
		}
	}
}

// Seal recomputes and assigns Hash without nonce search — used once a
// solved nonce (or a system-generated genesis block at difficulty 0) is
// already known.
func (b *Block) Seal() error {
	hash, err := b.CalcHash()
	if err != nil {
		return err
	}
	b.Hash = hash
	return nil
}

// Verify reports whether b.Hash matches its recomputed CalcHash — used on
// file load and on incoming peer blocks alike.
func (b *Block) Verify() (bool, error) {
	hash, err := b.CalcHash()
	if err != nil {
		return false, err
	}
	return hash == b.Hash, nil
}
