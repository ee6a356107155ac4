// Package testutil provides deterministic fixtures shared across this
// repo's package-level tests — keypairs, signed transactions, and blocks
// built the same way real code builds them, so tests exercise the actual
// hashing/signing path rather than a hand-assembled shortcut.
//
// Grounded on the teacher's testutil/fixtures.go (SampleBlockTemplate/
// SampleShare/SampleShareChain builders for its own domain types).
package testutil

import (
	"time"

	"github.com/meridianchain/ledgerd/internal/blockstore"
	"github.com/meridianchain/ledgerd/internal/crypto"
	"github.com/meridianchain/ledgerd/internal/ledgertx"
)

// BaseToken is the token symbol used throughout this repo's fixtures.
const BaseToken = "COIN$"

// SampleKeyPair generates an Ed25519 identity for tests that need a real
// signer rather than a wallet-store-backed one.
func SampleKeyPair() *crypto.KeyPair {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		panic(err) // GenerateKeyPair only fails if crypto/rand itself fails
	}
	return kp
}

// SampleTransaction builds an unsigned transfer with placeholder amounts,
// for tests that only need a structurally valid transaction to feed to
// CalcHash/Sign or to a function that ignores its exact content.
func SampleTransaction(src, dest string, amount float64, seq uint64) *ledgertx.Transaction {
	return &ledgertx.Transaction{
		Timestamp: 1700000000,
		Src:       src,
		Dest:      dest,
		Amount:    amount,
		Token:     BaseToken,
		Fee:       0,
		Type:      ledgertx.TypeTransfer,
		Seq:       seq,
	}
}

// SignedTransfer builds and signs a transfer, delegating hashing and
// signature production to handler.Sign so the fixture exercises the same
// path real callers use (handler resolves src's locally-held private key
// via its wallet store — src must already exist there, e.g. via
// wallet.Store.Generate).
func SignedTransfer(handler *ledgertx.Handler, src, dest string, amount, fee float64, seq uint64) (*ledgertx.Transaction, error) {
	tx := SampleTransaction(src, dest, amount, seq)
	tx.Fee = fee
	if err := handler.Sign(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// SampleBlock returns a minimal, unsolved block at the given index chained
// off prevHash — callers needing a solved block should follow up with
// b.Mine(difficulty, 0, 0).
func SampleBlock(index int64, prevHash, minerName string, transactions []*ledgertx.Transaction) *blockstore.Block {
	return &blockstore.Block{
		Index:        index,
		PrevHash:     prevHash,
		Version:      1,
		Timestamp:    time.Now().Unix(),
		MinerName:    minerName,
		Transactions: transactions,
	}
}

// SampleChain builds a linear run of count blocks, each mined to difficulty,
// starting from genesis (index 0, empty prevHash).
func SampleChain(count int, difficulty int, minerName string) ([]*blockstore.Block, error) {
	blocks := make([]*blockstore.Block, count)
	prevHash := ""
	for i := 0; i < count; i++ {
		b := SampleBlock(int64(i), prevHash, minerName, nil)
		if _, err := b.Mine(difficulty, 0, 0); err != nil {
			return nil, err
		}
		blocks[i] = b
		prevHash = b.Hash
	}
	return blocks, nil
}
