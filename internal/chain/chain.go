// Package chain implements C6: the blockchain engine — genesis bootstrap,
// block preparation, the mining-reward/difficulty schedule, block audit and
// commit, and fork resolution with partial rollback and transaction
// re-injection. Grounded on the teacher's internal/sharechain.Chain (an
// append-only in-memory array over a BoltStore, with a Validator doing
// dry-run checks before a share is accepted), generalized from PoW shares
// to fully-audited, ledger-mutating blocks.
package chain

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridianchain/ledgerd/internal/blockstore"
	"github.com/meridianchain/ledgerd/internal/crypto"
	"github.com/meridianchain/ledgerd/internal/ledgertx"
	"github.com/meridianchain/ledgerd/internal/mempool"
	"github.com/meridianchain/ledgerd/internal/nodeerr"
	"github.com/meridianchain/ledgerd/internal/wallet"
)

// Config carries the chain engine's deployment parameters (SPEC_FULL.md §A,
// spec.md §7's node configuration surface).
type Config struct {
	NodeName            string
	DataPath            string
	BaseToken           string
	ProtocolVersion     int
	GenesisIssue        float64
	CompressBlockFiles  bool
	NodeTimestampWindow time.Duration
}

// Chain is the append-only in-memory block array plus its collaborators.
// The only forced mutation of the array is Truncate during AddChain's
// forceOverwrite rollback (spec.md §4.6, §5's SYNC_CHAIN exclusivity).
type Chain struct {
	mu sync.RWMutex

	cfg     Config
	wallets *wallet.Store
	handler *ledgertx.Handler
	pool    *mempool.Pool
	index   *blockstore.BoltStore
	log     *zap.Logger

	blocks []*blockstore.Block
}

// New constructs a Chain over already-open collaborators. Call Bootstrap
// before using it.
func New(cfg Config, wallets *wallet.Store, handler *ledgertx.Handler, pool *mempool.Pool, index *blockstore.BoltStore, log *zap.Logger) *Chain {
	return &Chain{cfg: cfg, wallets: wallets, handler: handler, pool: pool, index: index, log: log}
}

// MiningReward returns round(100/2^floor(height/10), 6) — the block reward
// at height (spec.md §4.6).
func MiningReward(height int64) float64 {
	halvings := height / 10
	reward := 100.0
	for i := int64(0); i < halvings; i++ {
		reward /= 2
	}
	return round6(reward)
}

// Difficulty returns min(2+floor(height/10), 5) — the PoW difficulty at
// height (spec.md §4.6).
func Difficulty(height int64) int {
	d := 2 + int(height/10)
	if d > 5 {
		d = 5
	}
	return d
}

func round6(v float64) float64 {
	return float64(int64(v*1e6+0.5)) / 1e6
}

// Height returns the number of blocks committed, including genesis.
func (c *Chain) Height() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.blocks))
}

// Tip returns the current chain tip, or nil if Bootstrap hasn't run yet.
func (c *Chain) Tip() *blockstore.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tipLocked()
}

func (c *Chain) tipLocked() *blockstore.Block {
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[len(c.blocks)-1]
}

// BlockAt returns the block at index, or nil if out of range.
func (c *Chain) BlockAt(index int64) *blockstore.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= int64(len(c.blocks)) {
		return nil
	}
	return c.blocks[index]
}

func (c *Chain) blockPath(index int64) string {
	return blockstore.FilePath(c.cfg.DataPath, c.cfg.NodeName, index, c.cfg.CompressBlockFiles)
}

// Bootstrap reads blocks by increasing index from disk until a file is
// missing. A block already present in the bbolt index was committed by a
// prior run of this same node — its wallet effects are already reflected
// in the persisted address book, so it is appended to the in-memory chain
// array as-is, without a second ledger apply. A block file present but
// absent from the index (a fresh index, or the very first run) is
// committed the normal way. If no block 0 exists at all, a genesis block
// is synthesized, audited, and written.
func (c *Chain) Bootstrap() error {
	for i := int64(0); ; i++ {
		path := c.blockPath(i)
		if !blockstore.Exists(path) {
			break
		}
		b, err := blockstore.ReadFile(path)
		if err != nil {
			return fmt.Errorf("bootstrap: read block %d: %w", i, err)
		}

		if _, alreadyIndexed := c.index.Get(b.Hash); alreadyIndexed {
			c.mu.Lock()
			c.blocks = append(c.blocks, b)
			c.mu.Unlock()
			continue
		}
		if err := c.commitExisting(b); err != nil {
			return fmt.Errorf("bootstrap: replay block %d: %w", i, err)
		}
	}

	if len(c.blocks) > 0 {
		return nil
	}
	return c.synthesizeGenesis()
}

func (c *Chain) synthesizeGenesis() error {
	genesisTx := &ledgertx.Transaction{
		Timestamp: time.Now().Unix(),
		Src:       "_mint",
		Dest:      "_mint",
		Amount:    c.cfg.GenesisIssue,
		Token:     c.cfg.BaseToken,
		Type:      ledgertx.TypeMintIssue,
	}
	if err := c.handler.Sign(genesisTx); err != nil {
		return fmt.Errorf("%w: %v", nodeerr.ErrGenesisUnwritable, err)
	}

	root, err := crypto.MerkleRoot([]string{genesisTx.Hash})
	if err != nil {
		return fmt.Errorf("%w: %v", nodeerr.ErrGenesisUnwritable, err)
	}
	genesis := &blockstore.Block{
		Index:        0,
		PrevHash:     "",
		Version:      c.cfg.ProtocolVersion,
		Timestamp:    time.Now().Unix(),
		MinerName:    c.cfg.NodeName,
		MerkleRoot:   root,
		Transactions: []*ledgertx.Transaction{genesisTx},
	}
	if err := genesis.Seal(); err != nil {
		return fmt.Errorf("%w: %v", nodeerr.ErrGenesisUnwritable, err)
	}

	if err := c.AddBlock(genesis); err != nil {
		return fmt.Errorf("%w: %v", nodeerr.ErrGenesisUnwritable, err)
	}
	c.log.Info("synthesized genesis block", zap.Float64("genesisIssue", c.cfg.GenesisIssue), zap.String("baseToken", c.cfg.BaseToken))
	return nil
}

// PrepareBlock assembles (without committing) a candidate block over
// transactions, for the miner orchestrator to dispatch to a PoW worker
// (spec.md §4.6 prepare_block).
func (c *Chain) PrepareBlock(transactions []*ledgertx.Transaction) (*blockstore.Block, error) {
	c.mu.RLock()
	tip := c.tipLocked()
	c.mu.RUnlock()
	if tip == nil {
		return nil, nodeerr.New(nodeerr.KindChainMismatch, "cannot prepare a block before genesis is bootstrapped")
	}

	hashes := make([]string, len(transactions))
	for i, tx := range transactions {
		hashes[i] = tx.Hash
	}
	var root string
	if len(hashes) > 0 {
		var err error
		root, err = crypto.MerkleRoot(hashes)
		if err != nil {
			return nil, fmt.Errorf("merkle root: %w", err)
		}
	}

	return &blockstore.Block{
		Index:        tip.Index + 1,
		PrevHash:     tip.Hash,
		Version:      c.cfg.ProtocolVersion,
		Timestamp:    time.Now().Unix(),
		MinerName:    c.cfg.NodeName,
		MerkleRoot:   root,
		Transactions: transactions,
	}, nil
}
