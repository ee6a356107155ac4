// Package mempool implements C4: the unconfirmed-transaction queue and its
// hash index. Grounded on the teacher's internal/sharechain in-memory
// share-pool shape (a mutex-guarded map plus an ordered slice, persisted
// incrementally to bbolt) generalized from PoW shares awaiting inclusion in
// a share-chain to signed transactions awaiting inclusion in a block.
package mempool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/meridianchain/ledgerd/internal/crypto"
	"github.com/meridianchain/ledgerd/internal/ledgertx"
	"github.com/meridianchain/ledgerd/internal/metrics"
	"github.com/meridianchain/ledgerd/internal/nodeerr"
	"github.com/meridianchain/ledgerd/internal/wallet"
)

// HashEntry is the hash-index value: index == -1 means "queued, not yet
// committed"; index >= 0 means "committed to that block" (spec.md §4.4).
type HashEntry struct {
	Index     int64
	CreatedAt int64
}

var (
	bucketPending   = []byte("pending")   // hash -> cbor(Transaction), while Index == -1
	bucketCommitted = []byte("committed") // hash -> 8-byte blockIndex, permanent
)

// Pool is the single mempool instance: one hash index, one ordered queue.
// bbolt persistence covers restart survival of both buckets; the in-memory
// queue order is rebuilt from the pending bucket on load (not preserved
// exactly — GetMinerSorted always re-sorts, so insertion order carries no
// semantic weight once restored).
type Pool struct {
	mu sync.Mutex

	// submitMu serializes Submit's sign/enforce/apply/admit sequence, so two
	// concurrent submissions for the same sender can't both pass
	// EnforceBalance/EnforceSequence against the same pre-apply view.
	submitMu sync.Mutex

	db  *bolt.DB
	log *zap.Logger

	wallets           *wallet.Store
	baseToken         string
	maxPendingPerUser int

	hashIndex map[string]*HashEntry
	queue     []*ledgertx.Transaction
}

// New opens (or creates) the mempool's bbolt-backed persistence at path and
// rebuilds in-memory state from it.
func New(path string, wallets *wallet.Store, baseToken string, maxPendingPerUser int, log *zap.Logger) (*Pool, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open mempool db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketPending, bucketCommitted} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init mempool buckets: %w", err)
	}

	p := &Pool{
		db:                db,
		log:               log,
		wallets:           wallets,
		baseToken:         baseToken,
		maxPendingPerUser: maxPendingPerUser,
		hashIndex:         make(map[string]*HashEntry),
	}
	if err := p.load(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pool) load() error {
	return p.db.View(func(tx *bolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		if err := pending.ForEach(func(_, v []byte) error {
			var t ledgertx.Transaction
			if err := cbor.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("decode pending transaction: %w", err)
			}
			createdAt := int64(0)
			if t.Meta != nil {
				createdAt = t.Meta.QueueTime
			}
			p.queue = append(p.queue, &t)
			p.hashIndex[t.Hash] = &HashEntry{Index: -1, CreatedAt: createdAt}
			return nil
		}); err != nil {
			return err
		}
		committed := tx.Bucket(bucketCommitted)
		return committed.ForEach(func(k, v []byte) error {
			var idx int64
			if err := cbor.Unmarshal(v, &idx); err != nil {
				return fmt.Errorf("decode committed index: %w", err)
			}
			p.hashIndex[string(k)] = &HashEntry{Index: idx}
			return nil
		})
	})
}

func (p *Pool) persistPendingLocked(tx *ledgertx.Transaction) error {
	data, err := cbor.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode pending transaction: %w", err)
	}
	return p.db.Update(func(bt *bolt.Tx) error {
		return bt.Bucket(bucketPending).Put([]byte(tx.Hash), data)
	})
}

func (p *Pool) persistCommitLocked(hash string, blockIndex int64) error {
	data, err := cbor.Marshal(blockIndex)
	if err != nil {
		return err
	}
	return p.db.Update(func(bt *bolt.Tx) error {
		if err := bt.Bucket(bucketPending).Delete([]byte(hash)); err != nil {
			return err
		}
		return bt.Bucket(bucketCommitted).Put([]byte(hash), data)
	})
}

func (p *Pool) persistDeleteLocked(hash string) error {
	return p.db.Update(func(bt *bolt.Tx) error {
		return bt.Bucket(bucketPending).Delete([]byte(hash))
	})
}

// Exists reports whether hash is present in the hash index, in either the
// pending or committed state.
func (p *Pool) Exists(hash string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.hashIndex[hash]
	return ok
}

// FindBlockIndex returns the committed block index for hash, or -1 with
// found=false if hash is unknown; pending-only hashes report (-1, true).
func (p *Pool) FindBlockIndex(hash string) (index int64, found bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.hashIndex[hash]
	if !ok {
		return -1, false
	}
	return e.Index, true
}

// UpdateBlockIdx transitions a hash-index entry per spec.md §4.4: undef→idx,
// -1→idx≥0; rejects idx≥0→-1 and idx1→idx2≠idx1.
func (p *Pool) UpdateBlockIdx(hash string, idx int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updateBlockIdxLocked(hash, idx)
}

func (p *Pool) updateBlockIdxLocked(hash string, idx int64) error {
	e, ok := p.hashIndex[hash]
	if !ok {
		p.hashIndex[hash] = &HashEntry{Index: idx, CreatedAt: time.Now().Unix()}
		return nil
	}
	if e.Index == idx {
		return nil
	}
	if e.Index >= 0 {
		return nodeerr.New(nodeerr.KindInputRejected, "hash %s already committed to block %d, cannot move to %d", hash, e.Index, idx)
	}
	if idx < 0 {
		return nodeerr.New(nodeerr.KindInputRejected, "hash %s cannot transition back to pending", hash)
	}
	e.Index = idx
	return nil
}

func (p *Pool) pendingCountLocked(src string) int {
	n := 0
	for _, tx := range p.queue {
		if tx.Src == src {
			n++
		}
	}
	return n
}

// StakedMinerFor returns the miner name already staking a pending
// transaction for src, or "" if none is queued. Submit callers use this to
// populate AttachPendingWarning's stakedByNode when a gossip race lands a
// second transaction for the same sender on a different miner (spec.md
// §4.5's meta warning).
func (p *Pool) StakedMinerFor(src string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tx := range p.queue {
		if tx.Src == src && tx.Meta != nil && tx.Meta.Miner != "" {
			return tx.Meta.Miner
		}
	}
	return ""
}

// Add admits tx to the queue: rejects a duplicate hash, rejects if src
// already has maxPendingPerUser transactions pending, stamps
// meta.queueTime/meta.miner, and persists.
func (p *Pool) Add(tx *ledgertx.Transaction, miner string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, exists := p.hashIndex[tx.Hash]; exists {
		err := nodeerr.DuplicateHash(tx.Hash, e.Index)
		metrics.TransactionsRejected.WithLabelValues(string(err.Kind)).Inc()
		return err
	}
	if !crypto.IsSystemAccount(tx.Src) {
		if n := p.pendingCountLocked(tx.Src); n >= p.maxPendingPerUser {
			err := nodeerr.New(nodeerr.KindQuotaExceeded, "sender %s already has %d pending transactions (max %d)", tx.Src, n, p.maxPendingPerUser)
			metrics.TransactionsRejected.WithLabelValues(string(nodeerr.KindQuotaExceeded)).Inc()
			return err
		}
	}

	now := time.Now().Unix()
	if tx.Meta == nil {
		tx.Meta = &ledgertx.Meta{}
	}
	tx.Meta.QueueTime = now
	tx.Meta.Miner = miner

	if err := p.persistPendingLocked(tx); err != nil {
		return err
	}
	p.queue = append(p.queue, tx)
	p.hashIndex[tx.Hash] = &HashEntry{Index: -1, CreatedAt: now}
	metrics.TransactionsAdmitted.WithLabelValues(string(tx.Type)).Inc()
	metrics.MempoolSize.Set(float64(len(p.queue)))
	return nil
}

// Requeue forcibly re-admits tx as pending even if its hash was previously
// marked committed — used only when a forced chain rollback drops the
// block that had committed it, so it can be re-mined against the new chain
// (spec.md §4.6). The ordinary duplicate-hash and transition checks in Add
// deliberately don't apply here.
func (p *Pool) Requeue(tx *ledgertx.Transaction, miner string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().Unix()
	if tx.Meta == nil {
		tx.Meta = &ledgertx.Meta{}
	}
	tx.Meta.QueueTime = now
	tx.Meta.Miner = miner

	if err := p.persistPendingLocked(tx); err != nil {
		return err
	}
	p.queue = append(p.queue, tx)
	p.hashIndex[tx.Hash] = &HashEntry{Index: -1, CreatedAt: now}
	return nil
}

// MinerSortOpts parameterizes GetMinerSorted.
type MinerSortOpts struct {
	Miner           string
	MaxTransactions int
}

// typeOrder ranks transaction types for block assembly (spec.md §4.4):
// issuance-like transactions first, transfers and deposits in the middle,
// then the system-generated miningFees/miningReward records the blockchain
// engine appends last.
func typeOrder(t ledgertx.Type) int {
	switch t {
	case ledgertx.TypeMintIssue:
		return 0
	case ledgertx.TypeMintAirDrop:
		return 2
	case ledgertx.TypeMinerDeposit:
		return 3
	case ledgertx.TypeMiningFees:
		return 9
	case ledgertx.TypeMiningReward:
		return 10
	default:
		return 3
	}
}

// GetMinerSorted returns the pending transactions staked by opts.Miner,
// ordered by typeOrder, then timestamp, then src, then seq, enforcing
// per-sender sequentiality against each sender's onChain.seq: a
// transaction whose seq has already been superseded is dropped from the
// queue (unreachable now; its speculative tx-view effect from Submit is not
// reversed), one ahead of the expected next seq is deferred (skipped this
// round, left in the queue).
func (p *Pool) GetMinerSorted(opts MinerSortOpts) ([]*ledgertx.Transaction, error) {
	p.mu.Lock()
	var candidates []*ledgertx.Transaction
	for _, tx := range p.queue {
		if tx.Meta != nil && tx.Meta.Miner == opts.Miner {
			candidates = append(candidates, tx)
		}
	}
	p.mu.Unlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if oa, ob := typeOrder(a.Type), typeOrder(b.Type); oa != ob {
			return oa < ob
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.Src != b.Src {
			return a.Src < b.Src
		}
		return a.Seq < b.Seq
	})

	emitted := make(map[string]uint64)
	var toDrop []string
	out := make([]*ledgertx.Transaction, 0, len(candidates))
	for _, tx := range candidates {
		if opts.MaxTransactions > 0 && len(out) >= opts.MaxTransactions {
			break
		}
		if crypto.IsSystemAccount(tx.Src) {
			out = append(out, tx)
			continue
		}
		w, err := p.wallets.GetUser(tx.Src, true, p.baseToken)
		if err != nil {
			return nil, err
		}
		next := w.Seq.OnChain + 1 + emitted[tx.Src]
		switch {
		case tx.Seq < next:
			toDrop = append(toDrop, tx.Hash)
		case tx.Seq > next:
			// deferred: a gap remains, skip this round without dropping.
		default:
			out = append(out, tx)
			emitted[tx.Src]++
		}
	}

	if len(toDrop) > 0 {
		p.Delete(toDrop...)
	}
	return out, nil
}

// Delete removes matching queue entries, along with any hash-index entry
// that was still pending (idx == -1); a committed entry's hash-index record
// is never removed (spec.md §4.4 — immutable once committed).
func (p *Pool) Delete(hashes ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range hashes {
		p.deleteLocked(h)
	}
	metrics.MempoolSize.Set(float64(len(p.queue)))
}

func (p *Pool) deleteLocked(hash string) {
	for i, tx := range p.queue {
		if tx.Hash == hash {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
	if e, ok := p.hashIndex[hash]; ok && e.Index == -1 {
		delete(p.hashIndex, hash)
		_ = p.persistDeleteLocked(hash)
	}
}

// Commit migrates hash's mempool entry to blockIndex and removes it from
// the queue (spec.md §4.3: "on block commit its mempool entry is migrated
// to blockIdx=N and removed from the queue; never deleted from the hash
// index thereafter").
func (p *Pool) Commit(hash string, blockIndex int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.updateBlockIdxLocked(hash, blockIndex); err != nil {
		return err
	}
	for i, tx := range p.queue {
		if tx.Hash == hash {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
	metrics.MempoolSize.Set(float64(len(p.queue)))
	return p.persistCommitLocked(hash, blockIndex)
}

// PurgeStale deletes queue entries whose queueTime predates cutoff, then
// resyncs the tx view for any sender left with no remaining pending
// transactions (spec.md §4.4), so a stale speculative balance doesn't
// linger once its transaction is gone.
func (p *Pool) PurgeStale(cutoff time.Time) error {
	cutoffUnix := cutoff.Unix()

	p.mu.Lock()
	var toDelete []string
	affected := make(map[string]bool)
	for _, tx := range p.queue {
		if tx.Meta != nil && tx.Meta.QueueTime < cutoffUnix {
			toDelete = append(toDelete, tx.Hash)
			affected[tx.Src] = true
		}
	}
	for _, h := range toDelete {
		p.deleteLocked(h)
	}
	metrics.MempoolSize.Set(float64(len(p.queue)))
	remaining := make(map[string]bool)
	for _, tx := range p.queue {
		remaining[tx.Src] = true
	}
	p.mu.Unlock()

	for src := range affected {
		if remaining[src] || crypto.IsSystemAccount(src) {
			continue
		}
		if err := p.wallets.ResyncTxView(src); err != nil {
			return fmt.Errorf("resync tx view for %s: %w", src, err)
		}
	}
	return nil
}

// Len reports the number of transactions currently queued.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close releases the underlying bbolt handle.
func (p *Pool) Close() error {
	return p.db.Close()
}
