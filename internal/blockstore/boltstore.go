package blockstore

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	bucketBlocks = []byte("blocks")    // index(8 bytes big-endian) -> cbor(Block)
	bucketHashes = []byte("hashes")    // hash string -> index(8 bytes big-endian)
	bucketMeta   = []byte("meta")      // "tip" -> index(8 bytes big-endian)
)

// BoltStore is the fast lookup/ancestor-walk index layered over the
// on-disk block files — the canonical form stays the JSON/zstd file
// written by WriteFile; BoltStore only accelerates hash→block and
// ancestor-chain queries, grounded on the teacher's
// internal/sharechain.BoltStore (bbolt db with block/hash/meta buckets),
// generalized from a 32-byte share-hash key to this domain's hex block
// hash and int64 index keys.
type BoltStore struct {
	db  *bolt.DB
	log *zap.Logger
}

// NewBoltStore opens (or creates) the bbolt database at path.
func NewBoltStore(path string, log *zap.Logger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open block index db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketHashes, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init block index buckets: %w", err)
	}
	return &BoltStore{db: db, log: log}, nil
}

func indexKey(index int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(index))
	return buf
}

func decodeIndexKey(buf []byte) int64 {
	return int64(binary.BigEndian.Uint64(buf))
}

// Add indexes a block by its hash and index, rejecting a hash already
// present (spec.md §4.4's "never delete from the hash index" rule applies
// equally here — a block hash is assigned once).
func (s *BoltStore) Add(b *Block) error {
	data, err := cbor.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", b.Index, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		hashes := tx.Bucket(bucketHashes)
		if hashes.Get([]byte(b.Hash)) != nil {
			return fmt.Errorf("block hash %s already indexed", b.Hash)
		}
		key := indexKey(b.Index)
		if err := tx.Bucket(bucketBlocks).Put(key, data); err != nil {
			return err
		}
		return hashes.Put([]byte(b.Hash), key)
	})
}

func decodeBlock(data []byte) (*Block, error) {
	var b Block
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return &b, nil
}

// Get resolves a block by its hash.
func (s *BoltStore) Get(hash string) (*Block, bool) {
	var out *Block
	_ = s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketHashes).Get([]byte(hash))
		if key == nil {
			return nil
		}
		data := tx.Bucket(bucketBlocks).Get(key)
		if data == nil {
			return nil
		}
		b, err := decodeBlock(data)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, out != nil
}

// GetByIndex resolves a block by its height.
func (s *BoltStore) GetByIndex(index int64) (*Block, bool) {
	var out *Block
	_ = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBlocks).Get(indexKey(index))
		if data == nil {
			return nil
		}
		b, err := decodeBlock(data)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, out != nil
}

// Count returns the number of indexed blocks.
func (s *BoltStore) Count() int {
	n := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketBlocks).Stats().KeyN
		return nil
	})
	return n
}

// SetTip records the current chain tip by hash.
func (s *BoltStore) SetTip(hash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketHashes).Get([]byte(hash))
		if key == nil {
			return fmt.Errorf("cannot set tip to unindexed hash %s", hash)
		}
		return tx.Bucket(bucketMeta).Put([]byte("tip"), key)
	})
}

// Tip returns the block at the current tip pointer, if one has been set.
func (s *BoltStore) Tip() (*Block, bool) {
	var out *Block
	_ = s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketMeta).Get([]byte("tip"))
		if key == nil {
			return nil
		}
		data := tx.Bucket(bucketBlocks).Get(key)
		if data == nil {
			return nil
		}
		b, err := decodeBlock(data)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, out != nil
}

// GetAncestors walks backward from hash via prevHash, up to limit blocks
// (spec.md §4.8's locator / chain-audit ancestor search), in increasing-
// index order (oldest first).
func (s *BoltStore) GetAncestors(hash string, limit int) []*Block {
	var out []*Block
	_ = s.db.View(func(tx *bolt.Tx) error {
		hashes := tx.Bucket(bucketHashes)
		blocks := tx.Bucket(bucketBlocks)
		cur := hash
		for i := 0; i < limit; i++ {
			key := hashes.Get([]byte(cur))
			if key == nil {
				break
			}
			data := blocks.Get(key)
			if data == nil {
				break
			}
			b, err := decodeBlock(data)
			if err != nil {
				return err
			}
			out = append(out, b)
			if b.Index == 0 {
				break
			}
			cur = b.PrevHash
		}
		return nil
	})
	// reverse into oldest-first order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Truncate drops every indexed block with index >= fromIndex, and the
// hash-index entries that pointed at them — used during a forced chain
// rollback (spec.md §4.6).
func (s *BoltStore) Truncate(fromIndex int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		hashes := tx.Bucket(bucketHashes)
		c := blocks.Cursor()
		var toDelete [][]byte
		for k, v := c.Seek(indexKey(fromIndex)); k != nil; k, v = c.Next() {
			b, err := decodeBlock(v)
			if err != nil {
				return err
			}
			toDelete = append(toDelete, append([]byte{}, k...))
			if err := hashes.Delete([]byte(b.Hash)); err != nil {
				return err
			}
		}
		for _, k := range toDelete {
			if err := blocks.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the underlying bbolt handle.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
