package p2p

import (
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var bucketPeers = []byte("peers") // hostname -> cbor(Peer)

// maxPeerLimiters caps the in-memory rate-limiter map, evicting an
// arbitrary entry past the bound — grounded on the teacher's
// pubsub.go getPeerLimiter eviction.
const maxPeerLimiters = 512

// PeerStore is the persisted known-peer table: hostname -> last-seen Peer
// record, surviving node restarts. Grounded on the teacher's
// internal/sharechain.BoltStore bbolt-bucket layout (blockstore.BoltStore in
// this repo), generalized from block indexing to peer bookkeeping; cbor is
// the same encoding the rest of this repo uses for bbolt values.
//
// It also owns the per-peer rate.Limiter map gating outbound announce/sync
// traffic to any one peer, grounded on the teacher's pubsub.go
// peerLimiters/getPeerLimiter (there gating inbound gossip messages; here
// gating how often this node will dial a given peer).
type PeerStore struct {
	db  *bolt.DB
	log *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	backoffs map[string]*backoffState
}

// backoffState tracks one peer's consecutive heartbeat failures, in memory
// only (like limiters, not persisted to bbolt) — grounded on the teacher's
// work/generator.go pollLoop, whose consecutiveFailures/lastFailureTime
// locals gate retries against a single Bitcoin RPC target; generalized here
// to one such state per peer.
type backoffState struct {
	consecutiveFailures int
	lastFailureTime     time.Time
}

// NewPeerStore opens (or creates) the bbolt database at path.
func NewPeerStore(path string, log *zap.Logger) (*PeerStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open peer store db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPeers)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init peer bucket: %w", err)
	}
	return &PeerStore{
		db:       db,
		log:      log,
		limiters: make(map[string]*rate.Limiter),
		backoffs: make(map[string]*backoffState),
	}, nil
}

// Upsert records the latest known state for a peer, keyed by hostname.
func (s *PeerStore) Upsert(p Peer) error {
	data, err := cbor.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode peer %s: %w", p.Hostname, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).Put([]byte(p.Hostname), data)
	})
}

// Get resolves a single peer by hostname.
func (s *PeerStore) Get(hostname string) (Peer, bool) {
	var out Peer
	found := false
	_ = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPeers).Get([]byte(hostname))
		if data == nil {
			return nil
		}
		if err := cbor.Unmarshal(data, &out); err != nil {
			return err
		}
		found = true
		return nil
	})
	return out, found
}

// Remove de-peers a hostname (spec.md §4.9: no common ancestor within the
// search window de-peers the node).
func (s *PeerStore) Remove(hostname string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).Delete([]byte(hostname))
	})
}

// All returns every known peer, in no particular order.
func (s *PeerStore) All() []Peer {
	var out []Peer
	_ = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).ForEach(func(_, v []byte) error {
			var p Peer
			if err := cbor.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	return out
}

// Limiter returns the shared rate.Limiter for a hostname, creating one
// (10 events/sec, burst 20, matching the teacher's pubsub.go constants) on
// first use. Past maxPeerLimiters entries, an arbitrary existing one is
// evicted first.
func (s *PeerStore) Limiter(hostname string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lim, ok := s.limiters[hostname]; ok {
		return lim
	}
	if len(s.limiters) >= maxPeerLimiters {
		for k := range s.limiters {
			delete(s.limiters, k)
			break
		}
	}
	lim := rate.NewLimiter(10, 20)
	s.limiters[hostname] = lim
	return lim
}

// ShouldSkip reports whether hostname is still within its backoff window —
// spec.md §5's "failed peers ... are back-off pinged with multiplicative
// spacing," implemented with the teacher's capped-exponential
// backoffDuration shape, seeded from base (this node's HEARTBEAT_INTERVAL)
// in place of the teacher's fixed PollInterval.
func (s *PeerStore) ShouldSkip(hostname string, base time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.backoffs[hostname]
	if !ok || st.consecutiveFailures == 0 {
		return false
	}
	return time.Since(st.lastFailureTime) < backoffDuration(base, st.consecutiveFailures)
}

// RecordFailure widens hostname's backoff window by one step.
func (s *PeerStore) RecordFailure(hostname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.backoffs[hostname]
	if !ok {
		if len(s.backoffs) >= maxPeerLimiters {
			for k := range s.backoffs {
				delete(s.backoffs, k)
				break
			}
		}
		st = &backoffState{}
		s.backoffs[hostname] = st
	}
	st.consecutiveFailures++
	st.lastFailureTime = time.Now()
}

// RecordSuccess clears hostname's backoff state after a successful ping.
func (s *PeerStore) RecordSuccess(hostname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backoffs, hostname)
}

// backoffDuration computes exponential backoff capped at 60s, matching the
// teacher's work/generator.go backoffDuration exactly except that it is
// seeded from base rather than a fixed PollInterval.
func backoffDuration(base time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return base
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d > 60*time.Second {
			return 60 * time.Second
		}
	}
	return d
}

// Close releases the underlying bbolt handle.
func (s *PeerStore) Close() error {
	return s.db.Close()
}
