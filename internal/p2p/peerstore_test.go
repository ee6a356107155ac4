package p2p

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestPeerStore(t *testing.T) *PeerStore {
	t.Helper()
	s, err := NewPeerStore(filepath.Join(t.TempDir(), "peers.db"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewPeerStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPeerStoreUpsertAndGet(t *testing.T) {
	s := newTestPeerStore(t)
	if err := s.Upsert(Peer{Hostname: "node-a:8080", NodeName: "a", BlockchainHeight: 3}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, ok := s.Get("node-a:8080")
	if !ok {
		t.Fatalf("Get: not found")
	}
	if got.NodeName != "a" || got.BlockchainHeight != 3 {
		t.Fatalf("Get returned %+v", got)
	}
}

func TestPeerStoreAllAndRemove(t *testing.T) {
	s := newTestPeerStore(t)
	_ = s.Upsert(Peer{Hostname: "a"})
	_ = s.Upsert(Peer{Hostname: "b"})
	if len(s.All()) != 2 {
		t.Fatalf("All() len = %d, want 2", len(s.All()))
	}
	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(s.All()) != 1 {
		t.Fatalf("All() after Remove len = %d, want 1", len(s.All()))
	}
	if _, ok := s.Get("a"); ok {
		t.Fatalf("Get(a) still found after Remove")
	}
}

func TestPeerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.db")
	log := zaptest.NewLogger(t)

	s1, err := NewPeerStore(path, log)
	if err != nil {
		t.Fatalf("NewPeerStore: %v", err)
	}
	if err := s1.Upsert(Peer{Hostname: "node-a:8080", NodeName: "a"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := NewPeerStore(path, log)
	if err != nil {
		t.Fatalf("reopen NewPeerStore: %v", err)
	}
	defer s2.Close()
	got, ok := s2.Get("node-a:8080")
	if !ok || got.NodeName != "a" {
		t.Fatalf("peer did not survive reopen: %+v, ok=%v", got, ok)
	}
}

func TestPeerStoreLimiterIsStablePerHostname(t *testing.T) {
	s := newTestPeerStore(t)
	l1 := s.Limiter("node-a")
	l2 := s.Limiter("node-a")
	if l1 != l2 {
		t.Fatalf("Limiter returned different instances for the same hostname")
	}
	l3 := s.Limiter("node-b")
	if l1 == l3 {
		t.Fatalf("Limiter returned the same instance for different hostnames")
	}
}

func TestPeerStoreBackoffWidensMultiplicatively(t *testing.T) {
	s := newTestPeerStore(t)
	base := 10 * time.Millisecond

	if s.ShouldSkip("flaky", base) {
		t.Fatalf("a peer with no recorded failures should never be skipped")
	}

	s.RecordFailure("flaky")
	if !s.ShouldSkip("flaky", base) {
		t.Fatalf("expected a peer to back off immediately after a failure")
	}

	st := s.backoffs["flaky"]
	if st.consecutiveFailures != 1 {
		t.Fatalf("consecutiveFailures = %d, want 1", st.consecutiveFailures)
	}

	s.RecordFailure("flaky")
	want := backoffDuration(base, 2)
	if want <= backoffDuration(base, 1) {
		t.Fatalf("backoffDuration(base, 2) = %v should exceed backoffDuration(base, 1) = %v", want, backoffDuration(base, 1))
	}

	s.RecordSuccess("flaky")
	if s.ShouldSkip("flaky", base) {
		t.Fatalf("expected backoff to clear after a recorded success")
	}
	if _, ok := s.backoffs["flaky"]; ok {
		t.Fatalf("expected backoff state to be removed after success")
	}
}

func TestBackoffDurationCapsAt60Seconds(t *testing.T) {
	if got := backoffDuration(time.Second, 0); got != time.Second {
		t.Fatalf("backoffDuration(base, 0) = %v, want base unchanged", got)
	}
	if got := backoffDuration(time.Second, 1); got != time.Second {
		t.Fatalf("backoffDuration(base, 1) = %v, want base unchanged", got)
	}
	if got := backoffDuration(time.Second, 20); got != 60*time.Second {
		t.Fatalf("backoffDuration(base, 20) = %v, want capped at 60s", got)
	}
}
