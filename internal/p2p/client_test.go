package p2p

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/meridianchain/ledgerd/internal/blockstore"
)

func TestHTTPClientAnnounceRoundTrip(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("NodeToken")
		var req AnnounceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Self.NodeName != "caller" {
			t.Fatalf("self.nodeName = %q, want caller", req.Self.NodeName)
		}
		_ = json.NewEncoder(w).Encode(AnnounceResponse{
			Self:  Peer{Hostname: r.Host, NodeName: "responder"},
			Peers: []Peer{{Hostname: "other:8080"}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient("secret-token", zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Announce(ctx, srv.URL, Peer{NodeName: "caller"})
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if resp.Self.NodeName != "responder" {
		t.Fatalf("resp.Self.NodeName = %q, want responder", resp.Self.NodeName)
	}
	if len(resp.Peers) != 1 || resp.Peers[0].Hostname != "other:8080" {
		t.Fatalf("resp.Peers = %+v", resp.Peers)
	}
	if gotToken != "secret-token" {
		t.Fatalf("NodeToken header = %q, want secret-token", gotToken)
	}
}

func TestHTTPClientBlockRefs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "hashes" {
			t.Fatalf("missing type=hashes query param: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(blockRefsResult{
			Result: []BlockRef{{Index: 1, Hash: "aa"}, {Index: 2, Hash: "bb"}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient("tok", zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	refs, err := c.BlockRefs(ctx, srv.URL, 1)
	if err != nil {
		t.Fatalf("BlockRefs: %v", err)
	}
	if len(refs) != 2 || refs[1].Hash != "bb" {
		t.Fatalf("refs = %+v", refs)
	}
}

func TestHTTPClientBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(blocksResult{
			Result: []*blockstore.Block{{Index: 2, Hash: "bb"}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient("tok", zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	blocks, err := c.Blocks(ctx, srv.URL, 2)
	if err != nil {
		t.Fatalf("Blocks: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Index != 2 {
		t.Fatalf("blocks = %+v", blocks)
	}
}

func TestHTTPClientAnnounceBlockAndTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(AnnounceOutcome{Accepted: true})
	}))
	defer srv.Close()

	c := NewHTTPClient("tok", zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	outcome, err := c.AnnounceBlock(ctx, srv.URL, &blockstore.Block{Index: 1})
	if err != nil {
		t.Fatalf("AnnounceBlock: %v", err)
	}
	if !outcome.Accepted {
		t.Fatalf("AnnounceBlock outcome not accepted")
	}
}

func TestHTTPClientSurfacesServerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient("tok", zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := c.Blocks(ctx, srv.URL, 0); err == nil {
		t.Fatalf("expected error on 500 response")
	}
}
