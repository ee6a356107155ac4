package p2p

import (
	"context"

	"github.com/meridianchain/ledgerd/internal/blockstore"
	"github.com/meridianchain/ledgerd/internal/ledgertx"
)

// fakeClient is a hand-written Client double for sync/node tests, in the
// teacher's mock_rpc.go style (a struct of canned responses/errors rather
// than a generated mock).
type fakeClient struct {
	announceResp map[string]AnnounceResponse
	announceErr  map[string]error

	refsByPeer   map[string][]BlockRef
	blocksByPeer map[string][]*blockstore.Block

	announceBlockCalls []*blockstore.Block
	announceTxCalls    []*ledgertx.Transaction
	announceCalls      int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		announceResp: map[string]AnnounceResponse{},
		announceErr:  map[string]error{},
		refsByPeer:   map[string][]BlockRef{},
		blocksByPeer: map[string][]*blockstore.Block{},
	}
}

func (f *fakeClient) Announce(_ context.Context, peerAddr string, _ Peer) (AnnounceResponse, error) {
	f.announceCalls++
	if err, ok := f.announceErr[peerAddr]; ok {
		return AnnounceResponse{}, err
	}
	return f.announceResp[peerAddr], nil
}

func (f *fakeClient) BlockRefs(_ context.Context, peerAddr string, fromIndex int64) ([]BlockRef, error) {
	all := f.refsByPeer[peerAddr]
	var out []BlockRef
	for _, r := range all {
		if r.Index >= fromIndex {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeClient) Blocks(_ context.Context, peerAddr string, fromIndex int64) ([]*blockstore.Block, error) {
	all := f.blocksByPeer[peerAddr]
	var out []*blockstore.Block
	for _, b := range all {
		if b.Index >= fromIndex {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeClient) AnnounceBlock(_ context.Context, _ string, b *blockstore.Block) (AnnounceOutcome, error) {
	f.announceBlockCalls = append(f.announceBlockCalls, b)
	return AnnounceOutcome{Accepted: true}, nil
}

func (f *fakeClient) AnnounceTransaction(_ context.Context, _ string, tx *ledgertx.Transaction) (AnnounceOutcome, error) {
	f.announceTxCalls = append(f.announceTxCalls, tx)
	return AnnounceOutcome{Accepted: true}, nil
}

var _ Client = (*fakeClient)(nil)
