package wallet

import (
	"encoding/json"
	"testing"
)

func TestWalletJSONRoundTrip(t *testing.T) {
	w := &Wallet{
		Name:      "alice",
		PublicKey: "examplepublickey45charslong000000000000001",
		CreatedAt: 1700000000,
		Seq:       Seq{Tx: 3, OnChain: 2},
		Tokens: map[string]*TokenSlot{
			"COIN$": {
				Tx:      View{Amount: 10, Balance: 90},
				OnChain: OnChainView{Amount: 5, Balance: 95, HistoryIdx: []int64{4, 3, 2}},
			},
		},
	}

	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Wallet
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.Name != w.Name || got.PublicKey != w.PublicKey || got.CreatedAt != w.CreatedAt {
		t.Fatalf("fixed fields did not round-trip: got %+v", got)
	}
	if got.Seq != w.Seq {
		t.Fatalf("seq did not round-trip: got %+v want %+v", got.Seq, w.Seq)
	}
	slot, ok := got.Tokens["COIN$"]
	if !ok {
		t.Fatalf("token slot COIN$ missing after round trip: %+v", got.Tokens)
	}
	if slot.OnChain.Balance != 95 || len(slot.OnChain.HistoryIdx) != 3 {
		t.Fatalf("token slot did not round-trip: %+v", slot)
	}
}

func TestWalletJSONOmitsPrivateKeyWhenEmpty(t *testing.T) {
	w := &Wallet{Name: "bob", PublicKey: "pk", Tokens: map[string]*TokenSlot{}}
	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := generic["privateKey"]; ok {
		t.Fatalf("privateKey should be omitted when empty, got %s", data)
	}
}

func TestOnChainHistoryCapsAtTen(t *testing.T) {
	v := &OnChainView{}
	for i := int64(0); i < 15; i++ {
		v.PushHistory(i)
	}
	if len(v.HistoryIdx) != maxHistoryIdx {
		t.Fatalf("history length = %d, want %d", len(v.HistoryIdx), maxHistoryIdx)
	}
	if v.HistoryIdx[0] != 14 {
		t.Fatalf("most recent entry should be first, got %d", v.HistoryIdx[0])
	}
}

func TestWalletCloneIsIndependent(t *testing.T) {
	w := &Wallet{
		Name: "alice",
		Tokens: map[string]*TokenSlot{
			"COIN$": {OnChain: OnChainView{Balance: 10, HistoryIdx: []int64{1}}},
		},
	}
	clone := w.Clone()
	clone.Tokens["COIN$"].OnChain.Balance = 999
	clone.Tokens["COIN$"].OnChain.HistoryIdx[0] = 999

	if w.Tokens["COIN$"].OnChain.Balance == 999 {
		t.Fatalf("mutating clone balance affected original")
	}
	if w.Tokens["COIN$"].OnChain.HistoryIdx[0] == 999 {
		t.Fatalf("mutating clone history affected original")
	}
}
