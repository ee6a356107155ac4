package testutil

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/meridianchain/ledgerd/internal/wallet"
)

// NewTestWalletStore opens a wallet.Store rooted at a fresh t.TempDir(),
// logging through zaptest so failures attribute log lines to the test.
func NewTestWalletStore(t *testing.T) (*wallet.Store, *zap.Logger) {
	t.Helper()
	log := zaptest.NewLogger(t)
	ws, err := wallet.NewStore(filepath.Join(t.TempDir(), "wallet.json"), log)
	if err != nil {
		t.Fatalf("wallet.NewStore: %v", err)
	}
	return ws, log
}

// GenerateFunded creates a wallet for name and seeds both its tx and
// onChain balances for token, returning the fully resolved *wallet.Wallet.
func GenerateFunded(t *testing.T, ws *wallet.Store, name, token string, balance float64) *wallet.Wallet {
	t.Helper()
	if _, _, err := ws.Generate(name, token); err != nil {
		t.Fatalf("Generate(%s): %v", name, err)
	}
	if _, err := ws.Update(name, token, func(w *wallet.Wallet) {
		w.Slot(token).OnChain.Balance = balance
		w.Slot(token).Tx.Balance = balance
	}); err != nil {
		t.Fatalf("seed balance for %s: %v", name, err)
	}
	w, err := ws.GetUser(name, false, token)
	if err != nil {
		t.Fatalf("GetUser(%s): %v", name, err)
	}
	return w
}
