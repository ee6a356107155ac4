package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/meridianchain/ledgerd/internal/crypto"
	"github.com/meridianchain/ledgerd/internal/nodeerr"
)

// Store is the address book: {publicKey → wallet}, persisted as a single
// JSON file rewritten on every update. It is the only mutable shared
// structure in the node (spec.md §5); every method is safe for concurrent
// use, though the design assumes a single-threaded event loop calls in.
type Store struct {
	mu    sync.RWMutex
	path  string
	log   *zap.Logger
	books map[string]*Wallet // keyed by the resolved storage key (pubkey or system name)
	names map[string]string  // friendly name -> storage key, for address-book lookups
}

// NewStore opens (or initializes) the address book at path.
func NewStore(path string, log *zap.Logger) (*Store, error) {
	s := &Store{
		path:  path,
		log:   log,
		books: make(map[string]*Wallet),
		names: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read wallet file: %w", err)
	}
	var raw map[string]*Wallet
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", nodeerr.ErrWalletFileCorrupt, err)
	}
	for key, w := range raw {
		s.books[key] = w
		if w.Name != "" {
			s.names[w.Name] = key
		}
	}
	s.log.Info("wallet address book loaded", zap.Int("count", len(s.books)), zap.String("path", s.path))
	return nil
}

// persistLocked rewrites the whole address book to disk. Callers must hold
// s.mu for writing.
func (s *Store) persistLocked() error {
	data, err := json.Marshal(s.books)
	if err != nil {
		return fmt.Errorf("marshal wallet file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create wallet dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write wallet tmp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename wallet tmp file: %w", err)
	}
	return nil
}

// resolveKeyLocked resolves name to a storage key. Accepts: a system account
// name ("COIN$", "_mint"), a canonical "name:publicKey" address, a bare
// 45-char public key, or a name already present in the address book.
// Caller must hold s.mu (read or write).
func (s *Store) resolveKeyLocked(name string) (key string, err error) {
	if crypto.IsSystemAccount(name) {
		return name, nil
	}
	if idx := strings.LastIndex(name, ":"); idx >= 0 {
		_, pk, perr := crypto.ParseAddress(name)
		if perr != nil {
			return "", perr
		}
		return pk, nil
	}
	if len(name) == crypto.AddressLen {
		if !crypto.VerifyChecksum(name) {
			return "", crypto.ErrBadChecksum
		}
		return name, nil
	}
	if key, ok := s.names[name]; ok {
		return key, nil
	}
	return "", fmt.Errorf("%w: %q", errUnknownWalletName, name)
}

// errUnknownWalletName marks resolveKeyLocked's "plain name, never
// registered" case specifically, as distinct from a malformed address or bad
// checksum — callers that are allowed to mint a wallet on first reference
// (GetUser with autoCreate, Update, Snapshot) use the name itself as the
// storage key in this case; every other resolution failure still propagates.
var errUnknownWalletName = errors.New("unknown wallet name")

// GetPublicKey resolves name to its public key (or system account name),
// validating checksum where applicable. It does not create anything.
func (s *Store) GetPublicKey(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveKeyLocked(name)
}

// GetUser resolves name to its wallet, creating one with a BASE_TOKEN slot
// initialized if autoCreate is true and no wallet exists yet.
func (s *Store) GetUser(name string, autoCreate bool, baseToken string) (*Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.resolveKeyLocked(name)
	if err != nil {
		if !errors.Is(err, errUnknownWalletName) || !autoCreate {
			return nil, err
		}
		// A plain name nobody has registered yet: autoCreate mints a
		// wallet keyed by the name itself.
		key = name
	}

	if w, ok := s.books[key]; ok {
		return w, nil
	}
	if !autoCreate {
		return nil, fmt.Errorf("wallet %q not found", name)
	}

	w := &Wallet{
		Name:      name,
		PublicKey: key,
		CreatedAt: time.Now().Unix(),
		Tokens:    map[string]*TokenSlot{baseToken: {}},
	}
	s.books[key] = w
	if w.Name != "" {
		s.names[w.Name] = key
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	s.log.Debug("wallet created on first reference", zap.String("name", name), zap.String("key", key))
	return w, nil
}

// Generate creates a fresh Ed25519 keypair and registers a named wallet for
// it, rejecting if the name is already taken.
func (s *Store) Generate(name string, baseToken string) (*Wallet, *crypto.KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.names[name]; exists {
		return nil, nil, fmt.Errorf("wallet name %q already exists", name)
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("generate keypair: %w", err)
	}

	// The node holds the private key locally so it can sign on this
	// wallet's behalf (spec.md §3: present only where the holder trusts
	// this node for signing; never transmitted over the wire).
	w := &Wallet{
		Name:       name,
		PublicKey:  kp.PublicKey,
		PrivateKey: base58.Encode(kp.PrivateKey),
		CreatedAt:  time.Now().Unix(),
		Tokens:     map[string]*TokenSlot{baseToken: {}},
	}

	s.books[kp.PublicKey] = w
	s.names[name] = kp.PublicKey
	if err := s.persistLocked(); err != nil {
		return nil, nil, err
	}
	s.log.Info("generated wallet", zap.String("name", name), zap.String("publicKey", kp.PublicKey))
	return w, kp, nil
}

// Update applies a mutator to the wallet resolved from name (creating one if
// missing), then persists the whole address book.
func (s *Store) Update(name string, baseToken string, mutate func(w *Wallet)) (*Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.resolveKeyLocked(name)
	if err != nil {
		if !errors.Is(err, errUnknownWalletName) {
			return nil, err
		}
		key = name
	}
	w, ok := s.books[key]
	if !ok {
		w = &Wallet{
			Name:      name,
			PublicKey: key,
			CreatedAt: time.Now().Unix(),
			Tokens:    map[string]*TokenSlot{baseToken: {}},
		}
		s.books[key] = w
		if w.Name != "" {
			s.names[w.Name] = key
		}
	}
	mutate(w)
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

// Snapshot deep-copies the wallets resolved from names, for a later Restore.
// A name with no wallet yet (including one that resolveKeyLocked can't
// resolve because nobody has registered it) is still recorded, as a nil
// entry, so Restore can tell "didn't exist before" from "existed and
// changed" and delete whatever a dry run minted under it.
func (s *Store) Snapshot(names []string) map[string]*Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[string]*Wallet, len(names))
	for _, name := range names {
		key, err := s.resolveKeyLocked(name)
		if err != nil {
			if !errors.Is(err, errUnknownWalletName) {
				continue
			}
			key = name
		}
		if w, ok := s.books[key]; ok {
			snap[key] = w.Clone()
		} else {
			snap[key] = nil
		}
	}
	return snap
}

// Restore overwrites the live wallets with their snapshotted copies,
// discarding whatever a dry-run audit did to them — including deleting any
// wallet the dry run minted where Snapshot found none — and persists the
// result.
func (s *Store) Restore(snap map[string]*Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range snap {
		if w == nil {
			if existing, ok := s.books[key]; ok {
				delete(s.books, key)
				if existing.Name != "" {
					delete(s.names, existing.Name)
				}
			}
			continue
		}
		s.books[key] = w
		if w.Name != "" {
			s.names[w.Name] = key
		}
	}
	return s.persistLocked()
}

// ResyncTxView overwrites every token slot's speculative tx view (and the
// tx sequence counter) with the confirmed onChain view — used by the
// mempool once a sender has no remaining queued transactions, so a stale
// speculative balance left over from a purged transaction doesn't linger
// (spec.md §4.4 purge_stale).
func (s *Store) ResyncTxView(name string) error {
	_, err := s.Update(name, "", func(w *Wallet) {
		for _, slot := range w.Tokens {
			slot.Tx.Amount = slot.OnChain.Amount
			slot.Tx.Balance = slot.OnChain.Balance
		}
		w.Seq.Tx = w.Seq.OnChain
	})
	return err
}

// Reset wipes the entire address book and persists the empty state — used
// during a forced chain rollback (spec.md §4.6), which rebuilds every
// wallet's balance and sequence state by replaying the retained chain from
// scratch.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books = make(map[string]*Wallet)
	s.names = make(map[string]string)
	return s.persistLocked()
}

// Balance is a per-token summary returned by Balances, never exposing
// PrivateKey.
type Balance struct {
	Name       string                `json:"name"`
	PublicKey  string                `json:"publicKey"`
	Seq        Seq                   `json:"seq"`
	Tokens     map[string]*TokenSlot `json:"tokens"`
}

// Balances returns per-token summaries for the wallets resolved from names
// (or every known wallet, if names is empty).
func (s *Store) Balances(names []string) ([]Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := names
	if len(keys) == 0 {
		keys = make([]string, 0, len(s.books))
		for key := range s.books {
			keys = append(keys, key)
		}
	}

	out := make([]Balance, 0, len(keys))
	for _, name := range keys {
		key, err := s.resolveKeyLocked(name)
		if err != nil {
			return nil, err
		}
		w, ok := s.books[key]
		if !ok {
			continue
		}
		out = append(out, Balance{
			Name:      w.Name,
			PublicKey: w.PublicKey,
			Seq:       w.Seq,
			Tokens:    w.Tokens,
		})
	}
	return out, nil
}
