// Package config holds the node-wide tunables named in the wire protocol and
// mining schedule. Loading these from the environment is out of scope; a
// Config is constructed by the (unimplemented) edge layer and passed into
// every component constructor, the same way the teacher threads its
// *zap.Logger and bitcoin.BitcoinRPC through constructors.
package config

import "time"

// BaseToken is the default unit-of-account token name.
const BaseToken = "COIN$"

// Config carries every tunable spec.md §6 names as a field, with defaults
// matching the spec's literal constants.
type Config struct {
	// NodeName identifies this node as a miner/sender (e.g. "alice").
	NodeName string

	// DataPath is the root directory under which {DataPath}/{NodeName}/
	// holds this node's block files.
	DataPath string

	// WalletPath is the directory containing wallet.json.
	WalletPath string

	// HeartbeatInterval is how often this node pings all known peers.
	HeartbeatInterval time.Duration

	// OnlineDelay is the grace period after startup before a node is
	// considered reachable by peers (avoids flapping during boot).
	OnlineDelay time.Duration

	// NodeTimestampTolerance bounds how far a peer's clock may drift from
	// ours before it is treated as skewed (KindPeerSkewed).
	NodeTimestampTolerance time.Duration

	// MiningTryInterval is how often the orchestrator attempts to pull a
	// candidate batch from the mempool while READY.
	MiningTryInterval time.Duration

	// MaxPendingPerUser caps how many mempool entries a single sender may
	// have outstanding at once (spec.md §4.4, default 16).
	MaxPendingPerUser int

	// PendingTransactionStale is the age past which a queued transaction is
	// purged by the stale-mempool sweep.
	PendingTransactionStale time.Duration

	// BlockchainPrivateKey, if set, lets this node sign on behalf of
	// wallets whose privateKey it holds locally.
	BlockchainPrivateKey string

	// UserWallet names the wallet this node mines rewards into.
	UserWallet string

	// BlockMinTransactions/BlockMaxTransactions bound the batch the
	// orchestrator pulls per mining attempt (spec.md §4.8).
	BlockMinTransactions int
	BlockMaxTransactions int

	// FeeCap and FeePercent implement the fee policy in spec.md §4.5:
	// fee = min(FeeCap, max(offeredFee, amount*FeePercent/100)).
	FeeCap     float64
	FeePercent float64

	// GenesisIssue is the amount of BaseToken minted to _mint at genesis.
	GenesisIssue float64

	// ProtocolVersion is stamped into every prepared block.
	ProtocolVersion int

	// CompressBlockFiles enables zstd compression of written block files.
	CompressBlockFiles bool
}

// Default returns a Config populated with spec.md's literal defaults.
func Default() Config {
	return Config{
		HeartbeatInterval:       30 * time.Second,
		OnlineDelay:             10 * time.Second,
		NodeTimestampTolerance:  2 * time.Hour,
		MiningTryInterval:       5 * time.Second,
		MaxPendingPerUser:       16,
		PendingTransactionStale: 10 * time.Minute,
		BlockMinTransactions:    1,
		BlockMaxTransactions:    10,
		FeeCap:                  1.0,
		FeePercent:              1.0,
		GenesisIssue:            1_000_000_000,
		ProtocolVersion:         1,
	}
}
