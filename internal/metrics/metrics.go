// Package metrics exposes the node's Prometheus surface. Registration and
// the /metrics handler are ambient (carried regardless of spec.md's non-goal
// on HTTP route dispatch) — wiring Handler into an actual mux is left to the
// caller, same as the teacher leaves its own Handler unwired to any router.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledgerd",
		Name:      "chain_height",
		Help:      "Number of blocks committed, including genesis.",
	})

	ChainDifficulty = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledgerd",
		Name:      "chain_difficulty",
		Help:      "Proof-of-work difficulty (required leading zero hex chars) at the current tip.",
	})

	MempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledgerd",
		Name:      "mempool_size",
		Help:      "Number of transactions currently pending in the mempool.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledgerd",
		Name:      "peers_connected",
		Help:      "Number of known P2P peers.",
	})

	LastBlockTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledgerd",
		Name:      "last_block_timestamp_seconds",
		Help:      "Unix timestamp of the most recently committed block.",
	})

	BlocksMined = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerd",
		Name:      "blocks_mined_total",
		Help:      "Total blocks this node mined and committed locally.",
	})

	BlocksReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerd",
		Name:      "blocks_received_total",
		Help:      "Total blocks committed via peer announce or sync rather than local mining.",
	})

	MiningAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerd",
		Name:      "mining_attempts_total",
		Help:      "Total times the orchestrator dispatched a Worker to search for a block.",
	})

	MiningSuccesses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerd",
		Name:      "mining_successes_total",
		Help:      "Total times a dispatched Worker found a solving nonce.",
	})

	TransactionsAdmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledgerd",
		Name:      "transactions_admitted_total",
		Help:      "Mempool admissions by transaction type.",
	}, []string{"type"})

	TransactionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledgerd",
		Name:      "transactions_rejected_total",
		Help:      "Mempool rejections by error kind.",
	}, []string{"kind"})

	SyncAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledgerd",
		Name:      "peer_sync_total",
		Help:      "Longest-chain sync attempts by outcome.",
	}, []string{"outcome"})

	UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledgerd",
		Name:      "uptime_seconds",
		Help:      "Node uptime in seconds.",
	})
)

func init() {
	prometheus.MustRegister(
		ChainHeight,
		ChainDifficulty,
		MempoolSize,
		PeersConnected,
		LastBlockTimestamp,
		BlocksMined,
		BlocksReceived,
		MiningAttempts,
		MiningSuccesses,
		TransactionsAdmitted,
		TransactionsRejected,
		SyncAttempts,
		UptimeSeconds,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
