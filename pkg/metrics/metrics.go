package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "payout"

var (
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Transfer attempts by action and resulting status.",
		},
		[]string{"action", "status"},
	)

	TransfersSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_skipped_total",
			Help:      "Participant payouts skipped before reaching the ledger.",
		},
		[]string{"reason"},
	)

	LedgerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_requests_total",
			Help:      "Ledger API calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	LedgerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_request_duration_seconds",
			Help:      "Ledger API call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"operation"},
	)

	CampaignRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaign_runs_total",
			Help:      "Campaign payout runs by outcome.",
		},
		[]string{"outcome"},
	)

	CampaignRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "campaign_run_duration_seconds",
			Help:      "Wall time of a single campaign payout run.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"outcome"},
	)

	SweepRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_rows_total",
			Help:      "Transfers retried by the reconciliation sweeper.",
		},
		[]string{"pass", "status"},
	)

	HouseBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "house_balance",
			Help:      "House ledger account balance per token.",
		},
		[]string{"symbol", "kind"},
	)
)
