// Package metrics holds the prometheus collectors of the ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ledger"

// Metrics groups the ledger collectors.
type Metrics struct {
	Transactions      *prometheus.CounterVec // by kind and outcome
	Transfers         *prometheus.CounterVec // by terminal saga state
	IdempotentReplays *prometheus.CounterVec // by operation
	Compensations     prometheus.Counter
	RecoveredSagas    prometheus.Counter
	ReconScans        prometheus.Counter
	ReconAccounts     prometheus.Counter
	ReconMismatches   prometheus.Counter
	ReconDuration     prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Transactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Deposits and withdrawals by outcome.",
		}, []string{"kind", "outcome"}),
		Transfers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Transfers by terminal saga state.",
		}, []string{"state"}),
		IdempotentReplays: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotent_replays_total",
			Help:      "Requests answered from a stored idempotency result.",
		}, []string{"operation"}),
		Compensations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_compensations_total",
			Help:      "Transfer debits reversed after a failed credit.",
		}),
		RecoveredSagas: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_recovered_total",
			Help:      "Orphaned transfer debits closed by the recovery sweep.",
		}),
		ReconScans: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_scans_total",
			Help:      "Completed reconciliation scans.",
		}),
		ReconAccounts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_accounts_checked_total",
			Help:      "Accounts compared against the projection.",
		}),
		ReconMismatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_mismatches_total",
			Help:      "Confirmed mismatches between the ledger and the projection.",
		}),
		ReconDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconciliation_scan_duration_seconds",
			Help:      "Duration of one reconciliation scan.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
