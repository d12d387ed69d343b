package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transaction outcomes recorded by the pipeline.
const (
	OutcomeCommitted     = "committed"
	OutcomeRolledBack    = "rolled_back"
	OutcomeCommitFailed  = "commit_failed"
	OutcomeAcquireFailed = "acquire_failed"
	OutcomeBeginFailed   = "begin_failed"
)

// TxMetrics holds the Prometheus collectors for request transactions.
// A nil *TxMetrics records nothing.
type TxMetrics struct {
	Transactions *prometheus.CounterVec
	Duration     prometheus.Histogram
}

// NewTxMetrics registers the transaction collectors on reg.
func NewTxMetrics(reg prometheus.Registerer) *TxMetrics {
	factory := promauto.With(reg)
	return &TxMetrics{
		Transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "patients_db_transactions_total",
			Help: "Request transactions by outcome",
		}, []string{"outcome"}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "patients_db_transaction_duration_seconds",
			Help:    "Time from begin to commit or rollback of a request transaction",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *TxMetrics) observe(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(outcome).Inc()
	if !started.IsZero() {
		m.Duration.Observe(time.Since(started).Seconds())
	}
}
