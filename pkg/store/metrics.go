package store

import (
	"time"

	"github.com/dyluth/retro/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for store activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	TransactionsTotal   *prometheus.CounterVec
	TransactionDuration *prometheus.HistogramVec
	ConflictsTotal      *prometheus.CounterVec
	EventsPublished     *prometheus.CounterVec
	LocksExpired        prometheus.Counter
}

// NewMetrics creates the store collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TransactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retro_store_transactions_total",
				Help: "Board transactions by backend and outcome (commit, read, error)",
			},
			[]string{"backend", "outcome"},
		),
		TransactionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "retro_store_transaction_duration_seconds",
				Help:    "Duration of board transactions including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		ConflictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retro_store_transaction_conflicts_total",
				Help: "Optimistic transaction conflicts that caused a retry",
			},
			[]string{"backend"},
		),
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retro_store_events_published_total",
				Help: "Board change events published by type",
			},
			[]string{"type"},
		),
		LocksExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "retro_store_locks_expired_total",
				Help: "Editing locks released by expiry",
			},
		),
	}
}

// RecordTransaction records one finished transaction.
func (m *Metrics) RecordTransaction(backend, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TransactionsTotal.WithLabelValues(backend, outcome).Inc()
	m.TransactionDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordConflict records a retried conflict.
func (m *Metrics) RecordConflict(backend string) {
	if m == nil {
		return
	}
	m.ConflictsTotal.WithLabelValues(backend).Inc()
}

// RecordEvent records a published event.
func (m *Metrics) RecordEvent(t events.MessageType) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(string(t)).Inc()
}

// RecordLockExpired records locks released by expiry.
func (m *Metrics) RecordLockExpired(n int) {
	if m == nil {
		return
	}
	m.LocksExpired.Add(float64(n))
}

const (
	outcomeCommit = "commit"
	outcomeRead   = "read"
	outcomeError  = "error"
)
