package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks the state machine hosted by the node.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	records    prometheus.Gauge
	height     prometheus.Gauge
	rollbacks  prometheus.Counter
	audits     *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Count of ledger operations by operation and outcome.",
			}, []string{"operation", "outcome"}),
			records: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "ledger_records",
				Help: "Number of ledger records in the committed state.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "ledger_state_height",
				Help: "Number of committed state transitions.",
			}),
			rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_rollbacks_total",
				Help: "Count of calls whose writes were rolled back.",
			}),
			audits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_index_audits_total",
				Help: "Count of key index audits by result.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.records,
			ledgerRegistry.height,
			ledgerRegistry.rollbacks,
			ledgerRegistry.audits,
		)
	})
	return ledgerRegistry
}

// ObserveOperation records the outcome of a state operation. Errors are
// labelled "rejected" when they match one of the expected sentinels and
// "failed" otherwise.
func (m *LedgerMetrics) ObserveOperation(operation string, err error, expected ...error) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "failed"
		for _, sentinel := range expected {
			if errors.Is(err, sentinel) {
				outcome = "rejected"
				break
			}
		}
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// SetRecords updates the record count gauge.
func (m *LedgerMetrics) SetRecords(n uint64) {
	if m == nil {
		return
	}
	m.records.Set(float64(n))
}

// SetHeight updates the committed height gauge.
func (m *LedgerMetrics) SetHeight(h uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(h))
}

// RecordRollback counts a discarded call.
func (m *LedgerMetrics) RecordRollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

// RecordAudit counts an index audit.
func (m *LedgerMetrics) RecordAudit(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "corrupted"
	}
	m.audits.WithLabelValues(result).Inc()
}
