package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type EscrowMetrics struct {
	transitions    *prometheus.CounterVec
	failures       *prometheus.CounterVec
	valueMoved     *prometheus.CounterVec
	ledgerCredited prometheus.Counter
	notices        *prometheus.CounterVec
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// Escrow returns the process-wide escrow collectors, registering them on
// first use.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_transitions_total",
				Help: "Committed escrow transitions by operation.",
			}, []string{"op"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_failures_total",
				Help: "Rejected escrow operations by operation and error code.",
			}, []string{"op", "code"}),
			valueMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_value_moved_total",
				Help: "Native value moved by escrow transitions, by direction.",
			}, []string{"direction"}),
			ledgerCredited: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_credited_total",
				Help: "Native value credited to ledger accounts from external deposits.",
			}),
			notices: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_expiry_notices_total",
				Help: "Expiry notices published by the worker, by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			escrowRegistry.transitions,
			escrowRegistry.failures,
			escrowRegistry.valueMoved,
			escrowRegistry.ledgerCredited,
			escrowRegistry.notices,
		)
	})
	return escrowRegistry
}

func (m *EscrowMetrics) ObserveTransition(op string, direction string, amount uint64) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(op).Inc()
	if direction != "" && amount > 0 {
		m.valueMoved.WithLabelValues(direction).Add(float64(amount))
	}
}

func (m *EscrowMetrics) ObserveFailure(op, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "internal"
	}
	m.failures.WithLabelValues(op, code).Inc()
}

func (m *EscrowMetrics) ObserveCredit(amount uint64) {
	if m == nil {
		return
	}
	m.ledgerCredited.Add(float64(amount))
}

func (m *EscrowMetrics) ObserveNotice(kind string) {
	if m == nil {
		return
	}
	m.notices.WithLabelValues(kind).Inc()
}
