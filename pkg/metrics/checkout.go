package metrics

import "github.com/prometheus/client_golang/prometheus"

// CheckoutMetrics counts settlement and gateway reconciliation outcomes.
type CheckoutMetrics struct {
	settlements     *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
}

// NewCheckoutMetrics registers the checkout counters on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_settlements_total",
		Help: "Settlement attempts by path, payment method and outcome.",
	}, []string{"path", "method", "outcome"})
	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_reconciliations_total",
		Help: "Gateway callbacks by channel and outcome.",
	}, []string{"channel", "outcome"})
	reg.MustRegister(settlements, reconciliations)
	return &CheckoutMetrics{settlements: settlements, reconciliations: reconciliations}
}

// IncSettlement records one settlement attempt.
func (c *CheckoutMetrics) IncSettlement(path, method, outcome string) {
	if c == nil || c.settlements == nil {
		return
	}
	c.settlements.WithLabelValues(normalizeLabel(path), normalizeLabel(method), normalizeLabel(outcome)).Inc()
}

// IncReconciliation records one processed gateway callback.
func (c *CheckoutMetrics) IncReconciliation(channel, outcome string) {
	if c == nil || c.reconciliations == nil {
		return
	}
	c.reconciliations.WithLabelValues(normalizeLabel(channel), normalizeLabel(outcome)).Inc()
}
