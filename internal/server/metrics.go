package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry         *prometheus.Registry
	escrowOpsTotal   *prometheus.CounterVec
	settlementsTotal *prometheus.CounterVec
	balanceQueries   prometheus.Counter
	dlqDepth         prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rentrails_escrow_ops_total",
		Help: "Escrow lifecycle operations by kind and result",
	}, []string{"op", "result"})

	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rentrails_settlements_total",
		Help: "Settlements by outcome and result",
	}, []string{"outcome", "result"})

	balances := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rentrails_balance_queries_total",
		Help: "Balance queries served",
	})

	dlq := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rentrails_dlq_depth",
		Help: "Number of items in the settlement DLQ",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(ops, settlements, balances, dlq)

	return &metricsRegistry{
		registry:         r,
		escrowOpsTotal:   ops,
		settlementsTotal: settlements,
		balanceQueries:   balances,
		dlqDepth:         dlq,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incOp(op, result string) {
	m.escrowOpsTotal.WithLabelValues(op, result).Inc()
}

func (m *metricsRegistry) incSettlement(outcome, result string) {
	m.settlementsTotal.WithLabelValues(outcome, result).Inc()
}

func (m *metricsRegistry) incBalance() {
	m.balanceQueries.Inc()
}

func (m *metricsRegistry) setDLQDepth(depth int) {
	m.dlqDepth.Set(float64(depth))
}
