package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the orchestrator's Prometheus collectors.
type Metrics struct {
	// run latency from create to result, by trigger and outcome
	RunDuration *prometheus.HistogramVec

	RunsTotal *prometheus.CounterVec

	ActiveSandboxes prometheus.Gauge

	BudgetDenials *prometheus.CounterVec

	// calendar claims won vs lost to another poller
	Claims *prometheus.CounterVec

	Approvals *prometheus.CounterVec

	// 0 closed, 1 half-open, 2 open
	GatewayBreakerState *prometheus.GaugeVec
}

// New registers collectors on reg. A nil reg gets a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hermit_sandbox_run_duration_seconds",
			Help:    "Sandbox run latency.",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		}, []string{"trigger", "outcome"}),

		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hermit_sandbox_runs_total",
			Help: "Sandbox runs by trigger and outcome.",
		}, []string{"trigger", "outcome"}),

		ActiveSandboxes: f.NewGauge(prometheus.GaugeOpts{
			Name: "hermit_sandboxes_active",
			Help: "Sandboxes currently running.",
		}),

		BudgetDenials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hermit_budget_denials_total",
			Help: "Runs refused by the resource ledger.",
		}, []string{"reason"}),

		Claims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hermit_trigger_claims_total",
			Help: "Calendar claim attempts by result.",
		}, []string{"result"}),

		Approvals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hermit_approvals_total",
			Help: "Approval and delegation requests by kind and resolution.",
		}, []string{"kind", "resolution"}),

		GatewayBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hermit_gateway_circuit_breaker_state",
			Help: "Chat gateway circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"gateway"}),
	}
}
