package infra

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "msginfra"

var (
	reconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "reconcile_total",
		Help:      "Reconciliation passes by resulting state and outcome.",
	}, []string{"state", "outcome"})

	applyErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "gateway",
		Name:      "apply_errors_total",
		Help:      "Resources that could not be applied, by kind.",
	}, []string{"kind"})

	teardownDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "teardown",
		Name:      "duration_seconds",
		Help:      "Time taken to tear down a tenant's infrastructure.",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"result"})

	teardownStuckTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "teardown",
		Name:      "stuck_deployments_total",
		Help:      "Deployments left in place because they did not scale down in time.",
	})
)

// MustRegisterMetrics registers the engine metrics with r.
func MustRegisterMetrics(r prometheus.Registerer) {
	r.MustRegister(reconcileTotal, applyErrorsTotal, teardownDuration, teardownStuckTotal)
}

func recordReconcile(state State, outcome string) {
	reconcileTotal.WithLabelValues(string(state), outcome).Inc()
}

func recordApplyError(k Kind) {
	applyErrorsTotal.WithLabelValues(string(k)).Inc()
}

func observeTeardown(result string, start time.Time) {
	teardownDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

func recordStuck(n int) {
	teardownStuckTotal.Add(float64(n))
}
