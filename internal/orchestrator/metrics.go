package orchestrator

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for one orchestrator run
type Metrics struct {
	registry *prometheus.Registry

	TasksTotal     *prometheus.CounterVec
	TrialsExecuted prometheus.Counter
	TrialsResumed  prometheus.Counter
	GateScore      *prometheus.GaugeVec
	ImageFallbacks prometheus.Counter
}

// NewMetrics creates and registers the instruments on a private registry,
// so tests can run several orchestrators without collisions
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rocmbench_tasks_total",
			Help: "Tasks finished by terminal state",
		}, []string{"state"}),
		TrialsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rocmbench_trials_executed_total",
			Help: "Benchmark trials actually executed",
		}),
		TrialsResumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rocmbench_trials_resumed_total",
			Help: "Benchmark trials skipped because a completed log existed",
		}),
		GateScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rocmbench_gate_mean_score",
			Help: "Mean accuracy score of the last gate run per task",
		}, []string{"task"}),
		ImageFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rocmbench_image_fallbacks_total",
			Help: "Tasks that ran on a previous-day image",
		}),
	}

	reg.MustRegister(m.TasksTotal, m.TrialsExecuted, m.TrialsResumed, m.GateScore, m.ImageFallbacks)
	return m
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
