package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the loop's in-process counters. A nil *Metrics disables
// collection.
type Metrics struct {
	ProviderRequests *prometheus.CounterVec
	ToolExecutions   *prometheus.CounterVec
	Compactions      prometheus.Counter
}

// NewMetrics registers the loop counters on a registerer. Pass
// prometheus.DefaultRegisterer for the process-wide registry or a fresh
// one in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vellum_provider_requests_total",
			Help: "Provider requests issued by the agent loop, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vellum_tool_executions_total",
			Help: "Tool executions, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		Compactions: factory.NewCounter(prometheus.CounterOpts{
			Name: "vellum_context_compactions_total",
			Help: "Context compactions performed.",
		}),
	}
}

func (m *Metrics) providerRequest(provider, outcome string) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) toolExecution(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) compaction() {
	if m == nil {
		return
	}
	m.Compactions.Inc()
}
