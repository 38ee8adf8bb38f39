package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/lead-enricher/internal/discovery"
	"github.com/sells-group/lead-enricher/internal/model"
)

// Metrics holds the Prometheus collectors for the enrichment service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	outcomes         *prometheus.CounterVec
	providerResults  *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	pipelineDuration prometheus.Histogram
	intake           *prometheus.CounterVec
	retries          *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	leadsByStatus    *prometheus.GaugeVec
}

// NewMetrics registers the enrichment collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leads_enrichment_outcomes_total",
			Help: "Orchestrator outcomes, labeled by resulting status.",
		}, []string{"status"}),
		providerResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leads_discovery_provider_results_total",
			Help: "Discovery provider lookups, labeled by provider, tier and result kind.",
		}, []string{"provider", "tier", "kind"}),
		providerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leads_discovery_provider_duration_seconds",
			Help:    "Discovery provider lookup latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),
		pipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "leads_enrichment_duration_seconds",
			Help:    "End-to-end orchestrator pass latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		intake: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leads_intake_events_total",
			Help: "Inbound webhook events, labeled by admission result.",
		}, []string{"result"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leads_retry_attempts_total",
			Help: "Retry scheduler attempts, labeled by result.",
		}, []string{"result"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leads_alerts_sent_total",
			Help: "Alerts delivered to the webhook, labeled by type.",
		}, []string{"type"}),
		leadsByStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "leads_by_status",
			Help: "Leads updated within the monitoring window, by status.",
		}, []string{"status"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RegisterLocksHeld exposes the number of held per-lead locks.
func (m *Metrics) RegisterLocksHeld(held func() int) {
	if m == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "leads_locks_held",
		Help: "Per-lead processing locks currently held.",
	}, func() float64 { return float64(held()) })
}

// ObserveOutcome records one orchestrator pass.
func (m *Metrics) ObserveOutcome(status model.LeadStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(status)).Inc()
	m.pipelineDuration.Observe(elapsed.Seconds())
}

// ProviderObserver adapts the collectors to the discovery chain's hook.
func (m *Metrics) ProviderObserver() discovery.Observer {
	return func(provider string, tier int, kind discovery.Kind, elapsed time.Duration) {
		if m == nil {
			return
		}
		m.providerResults.WithLabelValues(provider, strconv.Itoa(tier), kind.String()).Inc()
		m.providerDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
	}
}

// IntakeEvent counts one webhook admission result.
func (m *Metrics) IntakeEvent(result string) {
	if m == nil {
		return
	}
	m.intake.WithLabelValues(result).Inc()
}

// RetryAttempt counts one retry scheduler attempt.
func (m *Metrics) RetryAttempt(result string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(result).Inc()
}

// AlertSent counts one delivered alert.
func (m *Metrics) AlertSent(t AlertType) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(string(t)).Inc()
}

// SetStatusCounts replaces the per-status gauge values.
func (m *Metrics) SetStatusCounts(counts map[model.LeadStatus]int) {
	if m == nil {
		return
	}
	m.leadsByStatus.Reset()
	for status, n := range counts {
		m.leadsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}
