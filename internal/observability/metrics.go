package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn stages observed by the webhook handlers.
const (
	StageTranscribe = "transcribe"
	StageUnderstand = "understand"
	StageRespond    = "respond"
	StageTurnTotal  = "turn_total"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveConversations prometheus.Gauge
	ConversationEvents  *prometheus.CounterVec
	Turns               *prometheus.CounterVec
	CollaboratorErrors  *prometheus.CounterVec
	WebhookRequests     *prometheus.CounterVec
	MonitorClients      prometheus.Gauge
	TurnStageLatency    *prometheus.HistogramVec

	registry *prometheus.Registry
	stages   *turnStageWindow
}

// NewMetrics registers the service instruments plus Go runtime and process
// collectors on a private registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConversations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Number of call conversations held in memory.",
		}),
		ConversationEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_events_total",
			Help:      "Conversation lifecycle events by type.",
		}, []string{"event"}),
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Processed turns by classified intent and classification source.",
		}, []string{"intent", "source"}),
		CollaboratorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_errors_total",
			Help:      "Failures of external collaborators by collaborator and kind.",
		}, []string{"collaborator", "kind"}),
		WebhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Telephony webhook requests by route and outcome.",
		}, []string{"route", "outcome"}),
		MonitorClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_clients",
			Help:      "Connected live monitor websocket clients.",
		}),
		TurnStageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_ms",
			Help:      "Per-stage turn latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"stage"}),
		registry: reg,
		stages:   newTurnStageWindow(256),
	}
}

func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	ms := float64(d.Microseconds()) / 1000
	m.TurnStageLatency.WithLabelValues(stage).Observe(ms)
	m.stages.Observe(stage, ms)
}

func (m *Metrics) ObserveTurn(intent, source string) {
	m.Turns.WithLabelValues(intent, source).Inc()
}

// ObserveIndicator counts a notable per-turn outcome (fallback script,
// inaudible clip) in the rolling window.
func (m *Metrics) ObserveIndicator(name string) {
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) ConversationEvent(event string, active int) {
	m.ConversationEvents.WithLabelValues(event).Inc()
	m.ActiveConversations.Set(float64(active))
}

func (m *Metrics) CollaboratorError(collaborator, kind string) {
	m.CollaboratorErrors.WithLabelValues(collaborator, kind).Inc()
}

func (m *Metrics) WebhookRequest(route, outcome string) {
	m.WebhookRequests.WithLabelValues(route, outcome).Inc()
}

func (m *Metrics) TurnStages() TurnStageSnapshot {
	return m.stages.Snapshot()
}

func (m *Metrics) ResetTurnStages() {
	m.stages.Reset()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
