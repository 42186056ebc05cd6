package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the voice engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	AudioChunksTotal *prometheus.CounterVec
	PlaybackTotal    *prometheus.CounterVec
	TurnsTotal       *prometheus.CounterVec
	PongsTotal       *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voiceagent"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of active conversation sessions",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Conversation sessions by terminal status",
		}, []string{"status"}),
		AudioChunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_total",
			Help:      "Audio chunks by direction and result",
		}, []string{"direction", "result"}),
		PlaybackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_segments_total",
			Help:      "Playback segments by result",
		}, []string{"result"}),
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turn-based exchanges by outcome",
		}, []string{"outcome"}),
		PongsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pongs_total",
			Help:      "Keepalive pong replies by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.AudioChunksTotal,
		m.PlaybackTotal,
		m.TurnsTotal,
		m.PongsTotal,
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded(status string) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) AudioChunk(direction, result string) {
	if m == nil {
		return
	}
	m.AudioChunksTotal.WithLabelValues(direction, result).Inc()
}

func (m *Metrics) Playback(result string) {
	if m == nil {
		return
	}
	m.PlaybackTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Turn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Pong(result string) {
	if m == nil {
		return
	}
	m.PongsTotal.WithLabelValues(result).Inc()
}
