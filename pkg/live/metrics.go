package live

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors updated by sessions. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	EnvelopesSent     *prometheus.CounterVec
	EnvelopesReceived *prometheus.CounterVec
	AudioBytes        *prometheus.CounterVec
	Turns             *prometheus.CounterVec
	HandshakeDuration prometheus.Histogram
	TurnDuration      prometheus.Histogram
	SessionsActive    prometheus.Gauge
	ErrorsTotal       *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "live"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		EnvelopesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "envelopes_sent_total",
				Help:      "Envelopes written to the transport",
			},
			[]string{"kind"},
		),
		EnvelopesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "envelopes_received_total",
				Help:      "Envelopes decoded from the transport",
			},
			[]string{"kind"},
		),
		AudioBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_bytes_total",
				Help:      "Audio bytes streamed",
			},
			[]string{"direction"},
		),
		Turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Turns by outcome",
			},
			[]string{"outcome"},
		),
		HandshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time from dial to setup complete",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time from SendTurn to turn end",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions in a non-terminal connected state",
		}),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Session failures by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.EnvelopesSent,
		m.EnvelopesReceived,
		m.AudioBytes,
		m.Turns,
		m.HandshakeDuration,
		m.TurnDuration,
		m.SessionsActive,
		m.ErrorsTotal,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) recordSent(env OutboundEnvelope) {
	if m == nil {
		return
	}
	m.EnvelopesSent.WithLabelValues(env.Kind()).Inc()
	if ri, ok := env.(*RealtimeInput); ok {
		n := 0
		for _, c := range ri.MediaChunks {
			n += len(c.Data)
		}
		m.AudioBytes.WithLabelValues("input").Add(float64(n))
	}
}

func (m *Metrics) recordReceived(env InboundEnvelope) {
	if m == nil {
		return
	}
	m.EnvelopesReceived.WithLabelValues(env.Kind()).Inc()
	if sc, ok := env.(*ServerContent); ok {
		n := 0
		for _, ev := range sc.Events {
			if a, ok := ev.(*ModelTurnAudio); ok {
				n += len(a.Data)
			}
		}
		if n > 0 {
			m.AudioBytes.WithLabelValues("output").Add(float64(n))
		}
	}
}

func (m *Metrics) recordHandshake(d time.Duration) {
	if m == nil {
		return
	}
	m.HandshakeDuration.Observe(d.Seconds())
	m.SessionsActive.Inc()
}

func (m *Metrics) recordSessionEnd() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) recordTurn(err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "complete"
	if err != nil {
		outcome = "incomplete"
	}
	m.Turns.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(d.Seconds())
}

func (m *Metrics) recordError(err error) {
	if m == nil || err == nil {
		return
	}
	code := ErrorCode(err)
	if code == "" {
		code = "UNKNOWN"
	}
	m.ErrorsTotal.WithLabelValues(code).Inc()
}
