package realtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are Prometheus collectors for realtime sessions. A nil *Metrics
// records nothing.
type Metrics struct {
	connectAttempts *prometheus.CounterVec
	connectDuration *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec
	events          *prometheus.CounterVec
	providerErrors  *prometheus.CounterVec
}

// NewMetrics registers collectors with reg under namespace.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connectAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_connect_attempts_total",
				Help:      "Realtime connection attempts by provider and result",
			},
			[]string{"provider", "result"},
		),
		connectDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "realtime_connect_duration_seconds",
				Help:      "Time to establish a configured realtime session",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider"},
		),
		fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_fallbacks_total",
				Help:      "Fallbacks from a failed primary provider",
			},
			[]string{"from", "to"},
		),
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_events_total",
				Help:      "Server events handled by type; unrecognized types count as other",
			},
			[]string{"type"},
		),
		providerErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_provider_errors_total",
				Help:      "Non-benign provider error events by code",
			},
			[]string{"code"},
		),
	}
}

func (m *Metrics) connect(provider ProviderName, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	} else {
		m.connectDuration.WithLabelValues(string(provider)).Observe(elapsed.Seconds())
	}
	m.connectAttempts.WithLabelValues(string(provider), result).Inc()
}

func (m *Metrics) fallback(from, to ProviderName) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(string(from), string(to)).Inc()
}

// eventLabels bounds the type label to the events the interpreter handles.
var eventLabels = map[string]bool{
	EventSessionCreated:            true,
	EventSessionUpdated:            true,
	EventSpeechStarted:             true,
	EventSpeechStopped:             true,
	EventTranscriptionCompleted:    true,
	EventTranscriptionFailed:       true,
	EventResponseCreated:           true,
	EventResponseAudioDelta:        true,
	EventResponseTranscriptDelta:   true,
	EventResponseDone:              true,
	EventResponseCancelled:         true,
	EventFunctionCallArgumentsDone: true,
	EventError:                     true,
}

func eventLabel(typ string) string {
	if eventLabels[typ] {
		return typ
	}
	return "other"
}

func (m *Metrics) event(typ string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventLabel(typ)).Inc()
}

func (m *Metrics) providerError(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "none"
	}
	m.providerErrors.WithLabelValues(code).Inc()
}
