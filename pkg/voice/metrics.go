package voice

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks latency at each stage of a conversation turn.
// All durations are measured from the moment speech ends (user stops talking).
type Metrics struct {
	// Timestamps for key events
	SpeechEndTime    time.Time `json:"-"` // provider detected end of speech
	TranscriptTime   time.Time `json:"-"` // user transcript arrived
	FirstTokenTime   time.Time `json:"-"` // first assistant transcript delta
	FirstAudioTime   time.Time `json:"-"` // assistant started speaking
	ResponseDoneTime time.Time `json:"-"` // assistant stopped speaking

	// Computed latencies (from speech end)
	ASRLatency   time.Duration `json:"asr_latency"`
	FirstToken   time.Duration `json:"first_token"`
	FirstAudio   time.Duration `json:"first_audio"`
	TotalLatency time.Duration `json:"total_latency"`

	// Counts for this conversation turn
	AudioChunks int `json:"audio_chunks"`
	ToolCalls   int `json:"tool_calls"`
}

// MetricsCollector collects latency metrics during a conversation turn.
// It is goroutine-safe and can be used from multiple callbacks.
type MetricsCollector struct {
	mu      sync.Mutex
	now     func() time.Time
	current Metrics
	history []Metrics // recent turns for averaging
	prom    *promMetrics
}

// maxHistory bounds the turns kept for Average.
const maxHistory = 100

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		now:     time.Now,
		history: make([]Metrics, 0, maxHistory),
	}
}

// MarkSpeechEnd records when the user stopped speaking.
// This is the reference point for all latency measurements.
func (m *MetricsCollector) MarkSpeechEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Metrics{SpeechEndTime: m.now()}
}

// MarkTranscript records when transcription completed.
func (m *MetricsCollector) MarkTranscript() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.TranscriptTime = m.now()
	if !m.current.SpeechEndTime.IsZero() {
		m.current.ASRLatency = m.current.TranscriptTime.Sub(m.current.SpeechEndTime)
	}
}

// MarkFirstToken records the first assistant transcript delta of a turn.
func (m *MetricsCollector) MarkFirstToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.FirstTokenTime.IsZero() {
		m.current.FirstTokenTime = m.now()
		if !m.current.SpeechEndTime.IsZero() {
			m.current.FirstToken = m.current.FirstTokenTime.Sub(m.current.SpeechEndTime)
		}
	}
}

// MarkFirstAudio records when the assistant started speaking.
func (m *MetricsCollector) MarkFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.FirstAudioTime.IsZero() {
		m.current.FirstAudioTime = m.now()
		if !m.current.SpeechEndTime.IsZero() {
			m.current.FirstAudio = m.current.FirstAudioTime.Sub(m.current.SpeechEndTime)
			m.prom.observeFirstAudio(m.current.FirstAudio)
		}
	}
}

// MarkResponseDone records when the response is fully delivered and
// archives the turn.
func (m *MetricsCollector) MarkResponseDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.SpeechEndTime.IsZero() {
		return
	}
	m.current.ResponseDoneTime = m.now()
	m.current.TotalLatency = m.current.ResponseDoneTime.Sub(m.current.SpeechEndTime)
	m.history = append(m.history, m.current)
	if len(m.history) > maxHistory {
		m.history = m.history[1:]
	}
	m.current = Metrics{}
}

// IncrementAudio counts a received audio chunk.
func (m *MetricsCollector) IncrementAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.AudioChunks++
}

// IncrementToolCalls counts a tool call in the current turn.
func (m *MetricsCollector) IncrementToolCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ToolCalls++
}

// Current returns the current metrics snapshot.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Turns returns the number of archived turns.
func (m *MetricsCollector) Turns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// Average returns average metrics over recent turns.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return Metrics{}
	}

	var avg Metrics
	for _, h := range m.history {
		avg.ASRLatency += h.ASRLatency
		avg.FirstToken += h.FirstToken
		avg.FirstAudio += h.FirstAudio
		avg.TotalLatency += h.TotalLatency
	}

	n := time.Duration(len(m.history))
	avg.ASRLatency /= n
	avg.FirstToken /= n
	avg.FirstAudio /= n
	avg.TotalLatency /= n

	return avg
}

// FormatLatency returns a formatted string of current latencies.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.ASRLatency) + " ASR | " +
		formatDuration(m.FirstToken) + " TOKEN | " +
		formatDuration(m.FirstAudio) + " AUDIO | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}

// promMetrics are the Prometheus collectors for a session. A nil
// *promMetrics records nothing.
type promMetrics struct {
	state        *prometheus.GaugeVec
	toolCalls    *prometheus.CounterVec
	toolDuration prometheus.Histogram
	firstAudio   prometheus.Histogram
	audioDropped prometheus.Counter
	interrupts   prometheus.Counter
	idlePrompts  prometheus.Counter
}

func newPromMetrics(namespace string, reg prometheus.Registerer) *promMetrics {
	f := promauto.With(reg)
	return &promMetrics{
		state: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_state",
				Help:      "1 for the current connection state",
			},
			[]string{"state"},
		),
		toolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Tool calls by name and result",
			},
			[]string{"tool", "result"},
		),
		toolDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool execution time",
			Buckets:   prometheus.DefBuckets,
		}),
		firstAudio: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_first_audio_seconds",
			Help:      "Time from end of user speech to assistant speech",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5},
		}),
		audioDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_deltas_dropped_total",
			Help:      "Audio deltas that failed to decode",
		}),
		interrupts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Assistant speech interruptions",
		}),
		idlePrompts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_prompts_total",
			Help:      "Proactive prompts sent after idle timeouts",
		}),
	}
}

func (p *promMetrics) setState(s ConnectionState) {
	if p == nil {
		return
	}
	for _, st := range []ConnectionState{StateDisconnected, StateConnecting, StateConnected, StateError} {
		v := 0.0
		if st == s {
			v = 1
		}
		p.state.WithLabelValues(string(st)).Set(v)
	}
}

func (p *promMetrics) tool(name string, success bool, elapsed time.Duration) {
	if p == nil {
		return
	}
	result := "success"
	if !success {
		result = "error"
	}
	p.toolCalls.WithLabelValues(name, result).Inc()
	p.toolDuration.Observe(elapsed.Seconds())
}

func (p *promMetrics) observeFirstAudio(d time.Duration) {
	if p == nil {
		return
	}
	p.firstAudio.Observe(d.Seconds())
}

func (p *promMetrics) dropAudio() {
	if p == nil {
		return
	}
	p.audioDropped.Inc()
}

func (p *promMetrics) interrupt() {
	if p == nil {
		return
	}
	p.interrupts.Inc()
}

func (p *promMetrics) idlePrompt() {
	if p == nil {
		return
	}
	p.idlePrompts.Inc()
}
