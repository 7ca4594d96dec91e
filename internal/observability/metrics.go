package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ent0n29/aspen/internal/conversation"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveCalls       prometheus.Gauge
	CallEvents        *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	Boundaries        *prometheus.CounterVec
	Utterances        *prometheus.CounterVec
	Turns             *prometheus.CounterVec
	BargeIns          prometheus.Counter
	HeardRatio        prometheus.Histogram
	StageErrors       *prometheus.CounterVec
	StageRetries      *prometheus.CounterVec
	StuckWorkers      prometheus.Counter
	StageLatency      *prometheus.HistogramVec
	FirstAudioLatency prometheus.Histogram

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of calls with a running pipeline.",
		}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Media stream messages by direction and type.",
		}, []string{"direction", "type"}),
		Boundaries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_boundaries_total",
			Help:      "Lull detector boundaries by type.",
		}, []string{"type"}),
		Utterances: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Assembled utterances by outcome.",
		}, []string{"outcome"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Committed turns by kind and status.",
		}, []string{"kind", "status"}),
		BargeIns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Replies interrupted by the caller.",
		}),
		HeardRatio: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "barge_in_heard_ratio",
			Help:      "Fraction of reply words heard before a barge-in.",
			Buckets:   []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1},
		}),
		StageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Stage failures by stage and error kind.",
		}, []string{"stage", "kind"}),
		StageRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_retries_total",
			Help:      "Stage retries by stage.",
		}, []string{"stage"}),
		StuckWorkers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stuck_workers_total",
			Help:      "Turn workers that outlived the cancel grace period.",
		}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Latency from utterance to stage completion in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 800, 1200, 2000, 4000},
		}, []string{"stage"}),
		FirstAudioLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency to first assistant audio chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		}),
		window: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
}

// ObserveStage records a stage latency in the histogram and the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageLatency.WithLabelValues(stage).Observe(float64(d.Microseconds()) / 1000)
	m.window.Observe(stage, d)
	if stage == "first_audio" {
		m.ObserveFirstAudioLatency(d)
	}
}

func (m *Metrics) ObserveStageError(stage, kind string) {
	m.StageErrors.WithLabelValues(stage, kind).Inc()
	m.window.Count(stage + "_" + kind)
}

// ObserveCommit counts a terminal turn and its total duration.
func (m *Metrics) ObserveCommit(t conversation.Turn) {
	m.Turns.WithLabelValues(string(t.Kind), string(t.Status)).Inc()
	if !t.EndedAt.IsZero() && !t.CreatedAt.IsZero() {
		m.window.Observe("turn_total", t.EndedAt.Sub(t.CreatedAt))
	}
}

func (m *Metrics) ObserveBargeIn(t conversation.Turn) {
	m.BargeIns.Inc()
	m.window.Count("barge_in")
	if t.WordsTotal > 0 {
		m.HeardRatio.Observe(float64(t.WordsSpoken) / float64(t.WordsTotal))
	}
}

// StageSnapshot summarizes the recent stage latencies.
func (m *Metrics) StageSnapshot() LatencySnapshot {
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
