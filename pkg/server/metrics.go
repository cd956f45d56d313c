package server

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mikeboe/deep-research/pkg/research"
)

var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_runs_total",
			Help: "Total number of research runs by outcome",
		},
		[]string{"status"}, // completed, failed, cancelled
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deep_research_run_duration_seconds",
			Help:    "Wall time of a research run",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"status"},
	)

	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deep_research_runs_active",
			Help: "Number of research runs in progress",
		},
	)

	// Stage metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deep_research_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"step"},
	)

	SearchTasksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_search_tasks_total",
			Help: "Total number of completed search tasks",
		},
	)

	SourcesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_sources_total",
			Help: "Total number of sources collected by search tasks",
		},
	)

	// Stream metrics
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_stream_chunks_total",
			Help: "Total number of streamed text chunks by kind",
		},
		[]string{"kind"}, // message, reasoning
	)
)

// MetricsSink records stage timings and task counts of one run.
type MetricsSink struct {
	mu      sync.Mutex
	started map[research.Step]time.Time
	now     func() time.Time
}

func NewMetricsSink() *MetricsSink {
	return &MetricsSink{started: map[research.Step]time.Time{}, now: time.Now}
}

func (m *MetricsSink) Emit(ev research.Event) {
	switch e := ev.(type) {
	case research.StepStarted:
		m.mu.Lock()
		m.started[e.Step] = m.now()
		m.mu.Unlock()
	case research.StepEnded:
		m.mu.Lock()
		start, ok := m.started[e.Step]
		delete(m.started, e.Step)
		m.mu.Unlock()
		if ok {
			StageDuration.WithLabelValues(string(e.Step)).Observe(m.now().Sub(start).Seconds())
		}
	case research.TaskEnded:
		SearchTasksTotal.Inc()
		SourcesTotal.Add(float64(len(e.Result.Sources)))
	case research.MessageChunk:
		ChunksTotal.WithLabelValues(research.KindMessage).Inc()
	case research.ReasoningChunk:
		ChunksTotal.WithLabelValues(research.KindReasoning).Inc()
	}
}

// observeRun records the outcome of a finished run.
func observeRun(status string, started time.Time) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}
