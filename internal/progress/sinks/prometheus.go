package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/jobs-ingest/internal/progress"
)

// PrometheusSink exports run progress via Prometheus. It owns the collectors
// for runs started, completed and in flight plus per-source posting outcomes.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	discovered    *prometheus.CounterVec
	postings      *prometheus.CounterVec
	contentBytes  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_progress_runs_started_total",
			Help: "Runs that entered initialization.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_progress_runs_completed_total",
			Help: "Runs that reached a terminal status, by status.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_progress_runs_active",
			Help: "Runs started but not yet terminal.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_progress_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"result"}),
		discovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_progress_jobs_discovered_total",
			Help: "Postings discovered per source.",
		}, []string{"source"}),
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_progress_postings_total",
			Help: "Posting outcomes partitioned by stage, source and outcome.",
		}, []string{"stage", "source", "outcome"}),
		contentBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_progress_content_bytes_total",
			Help: "Raw content bytes stored per source.",
		}, []string{"source"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_progress_fetch_duration_seconds",
			Help:    "Content fetch duration per source.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60},
		}, []string{"source"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.discovered,
		s.postings,
		s.contentBytes,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
	case progress.StageRunDone:
		s.completeRun(evt, "finished")
	case progress.StageRunError:
		s.completeRun(evt, "error")
	case progress.StageRunAborted:
		s.completeRun(evt, "aborted")
	case progress.StageDiscovered:
		s.discovered.WithLabelValues(string(evt.Source)).Add(float64(evt.Count))
	case progress.StageCrawled, progress.StageExtracted:
		s.handlePostingEvent(evt)
	case progress.StageIngesting:
	}
}

func (s *PrometheusSink) completeRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsActive.Dec()
	}
}

func (s *PrometheusSink) handlePostingEvent(evt progress.Event) {
	source := string(evt.Source)
	stage := "crawl"
	if evt.Stage == progress.StageExtracted {
		stage = "extract"
	}
	s.postings.WithLabelValues(stage, source, string(evt.Outcome)).Inc()
	if evt.Bytes > 0 {
		s.contentBytes.WithLabelValues(source).Add(float64(evt.Bytes))
	}
	if evt.Stage == progress.StageCrawled && evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(source).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
