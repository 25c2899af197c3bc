package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parkerlabs/sitescribe/internal/progress"
)

// PrometheusSink exports pipeline progress metrics. It owns all collectors
// for runs started/completed/running and per-phase counters and latencies.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	phasesCompleted *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	itemsProcessed  *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitescribe_runs_started_total",
			Help: "Total pipeline runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitescribe_runs_completed_total",
			Help: "Total pipeline runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitescribe_runs_running",
			Help: "Current number of running pipeline runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitescribe_run_duration_seconds",
			Help:    "Wall time per completed pipeline run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"result"}),
		phasesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitescribe_phases_completed_total",
			Help: "Phase completions partitioned by phase and result.",
		}, []string{"phase", "result"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitescribe_phase_duration_seconds",
			Help:    "Phase duration partitioned by phase and result.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"phase", "result"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitescribe_phase_items_total",
			Help: "Items processed per completed phase, partitioned by outcome.",
		}, []string{"phase", "outcome"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.phasesCompleted,
		s.phaseDuration,
		s.itemsProcessed,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
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
		if s.tracker.start(evt.ProjectID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.finishRun(evt, "success")
	case progress.StageRunError:
		s.finishRun(evt, "error")
	case progress.StagePhaseDone:
		s.finishPhase(evt, "success")
	case progress.StagePhaseError:
		s.finishPhase(evt, "error")
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.ProjectID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) finishPhase(evt progress.Event, result string) {
	phase := string(evt.Phase)
	s.phasesCompleted.WithLabelValues(phase, result).Inc()
	if evt.Dur > 0 {
		s.phaseDuration.WithLabelValues(phase, result).Observe(evt.Dur.Seconds())
	}
	if evt.Done > 0 {
		s.itemsProcessed.WithLabelValues(phase, "done").Add(float64(evt.Done))
	}
	if evt.Failed > 0 {
		s.itemsProcessed.WithLabelValues(phase, "failed").Add(float64(evt.Failed))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// runTracker dedupes start/finish pairs so the running gauge stays accurate
// even when terminal events are emitted more than once.
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
