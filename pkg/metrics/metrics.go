// Package metrics provides Prometheus-based metrics for the pipeline: backlog
// writes, batcher activity, scheduler picks, and research queue depth. Each
// Recorder owns its own registry so a text snapshot can be written at
// shutdown without scraping.
package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Recorder holds the pipeline metric instruments.
type Recorder struct {
	registry *prometheus.Registry

	backlogWrites  prometheus.Counter
	batcherFlushes prometheus.Counter
	batcherUpdates prometheus.Counter
	schedulerPicks *prometheus.CounterVec
	unitsFailed    prometheus.Counter

	researchInflight prometheus.Gauge
	researchQueued   prometheus.Gauge
}

// NewRecorder creates a Recorder with a dedicated registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,

		backlogWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "prpipe_backlog_writes_total",
			Help: "Total number of physical backlog.json writes",
		}),
		batcherFlushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "prpipe_batcher_flushes_total",
			Help: "Total number of dirty batcher flushes",
		}),
		batcherUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "prpipe_batcher_updates_total",
			Help: "Total number of status updates coalesced by the batcher",
		}),
		schedulerPicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prpipe_scheduler_picks_total",
				Help: "Total number of scheduler picks by outcome",
			},
			[]string{"outcome"},
		),
		unitsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "prpipe_units_failed_total",
			Help: "Total number of units whose execution failed",
		}),
		researchInflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prpipe_research_inflight",
			Help: "Research jobs currently running",
		}),
		researchQueued: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prpipe_research_queued",
			Help: "Research jobs waiting for a slot",
		}),
	}
}

// Scheduler pick outcomes.
const (
	PickExecuted = "executed"
	PickBlocked  = "blocked"
	PickIdle     = "idle"
)

func (r *Recorder) IncBacklogWrite() { r.backlogWrites.Inc() }

func (r *Recorder) IncBatcherFlush() { r.batcherFlushes.Inc() }

func (r *Recorder) IncBatcherUpdate() { r.batcherUpdates.Inc() }

func (r *Recorder) IncSchedulerPick(outcome string) { r.schedulerPicks.WithLabelValues(outcome).Inc() }

func (r *Recorder) IncUnitFailed() { r.unitsFailed.Inc() }

func (r *Recorder) ResearchStarted() { r.researchInflight.Inc() }

func (r *Recorder) ResearchFinished() { r.researchInflight.Dec() }

func (r *Recorder) ResearchEnqueued() { r.researchQueued.Inc() }

func (r *Recorder) ResearchDequeued() { r.researchQueued.Dec() }

// WriteSnapshot encodes the current metric state in Prometheus text format.
func (r *Recorder) WriteSnapshot(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return fmt.Errorf("failed to encode metric family %s: %w", family.GetName(), err)
		}
	}
	return nil
}

// SnapshotToFile writes the text snapshot to
// <dir>/metrics-<timestamp>.prom.
func (r *Recorder) SnapshotToFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create metrics directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("metrics-%s.prom", time.Now().UTC().Format("20060102-150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create metrics snapshot: %w", err)
	}

	if err := r.WriteSnapshot(f); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close metrics snapshot: %w", err)
	}
	return path, nil
}

//nolint:gochecknoglobals // Single process-wide recorder, mirrors the config singleton
var (
	defaultRecorder *Recorder
	defaultOnce     sync.Once
)

// Default returns the process-wide Recorder, creating it on first use.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = NewRecorder()
	})
	return defaultRecorder
}
