// Package orch composes the session store, update batcher, scheduler,
// research queue, journal database, and event stream behind a single
// orchestrator surface. The driver binary talks only to this type.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"prpipe/pkg/atomicfile"
	"prpipe/pkg/config"
	"prpipe/pkg/eventlog"
	"prpipe/pkg/logx"
	"prpipe/pkg/metrics"
	"prpipe/pkg/persistence"
	"prpipe/pkg/research"
	"prpipe/pkg/scheduler"
	"prpipe/pkg/session"
)

// staleTempAge bounds how old an orphaned temp file must be before the bind
// sweep removes it. Younger temp files may belong to a live writer.
const staleTempAge = time.Hour

// ErrNoSession reports an operation that needs a bound session before any
// Initialize or LoadSession call.
var ErrNoSession = errors.New("no session bound")

// Orchestrator owns the per-process services (store, executor, researcher,
// research queue) and the per-session ones (batcher, scheduler, journal,
// event stream). Binding a session releases the previous one.
type Orchestrator struct {
	log        *logx.Logger
	store      *session.Store
	executor   scheduler.Executor
	researcher scheduler.Researcher
	queue      *research.Queue

	stopOnFailure bool
	flushInterval time.Duration
	autoDelta     bool

	mu      sync.Mutex
	watch   bool
	prdPath string
	prdHash string
	batcher *session.Batcher
	db      *persistence.DB
	persist chan<- *persistence.Request
	events  *eventlog.Writer
	sched   *scheduler.Scheduler
	closed  bool
}

// New wires an orchestrator from the given config snapshot. The config
// package must be loaded first; sessions live under the project directory.
func New(cfg *config.Config, log *logx.Logger) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("failed to create orchestrator: nil config")
	}
	if log == nil {
		log = logx.NewLogger("orch")
	}

	projectDir := config.GetProjectDir()
	if projectDir == "" {
		return nil, fmt.Errorf("failed to create orchestrator: config not loaded")
	}

	executor, err := newExecutor(executorKind(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return &Orchestrator{
		log:           log,
		store:         session.NewStore(projectDir, nil),
		executor:      executor,
		researcher:    newScopeResearcher(maxScopeTokens(cfg)),
		queue:         research.NewQueue(researchParallelism(cfg)),
		stopOnFailure: stopOnFailure(cfg),
		flushInterval: flushInterval(cfg),
		autoDelta:     autoDelta(cfg),
	}, nil
}

// bind wires the per-session services for st: a fresh batcher, the journal
// database with its write-behind worker, the event stream, and a scheduler
// over them. A previously bound session is flushed and released first.
func (o *Orchestrator) bind(ctx context.Context, st *session.State) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("failed to bind session: orchestrator is shut down")
	}
	o.unbindLocked(ctx)

	db, err := persistence.Open(st.JournalPath())
	if err != nil {
		return fmt.Errorf("failed to open session journal: %w", err)
	}
	events, err := eventlog.NewWriter(st.EventsDir(), 24)
	if err != nil {
		if cerr := db.Close(); cerr != nil {
			o.log.Warn("failed to close session journal: %v", cerr)
		}
		return fmt.Errorf("failed to open event log: %w", err)
	}

	o.batcher = session.NewBatcher(o.store, st)
	o.db = db
	o.persist = db.StartWriter()
	o.events = events

	if err := o.buildSchedulerLocked(); err != nil {
		o.unbindLocked(ctx)
		return err
	}

	if n, err := atomicfile.RemoveStale(st.Dir, staleTempAge); err == nil && n > 0 {
		o.log.Info("swept %d stale temp files from %s", n, st.ID)
	}

	o.log.Info("bound session %s", st.ID)
	return nil
}

func (o *Orchestrator) buildSchedulerLocked() error {
	sched, err := scheduler.New(scheduler.Config{
		Batcher:       o.batcher,
		Executor:      o.executor,
		Queue:         o.queue,
		Researcher:    o.researcher,
		Sink:          o,
		StopOnFailure: o.stopOnFailure,
		FlushInterval: o.flushInterval,
	})
	if err != nil {
		return err
	}
	o.sched = sched
	return nil
}

// unbindLocked flushes and releases the bound session's services. Callers
// hold o.mu.
func (o *Orchestrator) unbindLocked(ctx context.Context) {
	if o.batcher != nil && o.batcher.Dirty() {
		if err := o.batcher.Flush(ctx); err != nil {
			o.log.Warn("flush before rebind failed: %v", err)
		}
	}
	if o.db != nil {
		if err := o.db.Close(); err != nil {
			o.log.Warn("failed to close session journal: %v", err)
		}
	}
	if o.events != nil {
		if err := o.events.Close(); err != nil {
			o.log.Warn("failed to close event log: %v", err)
		}
	}
	o.batcher = nil
	o.db = nil
	o.persist = nil
	o.events = nil
	o.sched = nil
}

func (o *Orchestrator) currentBatcher() *session.Batcher {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	return o.batcher
}

func (o *Orchestrator) sessionIDLocked() string {
	if o.batcher == nil {
		return ""
	}
	return o.batcher.State().ID
}

// RecordUnitStarted implements scheduler.Sink.
func (o *Orchestrator) RecordUnitStarted(_ context.Context, unitID string) {
	o.record(persistence.KindUnitStarted, unitID, "")
}

// RecordUnitComplete implements scheduler.Sink.
func (o *Orchestrator) RecordUnitComplete(_ context.Context, unitID, detail string) {
	o.record(persistence.KindUnitComplete, unitID, detail)
}

// RecordUnitFailed implements scheduler.Sink.
func (o *Orchestrator) RecordUnitFailed(_ context.Context, unitID, detail string) {
	o.record(persistence.KindUnitFailed, unitID, detail)
}

// RecordResearch implements scheduler.Sink. Findings go to the journal
// database only; the event stream carries lifecycle events, not content.
func (o *Orchestrator) RecordResearch(_ context.Context, unitID, findings string) {
	o.mu.Lock()
	persist := o.persist
	o.mu.Unlock()

	persistence.PersistResearch(&persistence.ResearchRecord{UnitID: unitID, Content: findings}, persist)
}

// record fans one lifecycle record out to the journal and the event stream.
func (o *Orchestrator) record(kind, unitID, detail string) {
	o.mu.Lock()
	persist := o.persist
	events := o.events
	id := o.sessionIDLocked()
	o.mu.Unlock()

	persistence.PersistJournal(&persistence.JournalEntry{UnitID: unitID, Kind: kind, Detail: detail}, persist)

	if events != nil {
		ev := eventlog.NewEvent(kind, id, unitID)
		if detail != "" {
			ev.SetDetail("detail", detail)
		}
		if err := events.Append(ev); err != nil {
			o.log.Warn("failed to append %s event: %v", kind, err)
		}
	}
}

func (o *Orchestrator) recordFork(st *session.State) {
	o.record(persistence.KindSessionForked, "", fmt.Sprintf("forked from %s", st.ParentID))
}

// Shutdown stops admission, flushes pending updates once, snapshots metrics,
// and closes the journal and event log. Safe to call more than once.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	batcher := o.batcher
	db := o.db
	persist := o.persist
	events := o.events
	id := o.sessionIDLocked()
	o.batcher = nil
	o.db = nil
	o.persist = nil
	o.events = nil
	o.sched = nil
	o.mu.Unlock()

	o.log.Info("shutting down")

	// Stop admission before the final flush so no research lands after it.
	if o.queue != nil {
		o.queue.Close()
	}

	var flushErr error
	if batcher != nil {
		if flushErr = batcher.Flush(ctx); flushErr != nil {
			o.log.Error("final flush failed: %v", flushErr)
		}
	}

	if logsDir, err := config.GetLogsDir(); err == nil {
		if path, serr := metrics.Default().SnapshotToFile(logsDir); serr != nil {
			o.log.Warn("failed to write metrics snapshot: %v", serr)
		} else {
			o.log.Info("wrote metrics snapshot %s", path)
		}
	} else {
		logx.Debug("orch", "skipping metrics snapshot: %v", err)
	}

	if db != nil {
		persistence.PersistJournal(&persistence.JournalEntry{Kind: persistence.KindFlush, Detail: "shutdown"}, persist)
		if err := db.Close(); err != nil {
			o.log.Warn("failed to close session journal: %v", err)
		}
	}
	if events != nil {
		if err := events.Append(eventlog.NewEvent(persistence.KindFlush, id, "")); err != nil {
			o.log.Warn("failed to append shutdown event: %v", err)
		}
		if err := events.Close(); err != nil {
			o.log.Warn("failed to close event log: %v", err)
		}
	}

	o.log.Info("shutdown complete")
	return flushErr
}

// Knob readers over the config snapshot, with the package defaults.

func executorKind(cfg *config.Config) string {
	if cfg.Executor == nil || cfg.Executor.Type == "" {
		return config.ExecutorNoop
	}
	return cfg.Executor.Type
}

func flushInterval(cfg *config.Config) time.Duration {
	if cfg.Orchestration == nil || cfg.Orchestration.FlushIntervalMS <= 0 {
		return config.DefaultFlushIntervalMS * time.Millisecond
	}
	return time.Duration(cfg.Orchestration.FlushIntervalMS) * time.Millisecond
}

func stopOnFailure(cfg *config.Config) bool {
	return cfg.Orchestration != nil && cfg.Orchestration.StopOnFailure
}

func autoDelta(cfg *config.Config) bool {
	return cfg.Orchestration != nil && cfg.Orchestration.AutoDelta
}

func researchParallelism(cfg *config.Config) int {
	if cfg.Research == nil || cfg.Research.Parallelism < 1 {
		return config.DefaultResearchParallelism
	}
	return cfg.Research.Parallelism
}

func maxScopeTokens(cfg *config.Config) int {
	if cfg.Research == nil || cfg.Research.MaxScopeTokens <= 0 {
		return config.DefaultMaxScopeTokens
	}
	return cfg.Research.MaxScopeTokens
}
