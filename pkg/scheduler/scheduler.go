// Package scheduler picks eligible backlog units and drives each one through
// the research and execution stages, persisting status transitions through
// the session batcher.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"prpipe/pkg/atomicfile"
	"prpipe/pkg/backlog"
	"prpipe/pkg/logx"
	"prpipe/pkg/metrics"
	"prpipe/pkg/research"
	"prpipe/pkg/session"
	"prpipe/pkg/utils"
)

// FindingsFilename is the per-unit research artifact written under
// research/<sanitized-unit-id>/.
const FindingsFilename = "findings.md"

// UnitExecutionError wraps a failure from the research or execution stage of
// one unit. It is contained by the run loop unless StopOnFailure is set.
type UnitExecutionError struct {
	UnitID string
	Err    error
}

func (e *UnitExecutionError) Error() string {
	return fmt.Sprintf("unit %s execution failed: %v", e.UnitID, e.Err)
}

func (e *UnitExecutionError) Unwrap() error {
	return e.Err
}

// Code returns the stable machine-readable error code.
func (e *UnitExecutionError) Code() string {
	return "UNIT_EXEC_FAILED"
}

// ExecRequest carries everything an executor needs for one unit.
type ExecRequest struct {
	Unit       *backlog.Subtask
	SessionDir string
	Research   string
}

// ExecResult reports a successful execution.
type ExecResult struct {
	Detail string
}

// Executor performs the implementation stage for a unit.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// Researcher resolves a unit's context scope into findings text.
type Researcher interface {
	Research(ctx context.Context, unit *backlog.Subtask) (string, error)
}

// Sink receives unit lifecycle records for archival. Implementations must
// tolerate being called from the scheduling goroutine and should not block.
type Sink interface {
	RecordUnitStarted(ctx context.Context, unitID string)
	RecordUnitComplete(ctx context.Context, unitID, detail string)
	RecordUnitFailed(ctx context.Context, unitID, detail string)
	RecordResearch(ctx context.Context, unitID, findings string)
}

// Config wires a Scheduler. Batcher and Executor are required; Queue and
// Researcher enable the research stage; Sink enables archival.
type Config struct {
	Batcher       *session.Batcher
	Executor      Executor
	Queue         *research.Queue
	Researcher    Researcher
	Sink          Sink
	StopOnFailure bool
	FlushInterval time.Duration
}

// Scheduler drives the backlog to completion one unit at a time.
type Scheduler struct {
	batcher       *session.Batcher
	executor      Executor
	queue         *research.Queue
	researcher    Researcher
	sink          Sink
	stopOnFailure bool
	flushInterval time.Duration
	log           *logx.Logger
}

// New validates the wiring and returns a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Batcher == nil {
		return nil, fmt.Errorf("failed to create scheduler: nil batcher")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("failed to create scheduler: nil executor")
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	return &Scheduler{
		batcher:       cfg.Batcher,
		executor:      cfg.Executor,
		queue:         cfg.Queue,
		researcher:    cfg.Researcher,
		sink:          cfg.Sink,
		stopOnFailure: cfg.StopOnFailure,
		flushInterval: flushInterval,
		log:           logx.NewLogger("scheduler"),
	}, nil
}

// ProcessNextItem picks the next eligible unit and runs it through research
// and execution. It returns false when no unit is eligible: the backlog is
// drained, everything remaining is blocked, or work is in flight elsewhere.
// A unit failure is contained (marked Failed, reported via the sink) and
// still counts as processed; with StopOnFailure the wrapped
// *UnitExecutionError is returned alongside true.
func (s *Scheduler) ProcessNextItem(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	snapshot := s.batcher.Snapshot()
	unit, ok := NextEligible(snapshot)
	if !ok {
		metrics.Default().IncSchedulerPick(metrics.PickIdle)
		return false, nil
	}

	metrics.Default().IncSchedulerPick(metrics.PickExecuted)
	s.log.Info("processing %s (%s)", unit.ID, unit.Title)
	if s.sink != nil {
		s.sink.RecordUnitStarted(ctx, unit.ID)
	}

	findings, err := s.researchStage(ctx, snapshot, unit)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if errors.Is(err, research.ErrQueueClosed) {
			return false, err
		}
		return s.failUnit(ctx, unit, err)
	}

	if err := s.batcher.SetStatus(unit.ID, backlog.StatusImplementing); err != nil {
		return false, err
	}

	result, err := s.executor.Execute(ctx, ExecRequest{
		Unit:       unit,
		SessionDir: s.batcher.State().Dir,
		Research:   findings,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return s.failUnit(ctx, unit, err)
	}

	if err := s.batcher.SetStatus(unit.ID, backlog.StatusComplete); err != nil {
		return false, err
	}
	if s.sink != nil {
		s.sink.RecordUnitComplete(ctx, unit.ID, result.Detail)
	}
	s.log.Info("completed %s", unit.ID)
	return true, nil
}

// researchStage runs the unit through the bounded queue and writes the
// findings artifact. With no queue or researcher wired the stage is skipped.
func (s *Scheduler) researchStage(ctx context.Context, snapshot *backlog.Backlog, unit *backlog.Subtask) (string, error) {
	if s.queue == nil || s.researcher == nil {
		return "", nil
	}

	if err := s.batcher.SetStatus(unit.ID, backlog.StatusResearching); err != nil {
		return "", err
	}

	if err := s.queue.Submit(ctx, unit.ID, func(qctx context.Context) (string, error) {
		return s.researcher.Research(qctx, unit)
	}); err != nil {
		return "", err
	}
	s.prefetch(ctx, snapshot, unit.ID)

	findings, err := s.queue.Await(ctx, unit.ID)
	if err != nil {
		return "", err
	}

	if err := s.writeFindings(unit.ID, findings); err != nil {
		return "", err
	}
	if s.sink != nil {
		s.sink.RecordResearch(ctx, unit.ID, findings)
	}
	return findings, nil
}

// prefetch submits research for the other currently eligible units so their
// producers overlap with this unit's execution. Coalescing makes the later
// pick's Await return immediately.
func (s *Scheduler) prefetch(ctx context.Context, b *backlog.Backlog, exclude string) {
	for _, sub := range b.Subtasks() {
		if sub.ID == exclude || !Eligible(b, sub) {
			continue
		}
		if err := s.queue.Submit(ctx, sub.ID, func(qctx context.Context) (string, error) {
			return s.researcher.Research(qctx, sub)
		}); err != nil {
			logx.Debug("scheduler", "prefetch for %s skipped: %v", sub.ID, err)
			return
		}
	}
}

// writeFindings stores the per-unit research artifact.
func (s *Scheduler) writeFindings(unitID, findings string) error {
	safe, err := utils.SanitizeUnitID(unitID)
	if err != nil {
		return fmt.Errorf("failed to name findings artifact: %w", err)
	}

	dir := filepath.Join(s.batcher.State().ResearchDir(), safe)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create research directory: %w", err)
	}
	if err := atomicfile.WriteFile(filepath.Join(dir, FindingsFilename), []byte(findings), 0644); err != nil {
		return fmt.Errorf("failed to write findings artifact: %w", err)
	}
	return nil
}

// failUnit marks the unit Failed and contains the error unless the scheduler
// was built with StopOnFailure.
func (s *Scheduler) failUnit(ctx context.Context, unit *backlog.Subtask, cause error) (bool, error) {
	execErr := &UnitExecutionError{UnitID: unit.ID, Err: cause}
	s.log.Error("%s", execErr.Error())

	if err := s.batcher.SetStatus(unit.ID, backlog.StatusFailed); err != nil {
		return true, err
	}
	metrics.Default().IncUnitFailed()
	if s.sink != nil {
		s.sink.RecordUnitFailed(ctx, unit.ID, execErr.Code()+": "+cause.Error())
	}

	if s.stopOnFailure {
		return true, execErr
	}
	return true, nil
}

// Run drains the backlog: ProcessNextItem until no unit is eligible,
// flushing accumulated updates every flush interval and once at the end.
// Remaining blocked units are reported before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	lastFlush := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		processed, err := s.ProcessNextItem(ctx)
		if err != nil {
			// Persist whatever the failed step accumulated.
			if flushErr := s.batcher.Flush(ctx); flushErr != nil {
				s.log.Warn("flush after error failed: %v", flushErr)
			}
			return err
		}
		if !processed {
			break
		}

		if time.Since(lastFlush) >= s.flushInterval {
			if err := s.batcher.Flush(ctx); err != nil {
				s.log.Warn("periodic flush failed, will retry: %v", err)
			} else {
				lastFlush = time.Now()
			}
		}
	}

	if err := s.batcher.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush after drain: %w", err)
	}

	snapshot := s.batcher.Snapshot()
	for _, bu := range Blocked(snapshot) {
		metrics.Default().IncSchedulerPick(metrics.PickBlocked)
		s.log.Warn("unit %s blocked on %s: %s", bu.ID, bu.BlockedOn, bu.Reason)
	}

	stats := snapshot.Stats()
	s.log.Info("drain complete: %d units, %d complete, %d failed",
		stats.Total, stats.ByStatus[backlog.StatusComplete], stats.ByStatus[backlog.StatusFailed])
	return nil
}
