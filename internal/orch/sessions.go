package orch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"prpipe/pkg/backlog"
	"prpipe/pkg/reconcile"
	"prpipe/pkg/scheduler"
	"prpipe/pkg/session"
	"prpipe/pkg/utils"
)

// Initialize binds the orchestrator to the session for the PRD at prdPath.
// A session planned from the same content resumes. A changed PRD forks a
// delta session off the latest lineage when auto-delta is on, and otherwise
// starts a fresh plan session.
func (o *Orchestrator) Initialize(ctx context.Context, prdPath string) (*session.State, error) {
	raw, err := os.ReadFile(prdPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prd %s: %w", prdPath, err)
	}
	prdText := string(raw)

	abs, err := filepath.Abs(prdPath)
	if err != nil {
		abs = prdPath
	}

	st, forked, err := o.resolveSession(ctx, prdText)
	if err != nil {
		return nil, err
	}
	if err := o.bind(ctx, st); err != nil {
		return nil, err
	}
	if forked {
		o.recordFork(st)
	}

	o.mu.Lock()
	o.prdPath = abs
	o.prdHash = utils.ContentHash(prdText)
	o.mu.Unlock()

	return st, nil
}

// resolveSession maps PRD content to the session to bind: resume on matching
// content hash, delta fork off the latest session when auto-delta is on, and
// a fresh session otherwise.
func (o *Orchestrator) resolveSession(ctx context.Context, prdText string) (*session.State, bool, error) {
	hash := utils.ContentHash(prdText)

	info, err := o.store.FindByContentHash(ctx, hash)
	switch {
	case err == nil:
		o.log.Info("resuming session %s for unchanged prd", info.ID)
		st, lerr := o.store.Load(ctx, info.ID)
		return st, false, lerr
	case !errors.Is(err, session.ErrSessionNotFound):
		return nil, false, err
	}

	if o.autoDelta {
		latest, err := o.store.FindLatest(ctx)
		switch {
		case err == nil:
			parent, lerr := o.store.Load(ctx, latest.ID)
			if lerr != nil {
				return nil, false, lerr
			}
			st, ferr := reconcile.Fork(ctx, o.store, parent, prdText)
			if errors.Is(ferr, reconcile.ErrNoDelta) {
				o.log.Info("prd changed without section-level delta; resuming %s", parent.ID)
				return parent, false, nil
			}
			if ferr != nil {
				return nil, false, ferr
			}
			return st, true, nil
		case !errors.Is(err, session.ErrSessionNotFound):
			return nil, false, err
		}
	}

	st, err := o.store.Create(ctx, prdText)
	return st, false, err
}

// LoadSession binds an existing session by ID.
func (o *Orchestrator) LoadSession(ctx context.Context, id string) (*session.State, error) {
	st, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.bind(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// SaveBacklog installs a full planned document for the bound session. The
// batcher must be clean: batched updates would be lost under the incoming
// document. Must not be called while Run is draining.
func (o *Orchestrator) SaveBacklog(ctx context.Context, doc *backlog.Backlog) error {
	if doc == nil {
		return fmt.Errorf("failed to save backlog: nil document")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.batcher == nil {
		return fmt.Errorf("failed to save backlog: %w", ErrNoSession)
	}
	if o.batcher.Dirty() {
		return fmt.Errorf("failed to save backlog: %d batched updates pending, flush first", o.batcher.PendingUpdates())
	}

	st := o.batcher.State()
	if err := o.store.SaveBacklog(ctx, st, doc); err != nil {
		return err
	}
	st.Backlog = doc
	o.batcher = session.NewBatcher(o.store, st)
	return o.buildSchedulerLocked()
}

// UpdateStatus queues one status update through the batcher.
func (o *Orchestrator) UpdateStatus(ctx context.Context, unitID string, status backlog.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := o.currentBatcher()
	if b == nil {
		return fmt.Errorf("failed to update status: %w", ErrNoSession)
	}
	return b.SetStatus(unitID, status)
}

// FlushUpdates persists all batched updates in one write.
func (o *Orchestrator) FlushUpdates(ctx context.Context) error {
	b := o.currentBatcher()
	if b == nil {
		return fmt.Errorf("failed to flush updates: %w", ErrNoSession)
	}
	return b.Flush(ctx)
}

// ListSessions returns every session under the project in lineage order.
func (o *Orchestrator) ListSessions(ctx context.Context) ([]session.Info, error) {
	return o.store.List(ctx)
}

// FindLatestSession returns the newest session in lineage order.
func (o *Orchestrator) FindLatestSession(ctx context.Context) (*session.Info, error) {
	return o.store.FindLatest(ctx)
}

// FindSessionByContentHash returns the newest session planned from the PRD
// with the given content hash.
func (o *Orchestrator) FindSessionByContentHash(ctx context.Context, hash string) (*session.Info, error) {
	return o.store.FindByContentHash(ctx, hash)
}

// NextEligibleUnit returns the unit the scheduler would pick next, without
// running it.
func (o *Orchestrator) NextEligibleUnit(ctx context.Context) (*backlog.Subtask, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	b := o.currentBatcher()
	if b == nil {
		return nil, false
	}
	return scheduler.NextEligible(b.Snapshot())
}

// ProcessNextItem runs a single scheduling step.
func (o *Orchestrator) ProcessNextItem(ctx context.Context) (bool, error) {
	o.mu.Lock()
	sched := o.sched
	o.mu.Unlock()
	if sched == nil {
		return false, fmt.Errorf("failed to process next item: %w", ErrNoSession)
	}
	return sched.ProcessNextItem(ctx)
}
