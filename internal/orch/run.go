package orch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"prpipe/pkg/reconcile"
	"prpipe/pkg/utils"
)

// Run-group sentinels. errDrained ends the group once the drain loop has no
// work left; errPRDChanged ends it when the watched PRD diverges. Both are
// mapped back to normal control flow by runOnce.
var (
	errDrained    = errors.New("backlog drained")
	errPRDChanged = errors.New("prd changed")
)

// SetWatch toggles the PRD watcher for Run. With watch on, Run stays alive
// after the backlog drains and forks a delta session whenever the PRD file
// diverges from the bound snapshot.
func (o *Orchestrator) SetWatch(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.watch = enabled
}

// Run drains the bound session's backlog: the scheduler loop, a periodic
// flush ticker, and optionally the PRD watcher run as one group, and the
// first error cancels all of them. A watched PRD change stops the drain,
// forks a delta session, rebinds, and resumes on the new backlog.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	watch := o.watch
	prdPath := o.prdPath
	baseline := o.prdHash
	bound := o.batcher != nil && !o.closed
	o.mu.Unlock()

	if !bound {
		return fmt.Errorf("failed to run: %w", ErrNoSession)
	}

	var watcher *reconcile.Watcher
	if watch {
		if prdPath == "" {
			o.log.Warn("watch requested but no prd path is bound; running without watcher")
		} else {
			w, err := reconcile.NewWatcher(prdPath, baseline)
			if err != nil {
				return fmt.Errorf("failed to start prd watcher: %w", err)
			}
			w.Start(ctx)
			defer w.Close()
			watcher = w
			o.log.Info("watching %s for prd changes", prdPath)
		}
	}

	for {
		change, err := o.runOnce(ctx, watcher)
		if err != nil {
			return err
		}
		if change == nil {
			return nil
		}
		if err := o.forkFromChange(ctx, watcher, change); err != nil {
			return err
		}
	}
}

// runOnce runs one drain group. It returns a non-nil change when the watched
// PRD diverged, and (nil, nil) when the backlog drained without watch mode.
func (o *Orchestrator) runOnce(ctx context.Context, watcher *reconcile.Watcher) (*reconcile.Change, error) {
	o.mu.Lock()
	sched := o.sched
	o.mu.Unlock()
	if sched == nil {
		return nil, fmt.Errorf("failed to run: %w", ErrNoSession)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sched.Run(gctx); err != nil {
			return err
		}
		if watcher != nil {
			// Watch mode keeps the group alive for PRD edits after the
			// drain; the watcher goroutine decides when to stop.
			return nil
		}
		return errDrained
	})

	g.Go(func() error {
		ticker := time.NewTicker(o.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := o.FlushUpdates(gctx); err != nil {
					o.log.Warn("periodic flush failed, will retry: %v", err)
				}
			}
		}
	})

	var change reconcile.Change
	var gotChange bool
	if watcher != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case c, ok := <-watcher.C():
				if !ok {
					return errDrained
				}
				change = c
				gotChange = true
				return errPRDChanged
			}
		})
	}

	err := g.Wait()
	switch {
	case errors.Is(err, errDrained):
		return nil, nil
	case errors.Is(err, errPRDChanged) && gotChange:
		return &change, nil
	default:
		return nil, err
	}
}

// forkFromChange turns a watcher divergence into a delta session and rebinds
// the orchestrator to it. The drain loop has stopped by the time this runs.
func (o *Orchestrator) forkFromChange(ctx context.Context, watcher *reconcile.Watcher, change *reconcile.Change) error {
	raw, err := os.ReadFile(change.Path)
	if err != nil {
		return fmt.Errorf("failed to read changed prd: %w", err)
	}
	newPRD := string(raw)
	newHash := utils.ContentHash(newPRD)

	o.mu.Lock()
	batcher := o.batcher
	o.mu.Unlock()
	if batcher == nil {
		return fmt.Errorf("failed to fork: %w", ErrNoSession)
	}
	parent := batcher.State()

	if err := batcher.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush before fork: %w", err)
	}

	st, err := reconcile.Fork(ctx, o.store, parent, newPRD)
	if errors.Is(err, reconcile.ErrNoDelta) {
		o.log.Info("prd change has no section-level delta; keeping session %s", parent.ID)
		watcher.SetBaseline(newHash)
		o.setPRDHash(newHash)
		return nil
	}
	if err != nil {
		return err
	}

	if err := o.bind(ctx, st); err != nil {
		return err
	}
	o.recordFork(st)
	watcher.SetBaseline(newHash)
	o.setPRDHash(newHash)
	return nil
}

func (o *Orchestrator) setPRDHash(hash string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prdHash = hash
}
