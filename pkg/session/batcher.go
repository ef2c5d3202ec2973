package session

import (
	"context"
	"sync"

	"prpipe/pkg/backlog"
	"prpipe/pkg/logx"
	"prpipe/pkg/metrics"
)

// Batcher coalesces status updates into single physical writes.
//
// The batcher is either clean (working copy matches disk) or dirty (working
// copy ahead of disk). SetStatus never touches disk; Flush writes the whole
// accumulated delta in one SaveBacklog call. A failed flush leaves the
// batcher dirty with the working copy intact, so a later flush retries the
// full delta.
type Batcher struct {
	mu      sync.Mutex
	store   *Store
	state   *State
	working *backlog.Backlog
	dirty   bool
	pending int
	log     *logx.Logger
}

// NewBatcher wraps a loaded session. The working copy starts at the
// session's on-disk backlog.
func NewBatcher(store *Store, state *State) *Batcher {
	return &Batcher{
		store:   store,
		state:   state,
		working: state.Backlog,
		log:     logx.NewLogger("batcher"),
	}
}

// SetStatus applies one status update to the working copy. Unknown IDs and
// invalid statuses leave the batcher unchanged.
func (b *Batcher) SetStatus(id string, status backlog.Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next, err := b.working.WithStatus(id, status)
	if err != nil {
		return err
	}
	b.working = next
	b.dirty = true
	b.pending++
	metrics.Default().IncBatcherUpdate()
	logx.Debug("batcher", "queued %s -> %s (%d pending)", id, status, b.pending)
	return nil
}

// Snapshot returns the current working copy. Snapshots stay valid across
// later SetStatus calls; callers must not mutate them.
func (b *Batcher) Snapshot() *backlog.Backlog {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.working
}

// State returns the session the batcher writes to.
func (b *Batcher) State() *State {
	return b.state
}

// Flush persists all accumulated updates in one atomic write. Flushing a
// clean batcher performs no I/O.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.dirty {
		return nil
	}

	if err := b.store.SaveBacklog(ctx, b.state, b.working); err != nil {
		b.log.Error("flush failed, keeping %d pending updates: %v", b.pending, err)
		return err
	}

	// Keep the session state in step with disk so anything holding the
	// State (delta forks in particular) sees the persisted document.
	b.state.Backlog = b.working

	b.log.Info("flushed %d updates for %s", b.pending, b.state.ID)
	b.dirty = false
	b.pending = 0
	metrics.Default().IncBatcherFlush()
	return nil
}

// Dirty reports whether the working copy is ahead of disk.
func (b *Batcher) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// PendingUpdates returns the number of updates accumulated since the last
// successful flush.
func (b *Batcher) PendingUpdates() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}
