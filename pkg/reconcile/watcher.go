package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"prpipe/pkg/config"
	"prpipe/pkg/logx"
	"prpipe/pkg/utils"
)

// Change reports that the watched PRD file now hashes differently from the
// active session's snapshot.
type Change struct {
	Hash string
	Path string
}

// Watcher watches a single PRD file for edits. Write bursts are debounced,
// the file is re-hashed, and a Change is emitted only when the content
// actually diverged from the baseline hash. The watcher never mutates
// session state; the driver decides whether to fork.
type Watcher struct {
	path     string
	debounce time.Duration
	fsw      *fsnotify.Watcher
	ch       chan Change
	done     chan struct{}
	stopOnce sync.Once
	log      *logx.Logger

	mu       sync.Mutex
	baseline string
	started  bool
}

// NewWatcher prepares a watcher for the PRD at path. baselineHash is the
// content hash of the active session's snapshot; Changes fire only when the
// file diverges from it. Call Start to begin watching.
func NewWatcher(path, baselineHash string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve prd path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory, not the file: editors commonly replace the file
	// by rename, which drops a watch on the file itself.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		debounce: config.GetWatchDebounce(),
		fsw:      fsw,
		ch:       make(chan Change, 1),
		done:     make(chan struct{}),
		log:      logx.NewLogger("reconcile"),
		baseline: baselineHash,
	}, nil
}

// Start begins watching. Calling Start twice is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go w.run(ctx)
}

// C delivers divergence notifications. The channel holds at most one pending
// Change, always the newest, and is closed when the watcher stops.
func (w *Watcher) C() <-chan Change {
	return w.ch
}

// SetBaseline replaces the hash changes are compared against, typically
// after the driver forked a new session for the previous Change.
func (w *Watcher) SetBaseline(hash string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.baseline = hash
}

// Close stops watching. Safe to call more than once.
func (w *Watcher) Close() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.ch)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error on %s: %v", w.path, err)
		case <-timer.C:
			w.emitIfDiverged()
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename)
}

// emitIfDiverged re-reads the file after the debounce window and publishes a
// Change when the hash no longer matches the baseline. A pending unread
// Change is replaced so the receiver always sees the newest hash.
func (w *Watcher) emitIfDiverged() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		// Mid-save rename can leave a gap; the next event retries.
		logx.Debug("reconcile", "prd re-read failed: %v", err)
		return
	}
	hash := utils.ContentHash(string(data))

	w.mu.Lock()
	baseline := w.baseline
	w.mu.Unlock()
	if hash == baseline {
		return
	}

	select {
	case <-w.ch:
	default:
	}
	w.ch <- Change{Hash: hash, Path: w.path}
	logx.Debug("reconcile", "prd diverged from active snapshot: %s", hash[:utils.ShortHashLen])
}
