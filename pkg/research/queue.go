// Package research provides a bounded, coalescing work queue for unit
// research producers.
//
// At most capacity producers run at once; excess submissions wait in strict
// FIFO order. Submitting a key that is already queued, running, or finished
// coalesces onto the existing entry, so every Await for a key observes the
// same single producer run.
package research

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"prpipe/pkg/logx"
	"prpipe/pkg/metrics"
)

var (
	// ErrQueueClosed reports a submit or await against a closed queue.
	ErrQueueClosed = errors.New("research queue closed")

	// ErrUnknownKey reports an await for a key that was never submitted.
	ErrUnknownKey = errors.New("unknown research key")
)

// ProduceFunc computes the findings for one key. The context is the queue's
// run context and is canceled on Close.
type ProduceFunc func(ctx context.Context) (string, error)

type entry struct {
	key     string
	produce ProduceFunc
	done    chan struct{}
	result  string
	err     error
}

// Queue is a bounded work queue keyed by unit ID.
type Queue struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*entry
	pending  []*entry
	inflight int
	closed   bool

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	log       *logx.Logger
}

// NewQueue creates a queue running at most capacity producers concurrently.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		capacity:  capacity,
		entries:   make(map[string]*entry),
		runCtx:    ctx,
		runCancel: cancel,
		log:       logx.NewLogger("research"),
	}
}

// Submit admits a keyed producer. Admission never blocks: the producer
// starts immediately when a slot is free, otherwise it joins the FIFO
// backlog. A key already known to the queue coalesces without scheduling a
// second run.
func (q *Queue) Submit(ctx context.Context, key string, produce ProduceFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("failed to submit research for %s: %w", key, ErrQueueClosed)
	}
	if _, exists := q.entries[key]; exists {
		logx.Debug("research", "coalescing submit for %s", key)
		return nil
	}

	e := &entry{key: key, produce: produce, done: make(chan struct{})}
	q.entries[key] = e
	q.pending = append(q.pending, e)
	metrics.Default().ResearchEnqueued()
	q.startLocked()
	return nil
}

// startLocked starts pending producers in submit order while slots remain.
func (q *Queue) startLocked() {
	for q.inflight < q.capacity && len(q.pending) > 0 {
		e := q.pending[0]
		q.pending = q.pending[1:]
		q.inflight++
		metrics.Default().ResearchDequeued()
		metrics.Default().ResearchStarted()
		q.wg.Add(1)
		go q.run(e)
	}
}

func (q *Queue) run(e *entry) {
	defer q.wg.Done()

	logx.Debug("research", "producing %s", e.key)
	result, err := e.produce(q.runCtx)

	q.mu.Lock()
	e.result = result
	e.err = err
	close(e.done)
	q.inflight--
	metrics.Default().ResearchFinished()
	q.startLocked()
	q.mu.Unlock()

	if err != nil {
		q.log.Warn("research for %s failed: %v", e.key, err)
	}
}

// Await blocks until the key's producer completes, the context is canceled,
// or the queue closes underneath it.
func (q *Queue) Await(ctx context.Context, key string) (string, error) {
	q.mu.Lock()
	e, ok := q.entries[key]
	q.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("failed to await research for %s: %w", key, ErrUnknownKey)
	}

	select {
	case <-e.done:
		return e.result, e.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops admission, fails queued-not-started entries with
// ErrQueueClosed, cancels the run context, and waits for in-flight
// producers to return. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, e := range q.pending {
		e.err = fmt.Errorf("research for %s abandoned: %w", e.key, ErrQueueClosed)
		close(e.done)
		metrics.Default().ResearchDequeued()
	}
	q.pending = nil
	q.mu.Unlock()

	q.runCancel()
	q.wg.Wait()
	q.log.Info("research queue closed")
}

// InFlight returns the number of currently running producers.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight
}

// Depth returns the number of submitted producers waiting for a slot.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
