package persistence

import (
	"fmt"

	"prpipe/pkg/utils"
)

// writerBuffer sizes the request channel; producers never block on the
// archive in normal operation.
const writerBuffer = 100

// StartWriter launches the background writer goroutine and returns the
// channel producers send requests on. Calling StartWriter again returns the
// same channel.
func (d *DB) StartWriter() chan<- *Request {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch != nil {
		return d.ch
	}
	d.ch = make(chan *Request, writerBuffer)
	d.done = make(chan struct{})

	go d.writerLoop(d.ch, d.done)
	return d.ch
}

// StopWriter closes the request channel and waits for the writer to drain
// every queued request. A no-op when the writer never started.
func (d *DB) StopWriter() {
	d.mu.Lock()
	ch, done := d.ch, d.done
	d.ch, d.done = nil, nil
	d.mu.Unlock()

	if ch == nil {
		return
	}
	close(ch)
	<-done
}

func (d *DB) writerLoop(ch <-chan *Request, done chan<- struct{}) {
	defer close(done)

	for req := range ch {
		if req != nil {
			d.process(req)
		}
	}
	d.log.Debug("writer drained")
}

// process handles one request. Write failures are logged, not propagated:
// the archive is advisory and must never stall the run loop.
func (d *DB) process(req *Request) {
	switch req.Operation {
	case OpUpsertResearch:
		if rec, ok := utils.SafeAssert[*ResearchRecord](req.Data); ok {
			if err := d.RecordResearch(rec); err != nil {
				d.log.Error("failed to archive research for %s: %v", rec.UnitID, err)
			}
		}

	case OpAppendJournal:
		if entry, ok := utils.SafeAssert[*JournalEntry](req.Data); ok {
			if err := d.AppendJournal(entry); err != nil {
				d.log.Error("failed to journal %s for %s: %v", entry.Kind, entry.UnitID, err)
			}
		}

	case OpGetResearch:
		if req.Response == nil {
			return
		}
		unitID, ok := utils.SafeAssert[string](req.Data)
		if !ok {
			req.Response <- fmt.Errorf("get_research expects a unit id string, got %T", req.Data)
			return
		}
		rec, err := d.GetResearch(unitID)
		if err != nil {
			req.Response <- err
			return
		}
		req.Response <- rec

	default:
		d.log.Warn("unknown persistence operation: %s", req.Operation)
	}
}

// PersistResearch queues a research archive write, fire-and-forget. Nil
// arguments are ignored so callers can pass an optional channel through.
func PersistResearch(rec *ResearchRecord, ch chan<- *Request) {
	if ch == nil || rec == nil {
		return
	}
	ch <- &Request{Operation: OpUpsertResearch, Data: rec}
}

// PersistJournal queues a journal append, fire-and-forget.
func PersistJournal(entry *JournalEntry, ch chan<- *Request) {
	if ch == nil || entry == nil {
		return
	}
	ch <- &Request{Operation: OpAppendJournal, Data: entry}
}
