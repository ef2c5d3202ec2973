package metrics

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderSnapshot(t *testing.T) {
	r := NewRecorder()

	r.IncBacklogWrite()
	r.IncBatcherFlush()
	r.IncBatcherUpdate()
	r.IncBatcherUpdate()
	r.IncSchedulerPick(PickExecuted)
	r.IncSchedulerPick(PickExecuted)
	r.IncSchedulerPick(PickBlocked)
	r.IncUnitFailed()

	r.ResearchEnqueued()
	r.ResearchDequeued()
	r.ResearchStarted()

	var buf bytes.Buffer
	require.NoError(t, r.WriteSnapshot(&buf))
	out := buf.String()

	assert.Contains(t, out, "prpipe_backlog_writes_total 1")
	assert.Contains(t, out, "prpipe_batcher_flushes_total 1")
	assert.Contains(t, out, "prpipe_batcher_updates_total 2")
	assert.Contains(t, out, `prpipe_scheduler_picks_total{outcome="executed"} 2`)
	assert.Contains(t, out, `prpipe_scheduler_picks_total{outcome="blocked"} 1`)
	assert.Contains(t, out, "prpipe_units_failed_total 1")
	assert.Contains(t, out, "prpipe_research_inflight 1")
	assert.Contains(t, out, "prpipe_research_queued 0")
}

func TestRecordersAreIndependent(t *testing.T) {
	a := NewRecorder()
	b := NewRecorder()

	a.IncBacklogWrite()

	var buf bytes.Buffer
	require.NoError(t, b.WriteSnapshot(&buf))
	assert.Contains(t, buf.String(), "prpipe_backlog_writes_total 0")
}

func TestSnapshotToFile(t *testing.T) {
	r := NewRecorder()
	r.IncBacklogWrite()

	dir := filepath.Join(t.TempDir(), "logs")
	path, err := r.SnapshotToFile(dir)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(filepath.Base(path), "metrics-"))
	assert.True(t, strings.HasSuffix(path, ".prom"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "prpipe_backlog_writes_total 1")
}

func TestDefaultIsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
