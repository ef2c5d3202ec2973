package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prpipe/pkg/config"
	"prpipe/pkg/utils"
)

// fastDebounce shortens the debounce window so watcher tests finish quickly.
func fastDebounce(t *testing.T) {
	t.Helper()
	config.SetConfigForTesting(&config.Config{
		SchemaVersion: config.SchemaVersion,
		Orchestration: &config.OrchestrationConfig{
			FlushIntervalMS: config.DefaultFlushIntervalMS,
			WatchDebounceMS: 50,
		},
	})
	t.Cleanup(func() { config.SetConfigForTesting(nil) })
}

func startWatcher(t *testing.T, path, baseline string) *Watcher {
	t.Helper()
	w, err := NewWatcher(path, baseline)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	w.Start(context.Background())
	return w
}

func awaitChange(t *testing.T, w *Watcher) Change {
	t.Helper()
	select {
	case c, ok := <-w.C():
		require.True(t, ok, "watcher channel closed early")
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func assertNoChange(t *testing.T, w *Watcher, wait time.Duration) {
	t.Helper()
	select {
	case c := <-w.C():
		t.Fatalf("unexpected change: %+v", c)
	case <-time.After(wait):
	}
}

func TestWatcherEmitsOnDivergence(t *testing.T) {
	fastDebounce(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "prd.md")
	original := "# Payments\n\n## Goals\n\nA.\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0644))

	w := startWatcher(t, path, utils.ContentHash(original))

	edited := "# Payments\n\n## Goals\n\nB.\n"
	require.NoError(t, os.WriteFile(path, []byte(edited), 0644))

	c := awaitChange(t, w)
	assert.Equal(t, utils.ContentHash(edited), c.Hash)
	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	assert.Equal(t, abs, c.Path)
}

func TestWatcherIgnoresMatchingContent(t *testing.T) {
	fastDebounce(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "prd.md")
	original := "# Payments\n\n## Goals\n\nA.\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0644))

	w := startWatcher(t, path, utils.ContentHash(original))

	// Rewriting identical bytes changes the mtime but not the hash.
	require.NoError(t, os.WriteFile(path, []byte(original), 0644))
	assertNoChange(t, w, 300*time.Millisecond)
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	fastDebounce(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "prd.md")
	original := "# Payments\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0644))

	w := startWatcher(t, path, utils.ContentHash(original))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("scratch"), 0644))
	assertNoChange(t, w, 300*time.Millisecond)
}

func TestWatcherSetBaseline(t *testing.T) {
	fastDebounce(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "prd.md")
	original := "# Payments\n\nv1\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0644))

	w := startWatcher(t, path, utils.ContentHash(original))

	edited := "# Payments\n\nv2\n"
	require.NoError(t, os.WriteFile(path, []byte(edited), 0644))
	c := awaitChange(t, w)
	require.Equal(t, utils.ContentHash(edited), c.Hash)

	// After the driver forks, the new snapshot becomes the baseline and the
	// same content no longer counts as divergence.
	w.SetBaseline(c.Hash)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0644))
	assertNoChange(t, w, 300*time.Millisecond)

	final := "# Payments\n\nv3\n"
	require.NoError(t, os.WriteFile(path, []byte(final), 0644))
	c = awaitChange(t, w)
	assert.Equal(t, utils.ContentHash(final), c.Hash)
}

func TestWatcherCloseEndsStream(t *testing.T) {
	fastDebounce(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "prd.md")
	require.NoError(t, os.WriteFile(path, []byte("# Payments\n"), 0644))

	w := startWatcher(t, path, utils.ContentHash("# Payments\n"))
	w.Close()
	w.Close()

	select {
	case _, ok := <-w.C():
		assert.False(t, ok, "channel closes after Close")
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close")
	}
}
