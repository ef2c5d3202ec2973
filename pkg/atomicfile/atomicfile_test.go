package atomicfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	in := payload{Name: "alpha", Count: 3}
	require.NoError(t, WriteJSON(path, in))

	var out payload
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestWriteJSONIndentation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	require.NoError(t, WriteJSON(path, payload{Name: "x", Count: 1}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "{\n  \"name\": \"x\",\n  \"count\": 1\n}")
	assert.True(t, strings.HasSuffix(string(data), "\n"), "document should end with a newline")
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	for i := 0; i < 5; i++ {
		require.NoError(t, WriteJSON(path, payload{Name: "x", Count: i}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc.json", entries[0].Name())
}

func TestWriteReplacesExistingAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	require.NoError(t, WriteJSON(path, payload{Name: "old", Count: 1}))
	require.NoError(t, WriteJSON(path, payload{Name: "new", Count: 2}))

	var out payload
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, "new", out.Name)
}

func TestWriteFailureLeavesDestinationUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, WriteJSON(path, payload{Name: "keep", Count: 1}))

	// Marshaling a channel fails before any file is touched.
	err := WriteJSON(path, make(chan int))
	require.Error(t, err)

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "encode", storageErr.Op)

	var out payload
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, "keep", out.Name)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadJSONRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"x","count":1,"extra":true}`), 0644))

	var out payload
	err := ReadJSON(path, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestReadJSONMissingFile(t *testing.T) {
	var out payload
	err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &out)
	require.Error(t, err)

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "read", storageErr.Op)
	assert.Equal(t, "STORAGE_READ_FAILED", storageErr.Code())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRemoveStale(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, ".doc.json.deadbeef.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("{}"), 0644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := filepath.Join(dir, ".doc.json.cafebabe.tmp")
	require.NoError(t, os.WriteFile(fresh, []byte("{}"), 0644))

	regular := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(regular, []byte("{}"), 0644))

	removed, err := RemoveStale(dir, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, regular)
}

func TestWriteFileRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.md")

	content := []byte("# PRD\n\nBody.\n")
	require.NoError(t, WriteFile(path, content, 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestWriteJSONEncodesLikeMarshalIndent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	in := payload{Name: "alpha", Count: 3}
	require.NoError(t, WriteJSON(path, in))

	want, err := json.MarshalIndent(in, "", "  ")
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(want)+"\n", string(got))
}
