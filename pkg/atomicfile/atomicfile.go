// Package atomicfile writes files via a same-directory temp file plus rename,
// so readers observe either the old or the new complete contents and a crash
// never leaves a partially written destination behind.
package atomicfile

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StorageError wraps a filesystem failure with the operation and path that
// produced it.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Code returns the stable error code recorded in the journal.
func (e *StorageError) Code() string {
	if e.Op == "read" {
		return "STORAGE_READ_FAILED"
	}
	return "STORAGE_WRITE_FAILED"
}

// WriteJSON marshals v with 2-space indentation and writes it atomically to
// path with mode 0644. The temp file is a hidden sibling
// (.{basename}.{random hex}.tmp) in the same directory so the final rename
// stays on one filesystem; it is removed on every failure path.
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return &StorageError{Op: "encode", Path: path, Err: err}
	}
	return WriteFile(path, buf.Bytes(), 0644)
}

// WriteFile writes raw bytes atomically with the same temp+rename discipline.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	tmpPath, err := tempPath(path)
	if err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return &StorageError{Op: "sync", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &StorageError{Op: "close", Path: path, Err: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return &StorageError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// ReadJSON reads path and strictly decodes it into v, rejecting unknown
// fields.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &StorageError{Op: "read", Path: path, Err: err}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &StorageError{Op: "decode", Path: path, Err: err}
	}
	return nil
}

// tempPath builds the hidden sibling temp file name with a random hex suffix.
func tempPath(path string) (string, error) {
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("failed to generate temp suffix: %w", err)
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	return filepath.Join(dir, fmt.Sprintf(".%s.%x.tmp", base, suffix)), nil
}

// RemoveStale deletes abandoned temp files in dir older than maxAge. Temp
// files only outlive a write when the process died between create and rename,
// so anything old is crash residue. Returns the number removed.
func RemoveStale(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, &StorageError{Op: "read", Path: dir, Err: err}
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}
