// Package eventlog appends scheduling events to daily rotated JSONL files.
// The stream duplicates the run journal in a tail-friendly form.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one line of the stream.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	UnitID    string         `json:"unit_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// NewEvent builds a stamped event for the given kind and scope.
func NewEvent(kind, sessionID, unitID string) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		ID:        uuid.New().String(),
		Kind:      kind,
		UnitID:    unitID,
		SessionID: sessionID,
		Detail:    make(map[string]any),
	}
}

// SetDetail attaches a key/value pair to the event payload.
func (e *Event) SetDetail(key string, value any) {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
}

// Writer appends events to daily rotated JSONL files in a log directory.
type Writer struct {
	logDir        string
	currentFile   *os.File
	currentDate   string
	openedAt      time.Time
	mu            sync.Mutex
	rotationHours int
}

// NewWriter creates an event log writer rotating in the specified directory.
func NewWriter(logDir string, rotationHours int) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Default to daily rotation.
	if rotationHours <= 0 {
		rotationHours = 24
	}

	writer := &Writer{
		logDir:        logDir,
		rotationHours: rotationHours,
	}

	// Initialize with current log file.
	if err := writer.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}

	return writer, nil
}

// Append writes one event to the current log file with automatic rotation.
// A zero ID or Timestamp is filled in before serialization.
func (w *Writer) Append(e *Event) error {
	if e == nil {
		return fmt.Errorf("nil event")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	jsonData, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	if _, err := w.currentFile.Write(jsonData); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	// Newline terminates the JSONL record.
	if _, err := w.currentFile.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush so a tail sees the event immediately.
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	return nil
}

func (w *Writer) rotateIfNeeded() error {
	now := time.Now()
	newDate := now.Format("2006-01-02")

	if w.currentFile == nil || w.currentDate != newDate {
		return w.rotate(newDate)
	}

	// A same-date reopen once the interval passes lands on the same
	// filename, so appends continue where they left off.
	if now.Sub(w.openedAt) >= time.Duration(w.rotationHours)*time.Hour {
		return w.rotate(newDate)
	}

	return nil
}

func (w *Writer) rotate(newDate string) error {
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	path := filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", newDate))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentDate = newDate
	w.openedAt = time.Now()

	return nil
}

// Close closes the current log file. A later Append reopens it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile != nil {
		err := w.currentFile.Close()
		w.currentFile = nil
		if err != nil {
			return fmt.Errorf("failed to close event log file: %w", err)
		}
	}

	return nil
}

// GetCurrentLogFile returns the path of the currently active log file.
func (w *Writer) GetCurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return ""
	}

	return filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", w.currentDate))
}

// ReadEvents reads and parses events from a specific log file.
func ReadEvents(logFilePath string) ([]*Event, error) {
	data, err := os.ReadFile(logFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	if len(data) == 0 {
		return []*Event{}, nil
	}

	var events []*Event
	line := []byte{}

	for _, b := range data {
		if b == '\n' {
			if len(line) > 0 {
				var ev Event
				if err := json.Unmarshal(line, &ev); err != nil {
					return nil, fmt.Errorf("failed to parse event: %w", err)
				}
				events = append(events, &ev)
				line = []byte{}
			}
		} else {
			line = append(line, b)
		}
	}

	// Handle last line if no trailing newline.
	if len(line) > 0 {
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("failed to parse final event: %w", err)
		}
		events = append(events, &ev)
	}

	return events, nil
}

// ListLogFiles returns all event log files in the log directory.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}

	return files, nil
}
