// Package session manages plan session directories: creation, discovery,
// loading, and batched persistence of the backlog document.
//
// Each session lives under <root>/plan/<NNN>_<hash>/ where NNN is a
// monotonically increasing sequence number and hash identifies the PRD
// snapshot the session was planned from. Delta sessions nest under their
// parent in a bugfix/ subdirectory and carry a parent marker file.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"prpipe/pkg/atomicfile"
	"prpipe/pkg/backlog"
	"prpipe/pkg/logx"
	"prpipe/pkg/metrics"
	"prpipe/pkg/utils"
)

// Session directory layout.
const (
	PlanDirName          = "plan"
	DeltaDirName         = "bugfix"
	BacklogFilename      = "backlog.json"
	SnapshotFilename     = "prd_snapshot.md"
	ParentMarkerFilename = "parent"
	ResearchDirName      = "research"
	JournalFilename      = "journal.db"
	EventsDirName        = "events"

	// creatingMarker flags a session directory whose initial files have not
	// all landed yet. Discovery skips marked directories and Create sweeps
	// them away.
	creatingMarker = ".creating"
)

// ErrSessionNotFound reports a session ID or lookup with no matching
// directory on disk.
var ErrSessionNotFound = errors.New("session not found")

// LoadError reports a failure to load a session by ID. Err carries the
// underlying cause (ErrSessionNotFound, a validation error) so errors.Is
// and errors.As keep working through it.
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load session %q: %v", e.ID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Code returns the stable error code recorded in the journal.
func (e *LoadError) Code() string { return "SESSION_LOAD_FAILED" }

// sessionDirPattern matches session directory names: a zero-padded sequence
// number and the short PRD hash.
var sessionDirPattern = regexp.MustCompile(`^(\d{3})_([0-9a-f]{12})$`)

// State is a loaded session. Identity fields are set at load time and not
// mutated; Backlog tracks the last successfully persisted document and is
// maintained by SaveBacklog callers and the batcher.
type State struct {
	ID          string
	Dir         string
	ContentHash string
	ParentID    string
	CreatedAt   time.Time
	Backlog     *backlog.Backlog
	PRD         string
}

// BacklogPath returns the path of the authoritative backlog document.
func (st *State) BacklogPath() string {
	return filepath.Join(st.Dir, BacklogFilename)
}

// SnapshotPath returns the path of the immutable PRD snapshot.
func (st *State) SnapshotPath() string {
	return filepath.Join(st.Dir, SnapshotFilename)
}

// ResearchDir returns the per-unit research artifact directory.
func (st *State) ResearchDir() string {
	return filepath.Join(st.Dir, ResearchDirName)
}

// JournalPath returns the path of the session's SQLite journal.
func (st *State) JournalPath() string {
	return filepath.Join(st.Dir, JournalFilename)
}

// EventsDir returns the session's event log directory.
func (st *State) EventsDir() string {
	return filepath.Join(st.Dir, EventsDirName)
}

// IsDelta reports whether this session was forked from a parent.
func (st *State) IsDelta() bool {
	return st.ParentID != ""
}

// Store creates and loads sessions under <root>/plan.
type Store struct {
	root string
	log  *logx.Logger
}

// NewStore returns a store rooted at the project directory.
func NewStore(root string, log *logx.Logger) *Store {
	if log == nil {
		log = logx.NewLogger("session")
	}
	return &Store{root: root, log: log}
}

// Root returns the project directory the store was created with.
func (s *Store) Root() string {
	return s.root
}

// PlanDir returns the directory holding all plan sessions.
func (s *Store) PlanDir() string {
	return filepath.Join(s.root, PlanDirName)
}

// Create allocates the next sequence number under <root>/plan and writes a
// fresh session: PRD snapshot plus an empty, valid backlog. The directory
// carries a marker until both files land so a crash mid-create leaves a
// detectable half-session instead of a corrupt one.
func (s *Store) Create(ctx context.Context, prdText string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.create(ctx, s.PlanDir(), "", prdText)
}

// CreateDelta creates a session nested under parent
// (<parent>/bugfix/<NNN>_<hash>) with a parent marker. The caller seeds the
// inherited backlog afterwards via SaveBacklog.
func (s *Store) CreateDelta(ctx context.Context, parent *State, prdText string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("failed to create delta session: nil parent")
	}
	return s.create(ctx, filepath.Join(parent.Dir, DeltaDirName), parent.ID, prdText)
}

func (s *Store) create(ctx context.Context, base, parentID, prdText string) (*State, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session base directory: %w", err)
	}

	s.sweepHalfCreated(base)

	seq, err := nextSeq(base)
	if err != nil {
		return nil, fmt.Errorf("failed to scan existing sessions: %w", err)
	}

	hash := utils.ShortHash(prdText)
	name := fmt.Sprintf("%03d_%s", seq, hash)
	dir := filepath.Join(base, name)

	id := name
	if parentID != "" {
		id = parentID + "/" + DeltaDirName + "/" + name
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	marker := filepath.Join(dir, creatingMarker)
	if err := os.WriteFile(marker, nil, 0644); err != nil {
		return nil, fmt.Errorf("failed to write session marker: %w", err)
	}

	if parentID != "" {
		parentPath := filepath.Join(dir, ParentMarkerFilename)
		if err := os.WriteFile(parentPath, []byte(parentID+"\n"), 0644); err != nil {
			return nil, fmt.Errorf("failed to write parent marker: %w", err)
		}
	}

	if err := atomicfile.WriteFile(filepath.Join(dir, SnapshotFilename), []byte(prdText), 0644); err != nil {
		return nil, fmt.Errorf("failed to write PRD snapshot: %w", err)
	}

	doc := backlog.New()
	st := &State{
		ID:          id,
		Dir:         dir,
		ContentHash: hash,
		ParentID:    parentID,
		CreatedAt:   time.Now().UTC(),
		Backlog:     doc,
		PRD:         prdText,
	}
	if err := s.SaveBacklog(ctx, st, doc); err != nil {
		return nil, fmt.Errorf("failed to write initial backlog: %w", err)
	}

	if err := os.MkdirAll(st.EventsDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create events directory: %w", err)
	}

	// Both files landed; the session is now visible to discovery.
	if err := os.Remove(marker); err != nil {
		return nil, fmt.Errorf("failed to finalize session: %w", err)
	}

	s.log.Info("created session %s", id)
	return st, nil
}

// Load reads a session by ID. Delta sessions use path-form IDs
// (002_xxx/bugfix/001_yyy).
func (s *Store) Load(ctx context.Context, id string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !validSessionID(id) {
		return nil, &LoadError{ID: id, Err: ErrSessionNotFound}
	}
	dir := filepath.Join(s.PlanDir(), filepath.FromSlash(id))

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, &LoadError{ID: id, Err: ErrSessionNotFound}
	}
	if _, err := os.Stat(filepath.Join(dir, creatingMarker)); err == nil {
		logx.Debug("session", "refusing to load half-created session %s", id)
		return nil, &LoadError{ID: id, Err: ErrSessionNotFound}
	}

	data, err := os.ReadFile(filepath.Join(dir, BacklogFilename))
	if err != nil {
		return nil, &atomicfile.StorageError{Op: "read", Path: filepath.Join(dir, BacklogFilename), Err: err}
	}
	doc, err := backlog.Parse(data)
	if err != nil {
		return nil, &LoadError{ID: id, Err: err}
	}

	prdData, err := os.ReadFile(filepath.Join(dir, SnapshotFilename))
	if err != nil {
		return nil, &atomicfile.StorageError{Op: "read", Path: filepath.Join(dir, SnapshotFilename), Err: err}
	}

	parentID := ""
	if raw, err := os.ReadFile(filepath.Join(dir, ParentMarkerFilename)); err == nil {
		parentID = strings.TrimSpace(string(raw))
	}

	name := filepath.Base(dir)
	m := sessionDirPattern.FindStringSubmatch(name)

	return &State{
		ID:          id,
		Dir:         dir,
		ContentHash: m[2],
		ParentID:    parentID,
		CreatedAt:   info.ModTime().UTC(),
		Backlog:     doc,
		PRD:         string(prdData),
	}, nil
}

// SaveBacklog validates then atomically writes the backlog document. Invalid
// documents are never written.
func (s *Store) SaveBacklog(ctx context.Context, st *State, doc *backlog.Backlog) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := doc.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid backlog: %w", err)
	}
	if err := atomicfile.WriteJSON(st.BacklogPath(), doc); err != nil {
		return fmt.Errorf("failed to save backlog for %s: %w", st.ID, err)
	}

	metrics.Default().IncBacklogWrite()
	logx.Debug("session", "saved backlog for %s", st.ID)
	return nil
}

// sweepHalfCreated removes session directories still carrying the creating
// marker from an interrupted Create.
func (s *Store) sweepHalfCreated(base string) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() || !sessionDirPattern.MatchString(entry.Name()) {
			continue
		}
		dir := filepath.Join(base, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, creatingMarker)); err == nil {
			s.log.Warn("removing half-created session %s", entry.Name())
			if err := os.RemoveAll(dir); err != nil {
				s.log.Error("failed to remove half-created session %s: %v", entry.Name(), err)
			}
		}
	}
}

// nextSeq returns max existing sequence number + 1 within base.
func nextSeq(base string) (int, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}

	maxSeq := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := sessionDirPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		seq, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq + 1, nil
}

// validSessionID accepts plain session names and nested delta paths
// (alternating session name / bugfix components).
func validSessionID(id string) bool {
	if id == "" {
		return false
	}
	parts := strings.Split(id, "/")
	if len(parts)%2 == 0 {
		return false
	}
	for i, part := range parts {
		if i%2 == 0 {
			if !sessionDirPattern.MatchString(part) {
				return false
			}
		} else if part != DeltaDirName {
			return false
		}
	}
	return true
}
