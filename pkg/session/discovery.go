package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"prpipe/pkg/logx"
	"prpipe/pkg/utils"
)

// Info summarizes a discovered session without loading its backlog.
type Info struct {
	ID          string
	Dir         string
	Seq         int
	ContentHash string
	ParentID    string
	IsDelta     bool
}

// List returns all sessions under the root in lineage order: plan sessions
// by ascending sequence number, each immediately followed by its delta
// sessions. Non-session directories and half-created sessions are skipped.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.listDir(s.PlanDir(), "")
}

func (s *Store) listDir(base, parentID string) ([]Info, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session directory %s: %w", base, err)
	}

	var level []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := sessionDirPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			logx.Debug("session", "skipping non-session entry %s", entry.Name())
			continue
		}
		dir := filepath.Join(base, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, creatingMarker)); err == nil {
			logx.Debug("session", "skipping half-created session %s", entry.Name())
			continue
		}

		seq, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		id := entry.Name()
		if parentID != "" {
			id = parentID + "/" + DeltaDirName + "/" + entry.Name()
		}
		level = append(level, Info{
			ID:          id,
			Dir:         dir,
			Seq:         seq,
			ContentHash: m[2],
			ParentID:    parentID,
			IsDelta:     parentID != "",
		})
	}
	sort.Slice(level, func(i, j int) bool { return level[i].Seq < level[j].Seq })

	var out []Info
	for _, info := range level {
		out = append(out, info)
		children, err := s.listDir(filepath.Join(info.Dir, DeltaDirName), info.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
	}
	return out, nil
}

// FindLatest returns the newest session in lineage order.
func (s *Store) FindLatest(ctx context.Context) (*Info, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrSessionNotFound
	}
	latest := infos[len(infos)-1]
	return &latest, nil
}

// FindByContentHash returns the newest session planned from the PRD with the
// given content hash. Full SHA-256 digests are truncated to the short form
// used in directory names.
func (s *Store) FindByContentHash(ctx context.Context, hash string) (*Info, error) {
	if len(hash) > utils.ShortHashLen {
		hash = hash[:utils.ShortHashLen]
	}

	infos, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(infos) - 1; i >= 0; i-- {
		if infos[i].ContentHash == hash {
			return &infos[i], nil
		}
	}
	return nil, ErrSessionNotFound
}
