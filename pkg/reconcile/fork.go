package reconcile

import (
	"context"
	"errors"
	"time"

	"prpipe/pkg/backlog"
	"prpipe/pkg/logx"
	"prpipe/pkg/prd"
	"prpipe/pkg/session"
)

// ErrNoDelta reports that the new PRD revision has no section-level changes,
// so there is nothing to fork a delta session for.
var ErrNoDelta = errors.New("prd revision has no section-level changes")

// regionState is the diff classification of the PRD region a phase maps to.
type regionState int

const (
	regionUnchanged regionState = iota
	regionChanged
	regionRemoved
)

// Fork creates a delta session under parent for the new PRD revision and
// seeds its backlog by inheritance:
//
//   - a subtask in an unchanged region keeps Complete, any other status is
//     reset to Planned;
//   - a subtask in a changed or removed region becomes Obsolete regardless
//     of prior status. Its ID is never reused; replacement work gets fresh
//     IDs from the planner.
//
// Dependency edges onto Obsolete units are kept so the scheduler reports
// them as blocked until the planner rewires the plan. When Diff finds no
// changes Fork creates nothing and returns ErrNoDelta.
func Fork(ctx context.Context, store *session.Store, parent *session.State, newPRD string) (*session.State, error) {
	if parent == nil {
		return nil, errors.New("failed to fork delta session: nil parent")
	}

	delta := Diff(parent.PRD, newPRD)
	if delta.Empty() {
		return nil, ErrNoDelta
	}

	st, err := store.CreateDelta(ctx, parent, newPRD)
	if err != nil {
		return nil, err
	}

	seeded := inherit(parent.Backlog, parent.PRD, delta)
	if err := store.SaveBacklog(ctx, st, seeded); err != nil {
		return nil, err
	}
	st.Backlog = seeded

	log := logx.NewLogger("reconcile")
	log.Info("forked %s from %s: %d added, %d removed, %d changed sections",
		st.ID, parent.ID, len(delta.Added), len(delta.Removed), len(delta.Changed))
	return st, nil
}

// inherit applies the inheritance rules to a deep copy of the parent's
// backlog. Container statuses are left as the planner wrote them; derived
// status remains the authority on rollup.
func inherit(parentDoc *backlog.Backlog, oldPRD string, delta *Delta) *backlog.Backlog {
	doc := parentDoc.Clone()
	regions := oldRegions(oldPRD, delta)
	now := time.Now().UTC()

	for pi := range doc.Phases {
		ph := &doc.Phases[pi]
		state := regions.stateFor(ph.Title, pi)
		for mi := range ph.Milestones {
			for ti := range ph.Milestones[mi].Tasks {
				tk := &ph.Milestones[mi].Tasks[ti]
				for si := range tk.Subtasks {
					inheritSubtask(&tk.Subtasks[si], state, now)
				}
			}
		}
	}
	return doc
}

func inheritSubtask(sub *backlog.Subtask, state regionState, now time.Time) {
	switch state {
	case regionUnchanged:
		if sub.Status == backlog.StatusComplete {
			return
		}
		sub.Status = backlog.StatusPlanned
		sub.StartedAt = nil
		sub.CompletedAt = nil
		sub.LastUpdated = now
	default:
		sub.Status = backlog.StatusObsolete
		ts := now
		sub.CompletedAt = &ts
		sub.LastUpdated = now
	}
}

// regionMap resolves phases to diff classifications of the OLD document's
// sections: first by normalized title, then by ordinal over non-preamble
// sections, defaulting to unchanged.
type regionMap struct {
	byKey   map[string]regionState
	ordinal []regionState
}

func oldRegions(oldPRD string, delta *Delta) *regionMap {
	changed := make(map[string]bool, len(delta.Changed))
	for _, name := range delta.Changed {
		if name == FrontmatterSection {
			continue
		}
		changed[prd.NormalizeTitle(name)] = true
	}
	removed := make(map[string]bool, len(delta.Removed))
	for _, name := range delta.Removed {
		removed[prd.NormalizeTitle(name)] = true
	}

	classify := func(name string) regionState {
		key := prd.NormalizeTitle(name)
		switch {
		case removed[key]:
			return regionRemoved
		case changed[key]:
			return regionChanged
		default:
			return regionUnchanged
		}
	}

	rm := &regionMap{byKey: make(map[string]regionState)}
	_, oldBody := frontmatterText(oldPRD)
	for _, sec := range nameSections(oldBody) {
		key := prd.NormalizeTitle(sec.name)
		if _, exists := rm.byKey[key]; !exists {
			rm.byKey[key] = classify(sec.name)
		}
	}
	for _, sec := range prd.SplitSections(oldBody) {
		if sec.Title == "" {
			continue
		}
		rm.ordinal = append(rm.ordinal, classify(sec.Title))
	}
	return rm
}

func (rm *regionMap) stateFor(phaseTitle string, phaseIdx int) regionState {
	if key := prd.NormalizeTitle(phaseTitle); key != "" {
		if state, ok := rm.byKey[key]; ok {
			return state
		}
	}
	if phaseIdx < len(rm.ordinal) {
		return rm.ordinal[phaseIdx]
	}
	return regionUnchanged
}
