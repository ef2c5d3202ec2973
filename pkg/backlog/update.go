package backlog

import (
	"encoding/json"
	"time"
)

// WithStatus returns a new document with the given node's status changed.
// The receiver is never mutated: only the slices along the path from root to
// the modified node are re-allocated, so previously returned documents stay
// valid and unchanged subtrees are shared. Subtask updates also maintain the
// StartedAt/CompletedAt/LastUpdated bookkeeping.
func (b *Backlog) WithStatus(id string, status Status) (*Backlog, error) {
	if !status.Valid() {
		return nil, &ValidationError{NodeID: id, Reason: "invalid status " + string(status)}
	}

	now := time.Now().UTC()
	for pi := range b.Phases {
		ph := &b.Phases[pi]
		if ph.ID == id {
			nb := b.cloneTop()
			nb.Phases[pi].Status = status
			return nb, nil
		}
		for mi := range ph.Milestones {
			ms := &ph.Milestones[mi]
			if ms.ID == id {
				nb := b.clonePhase(pi)
				nb.Phases[pi].Milestones[mi].Status = status
				return nb, nil
			}
			for ti := range ms.Tasks {
				tk := &ms.Tasks[ti]
				if tk.ID == id {
					nb := b.cloneMilestone(pi, mi)
					nb.Phases[pi].Milestones[mi].Tasks[ti].Status = status
					return nb, nil
				}
				for si := range tk.Subtasks {
					if tk.Subtasks[si].ID == id {
						nb := b.cloneTask(pi, mi, ti)
						stampSubtask(&nb.Phases[pi].Milestones[mi].Tasks[ti].Subtasks[si], status, now)
						return nb, nil
					}
				}
			}
		}
	}
	return nil, &ValidationError{NodeID: id, Reason: "unknown id"}
}

// stampSubtask applies a status change plus its timestamp bookkeeping:
// StartedAt is set on the first transition out of Planned, CompletedAt is set
// when entering a terminal state and cleared when leaving one.
func stampSubtask(st *Subtask, status Status, now time.Time) {
	prev := st.Status
	st.Status = status
	st.LastUpdated = now

	if prev == StatusPlanned && status != StatusPlanned && st.StartedAt == nil {
		started := now
		st.StartedAt = &started
	}
	if status.Terminal() {
		completed := now
		st.CompletedAt = &completed
	} else {
		st.CompletedAt = nil
	}
}

// cloneTop re-allocates only the phase slice; phase values are copied but
// their milestone slices are still shared with the receiver.
func (b *Backlog) cloneTop() *Backlog {
	nb := &Backlog{Phases: make([]Phase, len(b.Phases))}
	copy(nb.Phases, b.Phases)
	return nb
}

func (b *Backlog) clonePhase(pi int) *Backlog {
	nb := b.cloneTop()
	src := b.Phases[pi].Milestones
	nb.Phases[pi].Milestones = make([]Milestone, len(src))
	copy(nb.Phases[pi].Milestones, src)
	return nb
}

func (b *Backlog) cloneMilestone(pi, mi int) *Backlog {
	nb := b.clonePhase(pi)
	src := b.Phases[pi].Milestones[mi].Tasks
	nb.Phases[pi].Milestones[mi].Tasks = make([]Task, len(src))
	copy(nb.Phases[pi].Milestones[mi].Tasks, src)
	return nb
}

func (b *Backlog) cloneTask(pi, mi, ti int) *Backlog {
	nb := b.cloneMilestone(pi, mi)
	src := b.Phases[pi].Milestones[mi].Tasks[ti].Subtasks
	nb.Phases[pi].Milestones[mi].Tasks[ti].Subtasks = make([]Subtask, len(src))
	copy(nb.Phases[pi].Milestones[mi].Tasks[ti].Subtasks, src)
	return nb
}

// Clone returns a fully independent deep copy of the document, used when a
// new session inherits a parent's backlog and will rewrite statuses in bulk.
func (b *Backlog) Clone() *Backlog {
	data, err := json.Marshal(b)
	if err != nil {
		// A document that made it through Validate always marshals.
		panic("backlog: marshal during clone: " + err.Error())
	}
	var nb Backlog
	if err := json.Unmarshal(data, &nb); err != nil {
		panic("backlog: unmarshal during clone: " + err.Error())
	}
	return &nb
}
