// Package backlog defines the phase/milestone/task/subtask document model for a
// planning session, including validation, copy-on-write status updates, and
// deterministic traversal. The serialized document is the only authoritative
// record of unit status; everything else in the system derives from it.
package backlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a backlog node.
type Status string

const (
	StatusPlanned      Status = "Planned"
	StatusResearching  Status = "Researching"
	StatusImplementing Status = "Implementing"
	StatusComplete     Status = "Complete"
	StatusFailed       Status = "Failed"
	StatusObsolete     Status = "Obsolete"
)

// ValidStatuses returns all recognized statuses in declaration order.
func ValidStatuses() []Status {
	return []Status{
		StatusPlanned,
		StatusResearching,
		StatusImplementing,
		StatusComplete,
		StatusFailed,
		StatusObsolete,
	}
}

// Valid reports whether s is one of the recognized statuses.
// Matching is case-sensitive: "complete" is not a valid status.
func (s Status) Valid() bool {
	for _, valid := range ValidStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a final state that no scheduler will leave.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusObsolete
}

// Subtask is the unit of execution. Dependencies are expressed only at this
// level; DependsOn entries must name other subtasks in the same document.
type Subtask struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Status       Status     `json:"status"`
	DependsOn    []string   `json:"depends_on,omitempty"`
	ContextScope string     `json:"context_scope"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	LastUpdated  time.Time  `json:"last_updated"`
}

// Task groups subtasks under a milestone.
type Task struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Status   Status    `json:"status"`
	Subtasks []Subtask `json:"subtasks"`
}

// Milestone groups tasks under a phase.
type Milestone struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status Status `json:"status"`
	Tasks  []Task `json:"tasks"`
}

// Phase is the top-level grouping of a planning session.
type Phase struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Status     Status      `json:"status"`
	Milestones []Milestone `json:"milestones"`
}

// Backlog is the document root. It serializes as {"backlog": [...]}.
type Backlog struct {
	Phases []Phase `json:"backlog"`
}

// New returns an empty, valid backlog document.
func New() *Backlog {
	return &Backlog{Phases: []Phase{}}
}

// Node is implemented by every backlog level.
type Node interface {
	NodeID() string
	NodeStatus() Status
}

func (p *Phase) NodeID() string { return p.ID }

func (p *Phase) NodeStatus() Status { return p.Status }

func (m *Milestone) NodeID() string { return m.ID }

func (m *Milestone) NodeStatus() Status { return m.Status }

func (t *Task) NodeID() string { return t.ID }

func (t *Task) NodeStatus() Status { return t.Status }

func (s *Subtask) NodeID() string { return s.ID }

func (s *Subtask) NodeStatus() Status { return s.Status }

// Parse decodes and validates a backlog document. Unknown JSON fields are
// rejected so a corrupted or hand-edited document fails loudly rather than
// silently dropping data.
func Parse(data []byte) (*Backlog, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var b Backlog
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode backlog document: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Find returns the node with the given ID at any level of the document.
func (b *Backlog) Find(id string) (Node, bool) {
	for pi := range b.Phases {
		ph := &b.Phases[pi]
		if ph.ID == id {
			return ph, true
		}
		for mi := range ph.Milestones {
			ms := &ph.Milestones[mi]
			if ms.ID == id {
				return ms, true
			}
			for ti := range ms.Tasks {
				tk := &ms.Tasks[ti]
				if tk.ID == id {
					return tk, true
				}
				for si := range tk.Subtasks {
					st := &tk.Subtasks[si]
					if st.ID == id {
						return st, true
					}
				}
			}
		}
	}
	return nil, false
}

// FindSubtask returns the subtask with the given ID, if present.
func (b *Backlog) FindSubtask(id string) (*Subtask, bool) {
	node, ok := b.Find(id)
	if !ok {
		return nil, false
	}
	st, ok := node.(*Subtask)
	return st, ok
}

// Subtasks returns every subtask in depth-first pre-order: phases in document
// order, then each phase's milestones, tasks, and subtasks in their stored
// order. This ordering is the traversal contract the scheduler relies on.
func (b *Backlog) Subtasks() []*Subtask {
	var out []*Subtask
	for pi := range b.Phases {
		ph := &b.Phases[pi]
		for mi := range ph.Milestones {
			ms := &ph.Milestones[mi]
			for ti := range ms.Tasks {
				tk := &ms.Tasks[ti]
				for si := range tk.Subtasks {
					out = append(out, &tk.Subtasks[si])
				}
			}
		}
	}
	return out
}
