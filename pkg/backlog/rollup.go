package backlog

import (
	"prpipe/pkg/utils"
)

// DerivedStatus computes the status a container would report from the
// subtasks beneath it. Derived values are never written back into the
// document; stored container statuses change only through WithStatus.
//
// Rules, in order: no subtasks reads as Planned; all Complete or Obsolete
// reads as Complete; any Failed reads as Failed; any Implementing or
// Researching reads as that active state; otherwise Planned.
func (b *Backlog) DerivedStatus(id string) (Status, error) {
	node, ok := b.Find(id)
	if !ok {
		return "", &ValidationError{NodeID: id, Reason: "unknown id"}
	}

	var subs []*Subtask
	switch v := node.(type) {
	case *Phase:
		for mi := range v.Milestones {
			for ti := range v.Milestones[mi].Tasks {
				collectSubtasks(&v.Milestones[mi].Tasks[ti], &subs)
			}
		}
	case *Milestone:
		for ti := range v.Tasks {
			collectSubtasks(&v.Tasks[ti], &subs)
		}
	case *Task:
		collectSubtasks(v, &subs)
	case *Subtask:
		return v.Status, nil
	}
	return deriveFrom(subs), nil
}

func collectSubtasks(tk *Task, out *[]*Subtask) {
	for si := range tk.Subtasks {
		*out = append(*out, &tk.Subtasks[si])
	}
}

func deriveFrom(subs []*Subtask) Status {
	if len(subs) == 0 {
		return StatusPlanned
	}

	allSettled := true
	anyFailed := false
	anyImplementing := false
	anyResearching := false
	for _, st := range subs {
		switch st.Status {
		case StatusComplete, StatusObsolete:
		case StatusFailed:
			anyFailed = true
			allSettled = false
		case StatusImplementing:
			anyImplementing = true
			allSettled = false
		case StatusResearching:
			anyResearching = true
			allSettled = false
		default:
			allSettled = false
		}
	}

	switch {
	case allSettled:
		return StatusComplete
	case anyFailed:
		return StatusFailed
	case anyImplementing:
		return StatusImplementing
	case anyResearching:
		return StatusResearching
	default:
		return StatusPlanned
	}
}

// Stats summarizes a document for status reporting.
type Stats struct {
	Total       int            `json:"total"`
	ByStatus    map[Status]int `json:"by_status"`
	ScopeTokens int            `json:"scope_tokens"`
}

// Stats counts subtasks per status and estimates the total token footprint of
// all context scope contracts.
func (b *Backlog) Stats() Stats {
	stats := Stats{ByStatus: make(map[Status]int)}
	for _, st := range b.Subtasks() {
		stats.Total++
		stats.ByStatus[st.Status]++
		stats.ScopeTokens += utils.EstimateTokens(st.ContextScope)
	}
	return stats
}
