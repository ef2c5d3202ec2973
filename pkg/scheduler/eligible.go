package scheduler

import (
	"fmt"

	"prpipe/pkg/backlog"
)

// Eligible reports whether a subtask can be picked: it is Planned and every
// dependency is Complete.
func Eligible(b *backlog.Backlog, sub *backlog.Subtask) bool {
	if sub.Status != backlog.StatusPlanned {
		return false
	}
	for _, dep := range sub.DependsOn {
		d, ok := b.FindSubtask(dep)
		if !ok || d.Status != backlog.StatusComplete {
			return false
		}
	}
	return true
}

// NextEligible returns the first eligible subtask in document pre-order. The
// result is deterministic for a given document.
func NextEligible(b *backlog.Backlog) (*backlog.Subtask, bool) {
	for _, sub := range b.Subtasks() {
		if Eligible(b, sub) {
			return sub, true
		}
	}
	return nil, false
}

// BlockedUnit describes a Planned subtask that can never become eligible
// because a dependency ended in Failed or Obsolete.
type BlockedUnit struct {
	ID        string
	BlockedOn string
	Reason    string
}

// Blocked reports all permanently blocked units in document order. A blocked
// unit is a condition for the driver to surface, not an error.
func Blocked(b *backlog.Backlog) []BlockedUnit {
	var blocked []BlockedUnit
	for _, sub := range b.Subtasks() {
		if sub.Status != backlog.StatusPlanned {
			continue
		}
		for _, dep := range sub.DependsOn {
			d, ok := b.FindSubtask(dep)
			if !ok {
				continue
			}
			if d.Status == backlog.StatusFailed || d.Status == backlog.StatusObsolete {
				blocked = append(blocked, BlockedUnit{
					ID:        sub.ID,
					BlockedOn: dep,
					Reason:    fmt.Sprintf("dependency %s is %s", dep, d.Status),
				})
			}
		}
	}
	return blocked
}
