package backlog

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError describes why a document (or a single update) was rejected.
// NodeID is empty for document-level problems such as dependency cycles.
type ValidationError struct {
	NodeID string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("backlog validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("backlog validation failed at %s: %s", e.NodeID, e.Reason)
}

// Code returns the stable error code recorded in the journal.
func (e *ValidationError) Code() string { return "VALIDATION_FAILED" }

// ID patterns per level. The numeric components are positive integers without
// leading zeros, and each ID embeds its parent's ID as a prefix.
var (
	phaseIDPattern     = regexp.MustCompile(`^P[1-9][0-9]*$`)
	milestoneIDPattern = regexp.MustCompile(`^P[1-9][0-9]*\.M[1-9][0-9]*$`)
	taskIDPattern      = regexp.MustCompile(`^P[1-9][0-9]*\.M[1-9][0-9]*\.T[1-9][0-9]*$`)
	subtaskIDPattern   = regexp.MustCompile(`^P[1-9][0-9]*\.M[1-9][0-9]*\.T[1-9][0-9]*\.S[1-9][0-9]*$`)
)

// Validate checks the whole document and returns the first violation found.
// Checks run in three passes, each walking in document order: per-node checks
// (status, ID shape, parent prefix, title, uniqueness, context scope), then
// dependency closure, then cycle detection. The result is deterministic for a
// given document.
func (b *Backlog) Validate() error {
	seen := make(map[string]bool)
	subtasks := make(map[string]*Subtask)

	for pi := range b.Phases {
		ph := &b.Phases[pi]
		if err := validateNode(ph, phaseIDPattern, "", seen); err != nil {
			return err
		}
		for mi := range ph.Milestones {
			ms := &ph.Milestones[mi]
			if err := validateNode(ms, milestoneIDPattern, ph.ID, seen); err != nil {
				return err
			}
			for ti := range ms.Tasks {
				tk := &ms.Tasks[ti]
				if err := validateNode(tk, taskIDPattern, ms.ID, seen); err != nil {
					return err
				}
				for si := range tk.Subtasks {
					st := &tk.Subtasks[si]
					if err := validateNode(st, subtaskIDPattern, tk.ID, seen); err != nil {
						return err
					}
					if err := ValidateScope(st.ContextScope); err != nil {
						return &ValidationError{NodeID: st.ID, Reason: fmt.Sprintf("invalid context scope: %v", err)}
					}
					subtasks[st.ID] = st
				}
			}
		}
	}

	// Dependency closure: every edge must land on an existing subtask.
	for _, st := range b.Subtasks() {
		for _, depID := range st.DependsOn {
			if depID == st.ID {
				return &ValidationError{NodeID: st.ID, Reason: "subtask depends on itself"}
			}
			if _, exists := subtasks[depID]; !exists {
				return &ValidationError{NodeID: st.ID, Reason: fmt.Sprintf("depends on unknown subtask %s", depID)}
			}
		}
	}

	if cycle := b.detectCycle(subtasks); len(cycle) > 0 {
		return &ValidationError{Reason: fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> "))}
	}

	return nil
}

// validateNode runs the checks shared by all levels.
func validateNode(n Node, pattern *regexp.Regexp, parentID string, seen map[string]bool) error {
	id := n.NodeID()
	if !pattern.MatchString(id) {
		return &ValidationError{NodeID: id, Reason: fmt.Sprintf("malformed id (want %s)", pattern.String())}
	}
	if parentID != "" && !strings.HasPrefix(id, parentID+".") {
		return &ValidationError{NodeID: id, Reason: fmt.Sprintf("id not under parent %s", parentID)}
	}
	if seen[id] {
		return &ValidationError{NodeID: id, Reason: "duplicate id"}
	}
	seen[id] = true

	if !n.NodeStatus().Valid() {
		return &ValidationError{NodeID: id, Reason: fmt.Sprintf("invalid status %q", string(n.NodeStatus()))}
	}
	if isBlankTitle(n) {
		return &ValidationError{NodeID: id, Reason: "empty title"}
	}
	return nil
}

func isBlankTitle(n Node) bool {
	switch v := n.(type) {
	case *Phase:
		return strings.TrimSpace(v.Title) == ""
	case *Milestone:
		return strings.TrimSpace(v.Title) == ""
	case *Task:
		return strings.TrimSpace(v.Title) == ""
	case *Subtask:
		return strings.TrimSpace(v.Title) == ""
	}
	return true
}

// detectCycle performs depth-first search over the subtask dependency graph,
// visiting roots in document order so the reported cycle is deterministic.
func (b *Backlog) detectCycle(subtasks map[string]*Subtask) []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, st := range b.Subtasks() {
		if !visited[st.ID] {
			if cycle := detectCycleDFS(st.ID, subtasks, visited, recStack, nil); len(cycle) > 0 {
				return cycle
			}
		}
	}
	return nil
}

func detectCycleDFS(id string, subtasks map[string]*Subtask, visited, recStack map[string]bool, path []string) []string {
	visited[id] = true
	recStack[id] = true
	path = append(path, id)

	st, exists := subtasks[id]
	if !exists {
		return nil
	}

	for _, depID := range st.DependsOn {
		if !visited[depID] {
			if cycle := detectCycleDFS(depID, subtasks, visited, recStack, path); len(cycle) > 0 {
				return cycle
			}
		} else if recStack[depID] {
			// Found a cycle; trim the path back to where it started.
			for i, seen := range path {
				if seen == depID {
					return append(path[i:], depID)
				}
			}
		}
	}

	recStack[id] = false
	return nil
}
