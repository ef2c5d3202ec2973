package backlog

import (
	"errors"
	"strings"
	"testing"
)

// mutate applies fn to a fresh valid document and returns the result.
func mutate(t *testing.T, fn func(*Backlog)) *Backlog {
	t.Helper()
	doc := testDoc(t)
	fn(doc)
	return doc
}

func TestValidateViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Backlog)
		wantID string
		reason string
	}{
		{
			name:   "lowercase status",
			mutate: func(b *Backlog) { b.Phases[0].Milestones[0].Tasks[0].Subtasks[0].Status = "complete" },
			wantID: "P1.M1.T1.S1",
			reason: "invalid status",
		},
		{
			name:   "unknown status",
			mutate: func(b *Backlog) { b.Phases[0].Status = "Blocked" },
			wantID: "P1",
			reason: "invalid status",
		},
		{
			name:   "leading zero in phase id",
			mutate: func(b *Backlog) { b.Phases[0].ID = "P01" },
			wantID: "P01",
			reason: "malformed id",
		},
		{
			name:   "zero ordinal",
			mutate: func(b *Backlog) { b.Phases[0].ID = "P0" },
			wantID: "P0",
			reason: "malformed id",
		},
		{
			name:   "subtask id with wrong shape",
			mutate: func(b *Backlog) { b.Phases[0].Milestones[0].Tasks[0].Subtasks[0].ID = "P1.M1.S1" },
			wantID: "P1.M1.S1",
			reason: "malformed id",
		},
		{
			name:   "milestone not under parent",
			mutate: func(b *Backlog) { b.Phases[0].Milestones[0].ID = "P2.M1" },
			wantID: "P2.M1",
			reason: "not under parent",
		},
		{
			name: "duplicate subtask id",
			mutate: func(b *Backlog) {
				b.Phases[0].Milestones[0].Tasks[0].Subtasks[1].ID = "P1.M1.T1.S1"
			},
			wantID: "P1.M1.T1.S1",
			reason: "duplicate id",
		},
		{
			name: "dangling dependency",
			mutate: func(b *Backlog) {
				b.Phases[0].Milestones[0].Tasks[0].Subtasks[1].DependsOn = []string{"P9.M1.T1.S1"}
			},
			wantID: "P1.M1.T1.S2",
			reason: "unknown subtask",
		},
		{
			name: "self dependency",
			mutate: func(b *Backlog) {
				b.Phases[0].Milestones[0].Tasks[0].Subtasks[0].DependsOn = []string{"P1.M1.T1.S1"}
			},
			wantID: "P1.M1.T1.S1",
			reason: "depends on itself",
		},
		{
			name:   "empty title",
			mutate: func(b *Backlog) { b.Phases[1].Title = "   " },
			wantID: "P2",
			reason: "empty title",
		},
		{
			name: "broken context scope",
			mutate: func(b *Backlog) {
				b.Phases[0].Milestones[0].Tasks[0].Subtasks[0].ContextScope = "just some text"
			},
			wantID: "P1.M1.T1.S1",
			reason: "invalid context scope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mutate(t, tt.mutate)
			err := doc.Validate()
			if err == nil {
				t.Fatal("Validate accepted an invalid document")
			}

			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
			if vErr.NodeID != tt.wantID {
				t.Errorf("violation at %q, want %q (reason: %s)", vErr.NodeID, tt.wantID, vErr.Reason)
			}
			if !strings.Contains(vErr.Reason, tt.reason) {
				t.Errorf("reason %q does not mention %q", vErr.Reason, tt.reason)
			}
		})
	}
}

func TestValidateDetectsCycle(t *testing.T) {
	doc := mutate(t, func(b *Backlog) {
		// S1 -> S2 -> S1
		b.Phases[0].Milestones[0].Tasks[0].Subtasks[0].DependsOn = []string{"P1.M1.T1.S2"}
	})

	err := doc.Validate()
	if err == nil {
		t.Fatal("Validate accepted a cyclic dependency graph")
	}

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if vErr.NodeID != "" {
		t.Errorf("cycle should be a document-level violation, got node %q", vErr.NodeID)
	}
	if !strings.Contains(vErr.Reason, "cycle") {
		t.Errorf("reason %q does not mention cycle", vErr.Reason)
	}
}

func TestValidateAllowsDuplicateEdge(t *testing.T) {
	doc := mutate(t, func(b *Backlog) {
		// Listing the same dependency twice is one edge, not an error.
		b.Phases[0].Milestones[0].Tasks[0].Subtasks[1].DependsOn =
			[]string{"P1.M1.T1.S1", "P1.M1.T1.S1"}
	})

	if err := doc.Validate(); err != nil {
		t.Fatalf("Validate rejected duplicate dependency edge: %v", err)
	}
}

func TestValidateCrossPhaseDependency(t *testing.T) {
	// testDoc already has P2.M1.T1.S1 depending on P1.M1.T1.S2.
	doc := testDoc(t)
	if err := doc.Validate(); err != nil {
		t.Fatalf("cross-phase dependency should be valid: %v", err)
	}
}

func TestValidationErrorCode(t *testing.T) {
	vErr := &ValidationError{NodeID: "P1", Reason: "bad"}
	if vErr.Code() != "VALIDATION_FAILED" {
		t.Errorf("Code() = %q, want VALIDATION_FAILED", vErr.Code())
	}
}
