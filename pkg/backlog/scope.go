package backlog

import (
	"fmt"
	"strings"
)

// ScopeHeader is the fixed first line of every context scope contract.
const ScopeHeader = "CONTEXT SCOPE"

// Scope section labels, in the required order. A label occupies its own line
// starting at column 0; everything until the next label is that section's body.
var scopeLabels = []string{"Objective:", "Inputs:", "Deliverables:", "Verification:"}

// Scope is a parsed context scope contract.
type Scope struct {
	Objective    string
	Inputs       string
	Deliverables string
	Verification string
}

// ParseScope parses and checks a context scope contract: the fixed header
// followed by the four labeled sections in order, each with a non-empty body.
func ParseScope(text string) (*Scope, error) {
	lines := strings.Split(text, "\n")
	i := skipBlank(lines, 0)
	if i >= len(lines) || strings.TrimRight(lines[i], " \t") != ScopeHeader {
		return nil, fmt.Errorf("missing %q header", ScopeHeader)
	}
	i++

	bodies := make([]string, len(scopeLabels))
	for li, label := range scopeLabels {
		i = skipBlank(lines, i)
		if i >= len(lines) || !isLabelLine(lines[i], label) {
			return nil, fmt.Errorf("expected section %q", label)
		}
		i++

		var body []string
		for i < len(lines) {
			if other, ok := labelAt(lines[i]); ok {
				if other != nextLabel(li) {
					return nil, fmt.Errorf("section %q out of order", other)
				}
				break
			}
			body = append(body, lines[i])
			i++
		}

		text := strings.TrimSpace(strings.Join(body, "\n"))
		if text == "" {
			return nil, fmt.Errorf("section %q has an empty body", label)
		}
		bodies[li] = text
	}

	return &Scope{
		Objective:    bodies[0],
		Inputs:       bodies[1],
		Deliverables: bodies[2],
		Verification: bodies[3],
	}, nil
}

// ValidateScope reports whether text is a well-formed context scope contract.
func ValidateScope(text string) error {
	_, err := ParseScope(text)
	return err
}

func skipBlank(lines []string, i int) int {
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	return i
}

// isLabelLine matches a section label at column 0, alone on its line.
func isLabelLine(line, label string) bool {
	return strings.TrimRight(line, " \t") == label
}

// labelAt returns the known label occupying the line, if any.
func labelAt(line string) (string, bool) {
	for _, label := range scopeLabels {
		if isLabelLine(line, label) {
			return label, true
		}
	}
	return "", false
}

// nextLabel returns the label expected after index li, or "" past the end.
func nextLabel(li int) string {
	if li+1 < len(scopeLabels) {
		return scopeLabels[li+1]
	}
	return ""
}
