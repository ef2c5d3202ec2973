// Package reconcile turns PRD revisions into delta sessions: it classifies
// section-level changes between two document versions and forks a nested
// session whose backlog inherits from the parent under fixed rules.
package reconcile

import (
	"strings"

	"prpipe/pkg/prd"
)

// Synthetic section names for document regions that are not H2 sections.
const (
	FrontmatterSection = "(frontmatter)"
	PreambleSection    = "(preamble)"
)

// Delta classifies the sections of a new PRD revision against an old one.
// Section identity is the normalized title; the recorded names are the
// display titles. Added and Changed carry the new revision's order, Removed
// the old one's.
type Delta struct {
	Added     []string
	Removed   []string
	Changed   []string
	Unchanged []string
}

// Empty reports whether the revision left every section untouched.
func (d *Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// namedSection is a body section with its diff display name resolved: the
// preamble is named after the document's H1, or "(preamble)" without one.
type namedSection struct {
	name string
	body string
}

// Diff classifies the sections of newPRD against oldPRD. A frontmatter edit
// is reported as a change to the synthetic "(frontmatter)" section. Bodies
// are compared with outer whitespace trimmed, titles in normalized form, so
// cosmetic edits do not read as plan changes.
func Diff(oldPRD, newPRD string) *Delta {
	delta := &Delta{}

	oldFront, oldBody := frontmatterText(oldPRD)
	newFront, newBody := frontmatterText(newPRD)
	if oldFront != newFront {
		delta.Changed = append(delta.Changed, FrontmatterSection)
	}

	oldSections := nameSections(oldBody)
	newSections := nameSections(newBody)
	oldByKey := indexSections(oldSections)
	newByKey := indexSections(newSections)

	for _, sec := range newSections {
		old, ok := oldByKey[prd.NormalizeTitle(sec.name)]
		switch {
		case !ok:
			delta.Added = append(delta.Added, sec.name)
		case strings.TrimSpace(old.body) != strings.TrimSpace(sec.body):
			delta.Changed = append(delta.Changed, sec.name)
		default:
			delta.Unchanged = append(delta.Unchanged, sec.name)
		}
	}
	for _, sec := range oldSections {
		if _, ok := newByKey[prd.NormalizeTitle(sec.name)]; !ok {
			delta.Removed = append(delta.Removed, sec.name)
		}
	}
	return delta
}

// frontmatterText returns the raw frontmatter block (or "") and the body.
func frontmatterText(text string) (front, body string) {
	if fm, rest, ok := prd.SplitFrontmatter(text); ok {
		return fm, rest
	}
	return "", text
}

func nameSections(body string) []namedSection {
	var named []namedSection
	for _, sec := range prd.SplitSections(body) {
		name := sec.Title
		if name == "" {
			name = prd.FirstH1(sec.Body)
			if name == "" {
				name = PreambleSection
			}
		}
		named = append(named, namedSection{name: name, body: sec.Body})
	}
	return named
}

// indexSections maps normalized name to section, keeping the first of any
// duplicate titles.
func indexSections(sections []namedSection) map[string]namedSection {
	byKey := make(map[string]namedSection, len(sections))
	for _, sec := range sections {
		key := prd.NormalizeTitle(sec.name)
		if _, exists := byKey[key]; !exists {
			byKey[key] = sec
		}
	}
	return byKey
}
