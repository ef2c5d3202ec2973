// Package prd parses product requirements documents: optional YAML
// frontmatter followed by a markdown body organized into H2 sections.
package prd

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"prpipe/pkg/utils"
)

var frontmatterDelimiter = regexp.MustCompile(`^---\s*$`)

// Frontmatter holds the optional YAML header of a PRD.
type Frontmatter struct {
	Title   string   `yaml:"title"`
	Version string   `yaml:"version"`
	Owner   string   `yaml:"owner"`
	Tags    []string `yaml:"tags"`
}

// Section is one H2-delimited region of the document body. The text before
// the first H2 heading, when non-blank, appears as a section with an empty
// title.
type Section struct {
	Title string
	Body  string
}

// Doc is a parsed PRD. Hash covers the raw input text, frontmatter included,
// so a formatting-only edit still counts as a content change.
type Doc struct {
	Front    Frontmatter
	Title    string
	Sections []Section
	Raw      string
	Hash     string
}

// Parse parses raw PRD text. Frontmatter is optional; when the opening
// delimiter is present the YAML must parse.
func Parse(raw string) (*Doc, error) {
	doc := &Doc{
		Raw:  raw,
		Hash: utils.ContentHash(raw),
	}

	body := raw
	if fm, rest, ok := SplitFrontmatter(raw); ok {
		if err := yaml.Unmarshal([]byte(fm), &doc.Front); err != nil {
			return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
		body = rest
	}

	doc.Sections = SplitSections(body)

	doc.Title = doc.Front.Title
	if doc.Title == "" {
		doc.Title = FirstH1(body)
	}
	return doc, nil
}

// ShortHash returns the hash prefix embedded in session directory names.
func (d *Doc) ShortHash() string {
	return d.Hash[:utils.ShortHashLen]
}

// Section returns the section whose normalized title matches title.
func (d *Doc) Section(title string) (Section, bool) {
	want := NormalizeTitle(title)
	for _, s := range d.Sections {
		if NormalizeTitle(s.Title) == want {
			return s, true
		}
	}
	return Section{}, false
}

// SplitFrontmatter splits markdown into YAML frontmatter and body. The ok
// result is false when the document does not open with a --- delimiter; a
// missing closing delimiter also yields false so the text is treated as
// plain body.
func SplitFrontmatter(markdown string) (frontmatter, body string, ok bool) {
	lines := strings.Split(markdown, "\n")
	if len(lines) < 3 || !frontmatterDelimiter.MatchString(strings.TrimSpace(lines[0])) {
		return "", "", false
	}

	closingIdx := -1
	for i := 1; i < len(lines); i++ {
		if frontmatterDelimiter.MatchString(strings.TrimSpace(lines[i])) {
			closingIdx = i
			break
		}
	}
	if closingIdx == -1 {
		return "", "", false
	}

	frontmatter = strings.Join(lines[1:closingIdx], "\n")
	body = strings.Join(lines[closingIdx+1:], "\n")
	return frontmatter, body, true
}

// SplitSections splits a markdown body on H2 headings. Headings inside
// fenced code blocks are treated as body text.
func SplitSections(body string) []Section {
	var sections []Section
	var current Section
	var buf []string
	started := false
	inFence := false

	flush := func() {
		current.Body = strings.Join(buf, "\n")
		if started || strings.TrimSpace(current.Body) != "" {
			sections = append(sections, current)
		}
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		if !inFence && strings.HasPrefix(line, "## ") {
			flush()
			current = Section{Title: strings.TrimSpace(strings.TrimPrefix(line, "## "))}
			buf = buf[:0]
			started = true
			continue
		}
		buf = append(buf, line)
	}
	flush()

	return sections
}

// NormalizeTitle lowercases a heading and collapses internal whitespace so
// cosmetic edits do not read as renames.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// FirstH1 returns the first top-level heading of the body, or "".
func FirstH1(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}
