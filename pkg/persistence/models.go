package persistence

import (
	"time"

	"github.com/google/uuid"
)

// ResearchRecord archives the findings produced for one unit. Tokens is the
// estimated token count of the content, recorded for budget reporting.
type ResearchRecord struct {
	CreatedAt time.Time `json:"created_at"`
	UnitID    string    `json:"unit_id"`
	Content   string    `json:"content"`
	Tokens    int       `json:"tokens"`
}

// JournalEntry is one append-only run event.
type JournalEntry struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	UnitID    string    `json:"unit_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
}

// Journal entry kinds.
const (
	KindUnitStarted   = "unit_started"
	KindUnitComplete  = "unit_complete"
	KindUnitFailed    = "unit_failed"
	KindFlush         = "flush"
	KindSessionForked = "session_forked"
)

// ValidKinds returns all recognized journal kinds.
func ValidKinds() []string {
	return []string{
		KindUnitStarted,
		KindUnitComplete,
		KindUnitFailed,
		KindFlush,
		KindSessionForked,
	}
}

// IsValidKind checks whether kind is a recognized journal kind.
func IsValidKind(kind string) bool {
	for _, valid := range ValidKinds() {
		if kind == valid {
			return true
		}
	}
	return false
}

// GenerateEntryID generates a new UUID for a journal entry.
func GenerateEntryID() string {
	return uuid.New().String()
}
