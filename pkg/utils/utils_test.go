package utils

import (
	"strings"
	"testing"
)

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter()
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	tests := []struct {
		name      string
		text      string
		minTokens int
		maxTokens int
	}{
		{"empty", "", 0, 0},
		{"single word", "Hello", 1, 2},
		{"two words", "Hello world", 2, 3},
		{"sentence", "This is a longer sentence with more words.", 8, 12},
		{"repeated", strings.Repeat("word ", 100), 90, 110},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := counter.CountTokens(tt.text)
			if tokens < tt.minTokens || tokens > tt.maxTokens {
				t.Errorf("CountTokens(%q) = %d, want between %d and %d",
					tt.text, tokens, tt.minTokens, tt.maxTokens)
			}
		})
	}
}

func TestCountTokensNilFallback(t *testing.T) {
	var counter *TokenCounter

	// 40 characters should estimate to 10 tokens via the 4-char fallback.
	tokens := counter.CountTokens(strings.Repeat("a", 40))
	if tokens != 10 {
		t.Errorf("nil counter fallback = %d tokens, want 10", tokens)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(empty) = %d, want 0", got)
	}
	if got := EstimateTokens("Hello world, this is a test."); got < 5 || got > 10 {
		t.Errorf("EstimateTokens = %d, want between 5 and 10", got)
	}
}

func TestSanitizeUnitID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{"subtask id", "P1.M3.T2.S2", "P1M3T2S2", false},
		{"phase id", "P2", "P2", false},
		{"double digits", "P1.M10.T2.S14", "P1M10T2S14", false},
		{"path traversal", "../etc", "", true},
		{"empty", "", "", true},
		{"embedded slash", "P1/M1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeUnitID(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("SanitizeUnitID(%q) expected error, got %q", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("SanitizeUnitID(%q) failed: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("SanitizeUnitID(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestContentHash(t *testing.T) {
	text := "# PRD\n\nBuild the thing.\n"

	full := ContentHash(text)
	if len(full) != 64 {
		t.Errorf("ContentHash length = %d, want 64", len(full))
	}

	short := ShortHash(text)
	if len(short) != ShortHashLen {
		t.Errorf("ShortHash length = %d, want %d", len(short), ShortHashLen)
	}
	if !strings.HasPrefix(full, short) {
		t.Errorf("ShortHash %q is not a prefix of ContentHash %q", short, full)
	}

	// Same input always hashes the same; different input differs.
	if ContentHash(text) != full {
		t.Error("ContentHash is not deterministic")
	}
	if ContentHash(text+"x") == full {
		t.Error("ContentHash ignored a content change")
	}
}
