// Package utils provides token counting, identifier, and content hashing
// helpers shared across the pipeline.
package utils

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter provides token counting for context scope contracts and
// research payloads. All estimates use the GPT-4 encoding; the pipeline only
// needs consistent relative sizes, not provider-exact counts.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter backed by the GPT-4 encoding.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		// Fallback to character-based estimation (4 chars ≈ 1 token)
		return len(text) / 4
	}

	count, err := tc.codec.Count(text)
	if err != nil {
		// Fallback to character-based estimation on error
		return len(text) / 4
	}

	return count
}

// ValidateTokenLimit checks if text exceeds the specified token limit.
// Returns true if within limit, false if exceeds limit.
func (tc *TokenCounter) ValidateTokenLimit(text string, limit int) bool {
	return tc.CountTokens(text) <= limit
}

// Shared counter for the package-level EstimateTokens helper.
var (
	defaultCounter     *TokenCounter
	defaultCounterOnce sync.Once
)

// EstimateTokens counts tokens without requiring a TokenCounter instance.
// Falls back to character-based estimation if the tokenizer cannot be built.
func EstimateTokens(text string) int {
	defaultCounterOnce.Do(func() {
		if tc, err := NewTokenCounter(); err == nil {
			defaultCounter = tc
		}
	})
	if defaultCounter == nil {
		return len(text) / 4
	}
	return defaultCounter.CountTokens(text)
}
