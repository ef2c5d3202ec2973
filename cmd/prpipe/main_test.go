package main

import (
	"testing"
	"time"
)

// TestOptionsValidate tests flag combination validation.
func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    options
		wantErr bool
	}{
		{"prd only", options{prdFile: "prd.md"}, false},
		{"session only", options{sessionID: "001_3fa9c2d41b07"}, false},
		{"resume only", options{resume: true}, false},
		{"list only", options{list: true}, false},
		{"init secrets only", options{initSecrets: true}, false},
		{"prd with watch", options{prdFile: "prd.md", watch: true}, false},
		{"prd with overrides", options{prdFile: "prd.md", stopOnFailure: true, flushInterval: 500 * time.Millisecond, parallelism: 4}, false},
		{"nothing to do", options{}, true},
		{"session and prd", options{sessionID: "001_3fa9c2d41b07", prdFile: "prd.md"}, true},
		{"resume and prd", options{resume: true, prdFile: "prd.md"}, true},
		{"resume and session", options{resume: true, sessionID: "001_3fa9c2d41b07"}, true},
		{"watch without prd", options{watch: true, list: true}, true},
		{"negative flush interval", options{prdFile: "prd.md", flushInterval: -time.Second}, true},
		{"negative parallelism", options{prdFile: "prd.md", parallelism: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

// TestFlushIntervalMillis verifies the duration flag converts to whole
// milliseconds the way the config section stores it.
func TestFlushIntervalMillis(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		wantMS   int
	}{
		{"half second", 500 * time.Millisecond, 500},
		{"two seconds", 2 * time.Second, 2000},
		{"sub-millisecond truncates", 1500 * time.Microsecond, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := int(tt.interval / time.Millisecond)
			if got != tt.wantMS {
				t.Errorf("expected %d ms, got %d", tt.wantMS, got)
			}
		})
	}
}

// Note: run, mergeCommandLineParams, and bindSession require config
// initialization and file system operations, so they're not suitable for
// simple unit tests. They're covered by the orchestrator integration tests
// in internal/orch instead.
