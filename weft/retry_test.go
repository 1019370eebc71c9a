// ABOUTME: Tests for retry policies, backoff computation, and node config overrides.
// ABOUTME: Covers delay math, jitter bounds, presets, and timeout/retry config parsing.
package weft

import (
	"testing"
	"time"
)

func TestDelayForAttempt(t *testing.T) {
	b := BackoffConfig{InitialDelay: 100 * time.Millisecond, Factor: 2.0, MaxDelay: 500 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 500 * time.Millisecond}, // capped
		{-1, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := b.DelayForAttempt(tt.attempt); got != tt.want {
			t.Errorf("DelayForAttempt(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayForAttemptJitterStaysBounded(t *testing.T) {
	b := BackoffConfig{InitialDelay: 100 * time.Millisecond, Factor: 2.0, Jitter: true}
	for i := 0; i < 50; i++ {
		d := b.DelayForAttempt(1)
		if d < 0 || d > 200*time.Millisecond {
			t.Fatalf("jittered delay %v outside [0, 200ms]", d)
		}
	}
}

func TestDelayForAttemptZeroFactor(t *testing.T) {
	b := BackoffConfig{InitialDelay: 100 * time.Millisecond}
	if got := b.DelayForAttempt(3); got != 100*time.Millisecond {
		t.Errorf("delay with zero factor = %v, want constant 100ms", got)
	}
}

func TestPresetPolicies(t *testing.T) {
	if got := NoRetry().MaxAttempts; got != 1 {
		t.Errorf("NoRetry attempts = %d, want 1", got)
	}
	if got := StandardRetry().MaxAttempts; got != 3 {
		t.Errorf("StandardRetry attempts = %d, want 3", got)
	}
	if got := AggressiveRetry().MaxAttempts; got != 5 {
		t.Errorf("AggressiveRetry attempts = %d, want 5", got)
	}
}

func TestResolveNodeTimeout(t *testing.T) {
	tests := []struct {
		name string
		node *Node
		def  time.Duration
		want time.Duration
	}{
		{"nil node uses default", nil, time.Minute, time.Minute},
		{"no config uses default", &Node{}, time.Minute, time.Minute},
		{"numeric seconds", &Node{Config: map[string]any{"timeout": 30}}, time.Minute, 30 * time.Second},
		{"duration string", &Node{Config: map[string]any{"timeout": "1500ms"}}, time.Minute, 1500 * time.Millisecond},
		{"float seconds", &Node{Config: map[string]any{"timeout": 0.5}}, time.Minute, 500 * time.Millisecond},
		{"unparseable falls back", &Node{Config: map[string]any{"timeout": "soon"}}, time.Minute, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveNodeTimeout(tt.node, tt.def); got != tt.want {
				t.Errorf("resolveNodeTimeout = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveRetryPolicy(t *testing.T) {
	tests := []struct {
		name         string
		node         *Node
		def          RetryPolicy
		wantAttempts int
	}{
		{"nil node uses default", nil, RetryPolicy{MaxAttempts: 3}, 3},
		{"zero default floors at one", &Node{}, RetryPolicy{}, 1},
		{"config adds retries", &Node{Config: map[string]any{"retries": 2}}, RetryPolicy{MaxAttempts: 1}, 3},
		{"config zero disables", &Node{Config: map[string]any{"retries": 0}}, RetryPolicy{MaxAttempts: 5}, 1},
		{"negative config ignored", &Node{Config: map[string]any{"retries": -1}}, RetryPolicy{MaxAttempts: 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveRetryPolicy(tt.node, tt.def)
			if got.MaxAttempts != tt.wantAttempts {
				t.Errorf("MaxAttempts = %d, want %d", got.MaxAttempts, tt.wantAttempts)
			}
		})
	}
}

func TestResolveRetryPolicyFillsBackoff(t *testing.T) {
	node := &Node{Config: map[string]any{"retries": 2}}
	got := resolveRetryPolicy(node, RetryPolicy{})
	if got.Backoff == (BackoffConfig{}) {
		t.Error("config-driven retries left a zero backoff")
	}
}
