// ABOUTME: Retry policies and backoff configuration for node handler execution.
// ABOUTME: Node config overrides cascade over engine defaults; MaxAttempts of 1 means no retries.
package weft

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig controls the delay between retry attempts.
type BackoffConfig struct {
	InitialDelay time.Duration // delay before the first retry
	Factor       float64       // multiplier applied per attempt
	MaxDelay     time.Duration // upper bound on any single delay
	Jitter       bool          // randomize each delay in [0, delay)
}

// DelayForAttempt computes the backoff delay for the given zero-based retry
// attempt, capped at MaxDelay.
func (b BackoffConfig) DelayForAttempt(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := b.Factor
	if factor <= 0 {
		factor = 1
	}
	delay := float64(b.InitialDelay) * math.Pow(factor, float64(attempt))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		delay = rand.Float64() * delay
	}
	return time.Duration(delay)
}

// RetryPolicy controls how many times a node handler runs before the node
// fails. MaxAttempts counts the first try: 1 means no retries.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffConfig
	ShouldRetry func(error) bool // nil = retry any error
}

// NoRetry runs the handler exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// StandardRetry retries twice with exponential backoff and jitter.
func StandardRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: 200 * time.Millisecond,
			Factor:       2.0,
			MaxDelay:     60 * time.Second,
			Jitter:       true,
		},
	}
}

// AggressiveRetry retries four times with fast initial backoff.
func AggressiveRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Factor:       2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
	}
}

// resolveNodeTimeout returns the execution timeout for a node: the node's
// "timeout" config wins, then the engine default. Numbers are seconds,
// strings are Go durations. Zero means no timeout.
func resolveNodeTimeout(node *Node, engineDefault time.Duration) time.Duration {
	if node != nil {
		if raw, ok := node.Config["timeout"]; ok {
			if d, ok := asDuration(raw); ok {
				return d
			}
		}
	}
	return engineDefault
}

// resolveRetryPolicy returns the retry policy for a node: the node's
// "retries" config (extra attempts beyond the first) wins, then the engine
// default policy.
func resolveRetryPolicy(node *Node, engineDefault RetryPolicy) RetryPolicy {
	policy := engineDefault
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if node != nil {
		if raw, ok := node.Config["retries"]; ok {
			if n, ok := asInt(raw); ok && n >= 0 {
				policy.MaxAttempts = n + 1
				if policy.Backoff == (BackoffConfig{}) {
					policy.Backoff = StandardRetry().Backoff
				}
			}
		}
	}
	return policy
}

// asDuration coerces config values to a duration: numbers are seconds,
// strings parse as Go durations.
func asDuration(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case int:
		return time.Duration(d) * time.Second, true
	case int64:
		return time.Duration(d) * time.Second, true
	case float64:
		return time.Duration(d * float64(time.Second)), true
	case float32:
		return time.Duration(float64(d) * float64(time.Second)), true
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
