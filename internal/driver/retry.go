package driver

import (
	"math"
	"time"

	"github.com/dwsmith1983/evextract/pkg/types"
)

const maxBackoffSeconds = 3600

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() types.RetryPolicy {
	return types.RetryPolicy{
		MaxAttempts:       3,
		BackoffSeconds:    30,
		BackoffMultiplier: 2.0,
	}
}

// CalculateBackoff returns the wait before retry number attempt.
// Uses exponential backoff: base * multiplier^(attempt-1).
func CalculateBackoff(policy types.RetryPolicy, attempt int) time.Duration {
	if attempt <= 1 {
		return time.Duration(policy.BackoffSeconds) * time.Second
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	backoff := float64(policy.BackoffSeconds) * math.Pow(multiplier, float64(attempt-1))
	if backoff > maxBackoffSeconds {
		backoff = maxBackoffSeconds
	}
	return time.Duration(backoff) * time.Second
}

func resolveRetryPolicy(p types.RetryPolicy) types.RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BackoffSeconds <= 0 {
		p.BackoffSeconds = def.BackoffSeconds
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = def.BackoffMultiplier
	}
	return p
}
