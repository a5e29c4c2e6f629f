package runtime

import (
	"math/rand"
	"time"

	"github.com/workflowcore/engine/internal/workflow"
)

// computeDelay implements `delay_n = min(max_delay, base * multiplier^(n-1))`
// Exponential backoff, optionally jittered the way
// management_channel_service.go jitters its reconnect backoff (random
// 0..base fraction added on top rather than a symmetric spread, so retries
// never land earlier than the unjittered delay).
func computeDelay(policy *workflow.RetryPolicy, attempt int) time.Duration {
	base := parseDurationOr(policy.Base, 200*time.Millisecond)
	maxDelay := parseDurationOr(policy.MaxDelay, 30*time.Second)
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if delay > maxDelay {
			delay = maxDelay
			break
		}
	}

	if policy.Jitter {
		delay += time.Duration(rand.Int63n(int64(base) + 1))
	}
	return delay
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// shouldRetry reports whether errKind is in the policy's retry_on allowlist,
// or whether the policy has no allowlist (retry on anything).
func shouldRetry(policy *workflow.RetryPolicy, errKind string) bool {
	if len(policy.RetryOn) == 0 {
		return true
	}
	for _, k := range policy.RetryOn {
		if k == errKind {
			return true
		}
	}
	return false
}
