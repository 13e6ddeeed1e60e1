package infra

import (
	"time"
)

// ReconnectBackoff returns the wait before reconnect attempt retryCount.
// With max <= base the delay is fixed at base. Otherwise it is
// base * 2^retryCount, capped at max. A negative retryCount returns base.
func ReconnectBackoff(base, max time.Duration, retryCount int) time.Duration {
	if retryCount < 0 || max <= base {
		return base
	}

	// 2^30 of any practical base overflows past max anyway
	if retryCount > 30 {
		return max
	}

	backoff := base * time.Duration(1<<retryCount)
	if backoff > max || backoff <= 0 {
		return max
	}

	return backoff
}
