package infra

import (
	"context"
	"time"
)

const (
	backoffBaseDelay = 1 * time.Second
	backoffMaxDelay  = 60 * time.Second
)

// CalculateBackoff returns the reconnect delay for the given retry attempt:
// 1s doubling per attempt, capped at 60s.
func CalculateBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := backoffBaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= backoffMaxDelay {
			return backoffMaxDelay
		}
	}
	return delay
}

// SleepWithContext waits for d or until ctx is done, reporting whether the full delay elapsed.
func SleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
