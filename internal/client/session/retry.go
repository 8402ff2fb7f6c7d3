package session

import (
	"time"

	"github.com/dkeye/Classroom/internal/config"
)

// RetryPolicy bounds renegotiation after a failed connection: at most
// MaxAttempts retries, waiting BaseDelay·2^(n-1) capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func RetryFromConfig(c config.Retry) RetryPolicy {
	return RetryPolicy{MaxAttempts: c.MaxAttempts, BaseDelay: c.BaseDelay, MaxDelay: c.MaxDelay}
}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p RetryPolicy) Allows(attempt int) bool {
	return attempt <= p.MaxAttempts
}
