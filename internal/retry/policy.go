// Package retry implements bounded exponential-backoff retry for fallible
// context-aware operations.
package retry

import (
	"fmt"
	"math"
	"time"
)

// Policy holds retry/backoff settings. It is immutable after construction.
type Policy struct {
	MaxAttempts  int           // total attempts including the first
	InitialDelay time.Duration // delay before the second attempt
	Factor       float64       // growth factor applied per retry
	// AttemptTimeout bounds each single attempt; zero disables it.
	AttemptTimeout time.Duration
}

// DefaultPolicy returns 3 attempts, 1s initial delay, 1.5x growth and a 10s
// per-attempt timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialDelay:   time.Second,
		Factor:         1.5,
		AttemptTimeout: 10 * time.Second,
	}
}

// Delay returns the wait before retry number retryCount (1-based: the delay
// between attempt 1 and attempt 2 is Delay(1) == InitialDelay).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	f := p.Factor
	if f < 1 {
		f = 1
	}
	return time.Duration(float64(p.InitialDelay) * math.Pow(f, float64(retryCount-1)))
}

// Validate ensures the policy can be applied.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1")
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("retry: initial delay cannot be negative")
	}
	if p.Factor < 1 {
		return fmt.Errorf("retry: factor must be >= 1")
	}
	if p.AttemptTimeout < 0 {
		return fmt.Errorf("retry: attempt timeout cannot be negative")
	}
	return nil
}
