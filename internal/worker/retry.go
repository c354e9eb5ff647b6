package worker

import (
	"errors"
	"math"
	"time"

	"github.com/kaiwen/docverify/internal/domain/entity"
)

// RetryStrategy defines exponential backoff retry logic for failed tasks.
// Delay for attempt n (zero-based) is BaseBackoff * 2^n, capped at MaxBackoff.
type RetryStrategy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// NewRetryStrategy creates the production retry strategy: up to 3 retries at
// 60s, 120s and 240s.
func NewRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		MaxAttempts: 3,
		BaseBackoff: 60 * time.Second,
		MaxBackoff:  10 * time.Minute,
	}
}

// CalculateBackoff returns the delay before retry number attempt (zero-based)
func (s *RetryStrategy) CalculateBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	backoff := time.Duration(math.Pow(2, float64(attempt))) * s.BaseBackoff
	if backoff > s.MaxBackoff {
		backoff = s.MaxBackoff
	}
	return backoff
}

// ShouldRetry reports whether a failed attempt gets another try. Only
// transient errors are retried, and only while attempts remain.
func (s *RetryStrategy) ShouldRetry(err error, retryCount int) bool {
	if err == nil {
		return false
	}
	if retryCount >= s.MaxAttempts {
		return false
	}
	return errors.Is(err, entity.ErrTransient)
}
