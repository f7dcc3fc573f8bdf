// Package retry decides whether a failed job attempt is run again and when.
package retry

import (
	"math"
	"time"

	config "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
)

// RetryPolicy decides outer, job-level retries.
type RetryPolicy interface {
	// ShouldRetry reports whether err may succeed on another attempt.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the delay before attempt+1, for attempt starting at 1.
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the total number of attempts including the first.
	GetMaxAttempts() int
}

// DefaultRetryPolicyFactory creates policies from configuration.
type DefaultRetryPolicyFactory struct{}

// NewDefaultRetryPolicyFactory creates a new DefaultRetryPolicyFactory.
func NewDefaultRetryPolicyFactory() *DefaultRetryPolicyFactory {
	return &DefaultRetryPolicyFactory{}
}

// Create builds a policy from queue.retry.
func (f *DefaultRetryPolicyFactory) Create(cfg config.RetryConfig) RetryPolicy {
	p := &defaultRetryPolicy{
		maxAttempts:         cfg.MaxAttempts,
		initialInterval:     time.Duration(cfg.InitialInterval) * time.Millisecond,
		maxInterval:         time.Duration(cfg.MaxInterval) * time.Millisecond,
		factor:              cfg.Factor,
		retryableExceptions: cfg.RetryableErrors,
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	if p.factor < 1 {
		p.factor = 1
	}
	return p
}

// NewPolicy provides the job retry policy from the application config.
func NewPolicy(cfg *config.Config) RetryPolicy {
	return NewDefaultRetryPolicyFactory().Create(cfg.Importd.Queue.Retry)
}

type defaultRetryPolicy struct {
	maxAttempts         int
	initialInterval     time.Duration
	maxInterval         time.Duration
	factor              float64
	retryableExceptions []string
}

func (p *defaultRetryPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry uses the retryable flag of a BatchError found anywhere in the chain,
// then the configured retryable error names. Cancellation is never retried.
func (p *defaultRetryPolicy) ShouldRetry(err error) bool {
	if err == nil || exception.IsCancellation(err) {
		return false
	}
	if be, ok := exception.AsBatchError(err); ok {
		if be.IsRetryable() {
			return true
		}
	} else if exception.IsTemporary(err) {
		return true
	}

	for _, typeName := range p.retryableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

// GetBackoffInterval grows the initial interval by factor per attempt, capped at the max interval.
func (p *defaultRetryPolicy) GetBackoffInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.initialInterval) * math.Pow(p.factor, float64(attempt-1))
	if p.maxInterval > 0 && d > float64(p.maxInterval) {
		return p.maxInterval
	}
	return time.Duration(d)
}

var _ RetryPolicy = (*defaultRetryPolicy)(nil)
