package retry_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	config "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/engine/step/retry"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
)

func newPolicy() retry.RetryPolicy {
	return retry.NewPolicy(config.NewConfig())
}

func TestBackoff(t *testing.T) {
	p := newPolicy()
	assert.Equal(t, 10*time.Second, p.GetBackoffInterval(1))
	assert.Equal(t, 20*time.Second, p.GetBackoffInterval(2))
	assert.Equal(t, 40*time.Second, p.GetBackoffInterval(3))
	assert.Equal(t, 5*time.Minute, p.GetBackoffInterval(10), "capped at max interval")
	assert.Equal(t, 3, p.GetMaxAttempts())
}

func TestShouldRetry(t *testing.T) {
	p := newPolicy()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"download failure", exception.NewDownloadError("read failed", errors.New("connection reset")), true},
		{"missing blob", exception.NewDownloadError("read failed", exception.ErrObjectNotFound), false},
		{"parse", exception.NewParseError("bad file", nil), false},
		{"mapping", exception.NewMappingError("missing"), false},
		{"wrapped retryable", fmt.Errorf("step: %w", exception.NewDownloadError("x", errors.New("eof"))), true},
		{"deadline", context.DeadlineExceeded, true},
		{"configured name", fmt.Errorf("query: %w", sql.ErrConnDone), true},
		{"cancellation", exception.ErrCancellationRequested, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldRetry(tt.err))
		})
	}
}

func TestCreateClampsInvalidSettings(t *testing.T) {
	p := retry.NewDefaultRetryPolicyFactory().Create(config.RetryConfig{InitialInterval: 100, Factor: 0})
	assert.Equal(t, 1, p.GetMaxAttempts())
	assert.Equal(t, 100*time.Millisecond, p.GetBackoffInterval(4), "factor below 1 means a fixed interval")
}
