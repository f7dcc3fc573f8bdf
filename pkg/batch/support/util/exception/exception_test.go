package exception_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
)

type customError struct {
	Msg string
}

func (e *customError) Error() string {
	return fmt.Sprintf("customError: %s", e.Msg)
}

func TestNewBatchError(t *testing.T) {
	originalErr := errors.New("db connection refused")
	be := exception.NewBatchError("db", "failed to connect", originalErr, false, true)

	assert.Equal(t, "db", be.Module)
	assert.Equal(t, "failed to connect", be.Message)
	assert.Equal(t, exception.KindUnknown, be.Kind)
	assert.Equal(t, originalErr, be.Unwrap())
	assert.True(t, be.IsRetryable())
	assert.False(t, be.IsSkippable())
	assert.Contains(t, be.Error(), "[db] failed to connect: db connection refused")
	assert.NotEmpty(t, be.StackTrace)
}

func TestNewBatchErrorf(t *testing.T) {
	be := exception.NewBatchErrorf("reader", "row %d not found", 10)
	assert.False(t, be.IsRetryable())
	assert.False(t, be.IsSkippable())
	assert.Nil(t, be.Unwrap())
	assert.Equal(t, "[reader] row 10 not found", be.Error())

	be = exception.NewBatchErrorf("net", "timeout occurred", true)
	assert.True(t, be.IsRetryable())
	assert.False(t, be.IsSkippable())

	cause := errors.New("data format error")
	be = exception.NewBatchErrorf("proc", "format error in row %d", 5, true, false, cause)
	assert.False(t, be.IsRetryable())
	assert.True(t, be.IsSkippable())
	assert.Equal(t, cause, be.Unwrap())
	assert.Equal(t, "format error in row 5", be.Message)
}

func TestKindConstructors(t *testing.T) {
	cause := errors.New("boom")
	cases := []struct {
		name      string
		err       *exception.BatchError
		kind      exception.Kind
		retryable bool
		skippable bool
	}{
		{"upload", exception.NewUploadError("put failed", cause), exception.KindUpload, false, false},
		{"download", exception.NewDownloadError("get failed", cause), exception.KindDownload, true, false},
		{"download missing object", exception.NewDownloadError("get failed", exception.ErrObjectNotFound), exception.KindDownload, false, false},
		{"parse", exception.NewParseError("bad file", cause), exception.KindParse, false, false},
		{"mapping", exception.NewMappingError("name is required"), exception.KindMapping, false, false},
		{"row", exception.NewRowError(3, "bad row", cause), exception.KindRow, false, true},
		{"storage", exception.NewStorageError("delete failed", cause, true), exception.KindStorage, true, false},
		{"database", exception.NewDatabaseError("insert failed", cause), exception.KindDatabase, false, false},
		{"database transient", exception.NewDatabaseError("insert failed", errors.New("database is locked")), exception.KindDatabase, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, tc.err.Kind)
			assert.Equal(t, tc.retryable, tc.err.IsRetryable())
			assert.Equal(t, tc.skippable, tc.err.IsSkippable())

			wrapped := errors.Wrap(tc.err, "outer")
			assert.True(t, exception.IsKind(wrapped, tc.kind))
			assert.Equal(t, tc.kind, exception.KindOf(wrapped))
		})
	}
	assert.Equal(t, 3, exception.NewRowError(3, "bad row", nil).Row)
}

func TestIsKindAndKindOfPlainErrors(t *testing.T) {
	assert.False(t, exception.IsKind(nil, exception.KindUnknown))
	assert.Equal(t, exception.KindUnknown, exception.KindOf(errors.New("plain")))
	assert.False(t, exception.IsBatchError(errors.New("plain")))
}

func TestIsTemporary(t *testing.T) {
	assert.False(t, exception.IsTemporary(nil))
	assert.True(t, exception.IsTemporary(context.DeadlineExceeded))
	assert.True(t, exception.IsTemporary(errors.Wrap(context.DeadlineExceeded, "query")))
	assert.True(t, exception.IsTemporary(errors.New("dial tcp: connection refused")))
	assert.True(t, exception.IsTemporary(errors.New("unexpected EOF")))
	assert.False(t, exception.IsTemporary(errors.New("syntax error")))

	// The BatchError flag wins over the message.
	assert.False(t, exception.IsTemporary(exception.NewBatchError("db", "timeout", nil, false, false)))
}

func TestIsFatal(t *testing.T) {
	assert.False(t, exception.IsFatal(nil))
	assert.True(t, exception.IsFatal(exception.NewParseError("bad", nil)))
	assert.False(t, exception.IsFatal(exception.NewRowError(1, "bad", nil)))
	assert.False(t, exception.IsFatal(errors.New("i/o timeout")))
	assert.True(t, exception.IsFatal(errors.New("permission denied")))
}

func TestIsErrorOfType(t *testing.T) {
	assert.False(t, exception.IsErrorOfType(nil, "anything"))

	err := errors.Wrap(context.DeadlineExceeded, "read")
	assert.True(t, exception.IsErrorOfType(err, "context.DeadlineExceeded"))

	custom := errors.Wrap(&customError{Msg: "x"}, "outer")
	assert.True(t, exception.IsErrorOfType(custom, "exception_test.customError"))
	assert.True(t, exception.IsErrorOfType(custom, "customError: x"))
	assert.False(t, exception.IsErrorOfType(custom, "sql.ErrNoRows"))
}

func TestRegisterErrorType(t *testing.T) {
	sentinel := errors.New("quota exceeded")
	exception.RegisterErrorType("QuotaExceeded", sentinel)
	assert.True(t, exception.IsErrorTypeRegistered("QuotaExceeded"))
	assert.True(t, exception.IsErrorOfType(errors.Wrap(sentinel, "call"), "QuotaExceeded"))
	assert.False(t, exception.IsErrorTypeRegistered("NeverRegistered"))

	assert.Panics(t, func() { exception.RegisterErrorType("", sentinel) })
	assert.Panics(t, func() { exception.RegisterErrorType("Nil", nil) })
}

func TestSentinelsAndMessages(t *testing.T) {
	assert.True(t, exception.IsErrorTypeRegistered("OptimisticLockingFailureException"))
	assert.True(t, exception.IsCancellation(errors.Wrap(exception.ErrCancellationRequested, "job 1")))
	assert.False(t, exception.IsCancellation(exception.ErrJobNotFound))

	assert.Equal(t, "", exception.ExtractErrorMessage(nil))
	assert.Equal(t, "plain", exception.ExtractErrorMessage(errors.New("plain")))
	assert.Equal(t, "bad file: eof", exception.ExtractErrorMessage(errors.Wrap(exception.NewParseError("bad file", errors.New("eof")), "outer")))
	assert.Equal(t, "name is required", exception.ExtractErrorMessage(exception.NewMappingError("name is required")))
}
