// Package exception provides the error taxonomy used by the import pipeline.
// Errors are classified by Kind and carry retry and skip flags that the worker
// uses to decide between retrying a job, isolating a row, or failing fast.
package exception

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// Kind classifies a BatchError.
type Kind string

const (
	KindUnknown  Kind = "unknown"
	KindUpload   Kind = "upload"
	KindDownload Kind = "download"
	KindParse    Kind = "parse"
	KindMapping  Kind = "mapping"
	KindRow      Kind = "row"
	KindStorage  Kind = "storage"
	KindDatabase Kind = "database"
)

// errorRegistry maps configured error names to sentinel errors for comparison with errors.Is.
var errorRegistry = make(map[string]error)

// registryMutex protects access to errorRegistry.
var registryMutex sync.RWMutex

// RegisterErrorType registers an error type in the registry so it can be referenced by name,
// for example from the retryable error list of the queue retry configuration.
//
// If prototype is nil or name is empty, this function will panic.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}

	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered checks if the specified error type name is registered in the registry.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// BatchError is the error type raised by pipeline components.
type BatchError struct {
	// Module indicates the component where the error occurred (e.g., "parser", "mapping", "storage").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// Kind is the taxonomy class of the error.
	Kind Kind
	// Row is the 1-based spreadsheet row for row-level errors, zero otherwise.
	Row         int
	isRetryable bool
	isSkippable bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// NewBatchError creates a new BatchError instance of KindUnknown.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		Kind:        KindUnknown,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// NewBatchErrorf creates a new BatchError using a format string.
// Optional trailing arguments are extracted from the end of 'a' in the order
// [originalErr error], [isRetryable bool], [isSkippable bool]; the rest feed fmt.Sprintf.
//
// NewBatchErrorf("storage", "object %s missing", name, false, ErrObjectNotFound)
// -> isRetryable: false, originalErr: ErrObjectNotFound
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	isRetryable := false
	isSkippable := false
	args := a

	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isRetryable = b
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isSkippable = b
			args = args[:len(args)-1]
		}
	}

	return &BatchError{
		Module:      module,
		Message:     fmt.Sprintf(format, args...),
		OriginalErr: originalErr,
		Kind:        KindUnknown,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

func newKind(kind Kind, module, message string, err error, retryable, skippable bool) *BatchError {
	be := NewBatchError(module, message, err, skippable, retryable)
	be.Kind = kind
	return be
}

// NewUploadError reports a failed write of an uploaded file to the blob store.
// No job record exists when this error is returned.
func NewUploadError(message string, err error) *BatchError {
	return newKind(KindUpload, "upload", message, err, false, false)
}

// NewDownloadError reports a failed read from the blob store. It is retryable
// unless the object does not exist.
func NewDownloadError(message string, err error) *BatchError {
	return newKind(KindDownload, "download", message, err, !errors.Is(err, ErrObjectNotFound), false)
}

// NewParseError reports an unreadable or empty tabular file. Not retryable.
func NewParseError(message string, err error) *BatchError {
	return newKind(KindParse, "parser", message, err, false, false)
}

// NewMappingError reports a column mapping that lacks required fields. Not retryable.
func NewMappingError(message string) *BatchError {
	return newKind(KindMapping, "mapping", message, nil, false, false)
}

// NewRowError reports a failure confined to one input row. The row is logged and skipped.
func NewRowError(row int, message string, err error) *BatchError {
	be := newKind(KindRow, "writer", message, err, false, true)
	be.Row = row
	return be
}

// NewStorageError wraps a blob store failure other than upload or download.
func NewStorageError(message string, err error, retryable bool) *BatchError {
	return newKind(KindStorage, "storage", message, err, retryable, false)
}

// NewDatabaseError wraps a persistence failure. Transient failures are retryable.
func NewDatabaseError(message string, err error) *BatchError {
	return newKind(KindDatabase, "database", message, err, IsTemporary(err), false)
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// AsBatchError finds the first BatchError in the chain.
func AsBatchError(err error) (*BatchError, bool) {
	var be *BatchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// IsBatchError reports whether err carries a BatchError anywhere in its chain.
func IsBatchError(err error) bool {
	_, ok := AsBatchError(err)
	return ok
}

// KindOf returns the Kind of the first BatchError in the chain, or KindUnknown.
func KindOf(err error) Kind {
	if be, ok := AsBatchError(err); ok {
		return be.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a BatchError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTemporary determines if an error is temporary (e.g., network error, temporary DB connection issue).
// If it's a BatchError, its IsRetryable flag takes precedence.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := AsBatchError(err); ok {
		return be.IsRetryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "deadlock") ||
		strings.Contains(errStr, "eof")
}

// IsFatal determines if an error is neither retryable nor skippable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := AsBatchError(err); ok {
		return !be.IsRetryable() && !be.IsSkippable()
	}
	return !IsTemporary(err)
}

// IsErrorOfType checks if an error matches a specified type name.
// errorTypeName can be a registered name, a Go type name (e.g., "*net.OpError") or a substring of an error message.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	targetError, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()

	if ok && errors.Is(err, targetError) {
		return true
	}

	for currentErr := err; currentErr != nil; currentErr = errors.Unwrap(currentErr) {
		if strings.Contains(currentErr.Error(), errorTypeName) {
			return true
		}
		errType := reflect.TypeOf(currentErr)
		if errType != nil {
			if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
				return true
			}
		}
	}
	return false
}

var (
	// ErrCancellationRequested is the control signal raised when a job is observed cancelled
	// at a batch boundary. It is not a failure.
	ErrCancellationRequested = errors.New("cancellation requested")
	// ErrObjectNotFound is returned by blob stores for a missing object.
	ErrObjectNotFound = errors.New("object not found")
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a status change is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrJobNotProcessing is returned when a progress write targets a job that is no longer processing.
	ErrJobNotProcessing = errors.New("job is not processing")
	// ErrOptimisticLockingFailure indicates a conditional update matched no row.
	ErrOptimisticLockingFailure = errors.New("OptimisticLockingFailureException")
)

func init() {
	RegisterErrorType("CancellationRequested", ErrCancellationRequested)
	RegisterErrorType("ObjectNotFound", ErrObjectNotFound)
	RegisterErrorType("OptimisticLockingFailureException", ErrOptimisticLockingFailure)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrConnDone", sql.ErrConnDone)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
}

// IsCancellation reports whether err is the cancellation control signal.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancellationRequested)
}

// ExtractErrorMessage extracts the error message string from an error.
// For BatchError, it returns the Message field followed by the wrapped cause.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if be, ok := AsBatchError(err); ok {
		if be.OriginalErr != nil {
			return be.Message + ": " + be.OriginalErr.Error()
		}
		return be.Message
	}
	return err.Error()
}
