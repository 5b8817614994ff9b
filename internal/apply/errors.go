package apply

import (
	"errors"
	"fmt"

	"github.com/roach88/mvsync/internal/sqlgen"
)

// ErrUnsupportedOperation is returned when an action without a read
// statement is asked for one.
var ErrUnsupportedOperation = sqlgen.ErrUnsupportedOperation

// ErrorCode categorizes pipeline errors.
type ErrorCode string

const (
	// ErrCodeUnsupportedOperation indicates a programming error: the
	// action has no read statement.
	ErrCodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"

	// ErrCodeReadFailed indicates a batched read failed with a
	// non-transient error.
	ErrCodeReadFailed ErrorCode = "READ_FAILED"

	// ErrCodeWriteFailed indicates a commit handler rejected a write.
	ErrCodeWriteFailed ErrorCode = "WRITE_FAILED"

	// ErrCodeRetriesExhausted indicates a transient read failure outlived
	// the retry policy.
	ErrCodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
)

// Error is a pipeline failure. It aborts the current batch.
type Error struct {
	Code      ErrorCode
	Action    string
	Statement string
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Action)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Action, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of the first Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsUnsupportedOperation reports whether err is an unsupported operation.
func IsUnsupportedOperation(err error) bool {
	return CodeOf(err) == ErrCodeUnsupportedOperation || errors.Is(err, ErrUnsupportedOperation)
}
