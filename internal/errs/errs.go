package errs

import (
	"errors"
	"fmt"
)

const (
	CodeExtraction           = "EXTRACTION"
	CodeRemoteTransport      = "REMOTE_TRANSPORT"
	CodeRemoteAuth           = "REMOTE_AUTH"
	CodePaginationIncomplete = "PAGINATION_INCOMPLETE"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeConfig               = "CONFIG"
)

// Error is a typed failure carrying one of the codes above.
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same code, so the predefined values below
// work as sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an existing error.
func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Predefined sentinels.
var (
	ErrExtraction           = New(CodeExtraction, "lesson extraction failed")
	ErrRemoteTransport      = New(CodeRemoteTransport, "remote calendar request failed")
	ErrRemoteAuth           = New(CodeRemoteAuth, "remote calendar authentication failed")
	ErrPaginationIncomplete = New(CodePaginationIncomplete, "remote event enumeration incomplete")
	ErrInvalidInput         = New(CodeInvalidInput, "invalid input")
	ErrConfig               = New(CodeConfig, "invalid configuration")
)

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
