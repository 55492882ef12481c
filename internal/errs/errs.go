// Package errs attaches a stable code to the failures the session, the tag
// registry and the store report, so the CLI can pick an exit status and a
// message without parsing error text.
package errs

import (
	"errors"
)

// Code names a failure class.
type Code string

const (
	InvalidArgument Code = "invalid_argument"
	NotFound        Code = "not_found"
	Persistence     Code = "persistence"
	PartialFailure  Code = "partial_failure"
	Unavailable     Code = "unavailable"
	Internal        Code = "internal"
)

// Error pairs a Code with a user-facing message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New returns an *Error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap returns an *Error around cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Err: cause}
}

// CodeOf returns the code of the outermost *Error in err's chain. Errors
// without one, and coded errors with an empty code, report Internal.
func CodeOf(err error) Code {
	var coded *Error
	if err == nil || !errors.As(err, &coded) || coded.Code == "" {
		return Internal
	}
	return coded.Code
}

// Is reports whether any *Error in err's chain carries code. Unlike CodeOf it
// looks past the outermost coded error.
func Is(err error, code Code) bool {
	for err != nil {
		var coded *Error
		if !errors.As(err, &coded) {
			return false
		}
		if coded.Code == code {
			return true
		}
		err = coded.Err
	}
	return false
}

// MessageOf returns the message of the outermost *Error. Uncoded errors
// become "internal error" so driver text is never shown to the user.
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return "internal error"
}

// ExitCode is the process exit status the CLI uses for code.
func ExitCode(code Code) int {
	switch code {
	case InvalidArgument:
		return 2
	case NotFound:
		return 3
	case Persistence, Unavailable:
		return 4
	case PartialFailure:
		return 5
	default:
		return 1
	}
}
