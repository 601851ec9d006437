package errs

import (
	"errors"
)

// Code is a fixture lifecycle error kind.
type Code string

const (
	// Timeout means a wait predicate never became true within its budget.
	Timeout Code = "timeout"
	// API means a transport or malformed-response error talking to the remote API.
	API Code = "api_failure"
	// Authentication means login never reached the authenticated marker.
	Authentication Code = "authentication_failure"
	// Teardown means a batched cleanup could not be applied to the backing store.
	Teardown Code = "teardown_failure"

	NotFound           Code = "not_found"
	InvalidArgument    Code = "invalid_argument"
	FailedPrecondition Code = "failed_precondition"
	Internal           Code = "internal"
)

// Error is a coded error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// CodeOf returns the outermost error code in the chain, defaulting to internal.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	return Internal
}

// Is reports whether any coded error in the chain carries code.
// Unlike CodeOf it looks past the outermost coded error, so an
// authentication failure caused by a timeout matches both kinds.
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
