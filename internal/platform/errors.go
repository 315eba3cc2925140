package platform

import (
	"errors"
	"fmt"
)

// Code classifies a platform failure
type Code string

const (
	CodeNotFound     Code = "NOT_FOUND"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeConflict     Code = "CONFLICT"
	CodeDatabase     Code = "DATABASE_ERROR"
	CodeUnavailable  Code = "SERVICE_UNAVAILABLE"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// ErrNotFound is matched by errors.Is for any Error with CodeNotFound
var ErrNotFound = errors.New("platform: not found")

// Error is a failed remote query or command
type Error struct {
	Op      string
	Code    Code
	Message string
	Err     error
}

// NewError builds an Error for op
func NewError(op string, code Code, message string, err error) *Error {
	return &Error{Op: op, Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("platform %s [%s]: %s", e.Op, e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNotFound) match not-found platform errors
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Code == CodeNotFound
}

// IsPlatformError reports whether err wraps an *Error
func IsPlatformError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
