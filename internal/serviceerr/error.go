// Package serviceerr carries the coded error type shared by the domain services.
package serviceerr

import (
	"errors"
	"fmt"
)

// Outcome classes shared by the services. The HTTP layer maps them to status codes.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyMember = errors.New("already a member")
)

// Error annotates a failure with a dotted "<operation>.<reason>" code.
type Error struct {
	code string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the dotted error code.
func (e *Error) Code() string {
	return e.code
}

// New builds an *Error for the operation and reason wrapping cause.
func New(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &Error{code: code, err: cause}
}

// CodeOf extracts the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
