package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeInvalidInput      = "invalid_input"
	CodeUnauthorized      = "unauthorized"
	CodeNotFound          = "not_found"
	CodeDownstreamFailure = "downstream_failure"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func InvalidInput(err error) *Error {
	return New(http.StatusBadRequest, CodeInvalidInput, err)
}

func Unauthorized(err error) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, err)
}

// NotFound covers both "does not exist" and "not owned by the caller" so that
// record existence never leaks across owners.
func NotFound(err error) *Error {
	return New(http.StatusNotFound, CodeNotFound, err)
}

func Downstream(err error) *Error {
	return New(http.StatusBadGateway, CodeDownstreamFailure, err)
}

func From(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func IsNotFound(err error) bool {
	ae, ok := From(err)
	return ok && ae.Code == CodeNotFound
}

func IsInvalidInput(err error) bool {
	ae, ok := From(err)
	return ok && ae.Code == CodeInvalidInput
}
