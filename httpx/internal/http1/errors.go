package http1

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedRequestLine = errors.New("http1: malformed request line")
	ErrMalformedChunk       = errors.New("http1: invalid chunk format")
	ErrMalformedLength      = errors.New("http1: invalid content length")
	ErrLineTooLong          = errors.New("http1: line too long")
	ErrHeaderTooLarge       = errors.New("http1: header too large")
	ErrNotImplemented       = errors.New("http1: coding not implemented")
	ErrUnknownStatus        = errors.New("http1: unknown status code")
)

// StatusError is a failure that maps onto an HTTP status code. The code is
// what the connection should answer with before it is closed.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("http1: %d %s", e.Code, StatusText(e.Code))
	}
	return fmt.Sprintf("http1: %d %s: %v", e.Code, StatusText(e.Code), e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

func badRequest(err error) error {
	return &StatusError{Code: 400, Err: err}
}

// NotImplemented wraps err as a 501 condition.
func NotImplemented(err error) error {
	return &StatusError{Code: 501, Err: err}
}
