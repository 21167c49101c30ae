package httpx

import (
	"errors"

	"github.com/kumaryu/peercaststation-sub002/httpx/internal/http1"
)

// StatusError carries the HTTP status a failed request is answered with.
type StatusError = http1.StatusError

var (
	ErrMalformedRequestLine = http1.ErrMalformedRequestLine
	ErrMalformedChunk       = http1.ErrMalformedChunk
	ErrNotImplemented       = http1.ErrNotImplemented
	ErrConfiguration        = errors.New("httpx: pipeline configuration error")
	ErrServerClosed         = errors.New("httpx: server closed")
	ErrReadOnlyKey          = errors.New("httpx: environment key is read-only")
	ErrBodyNotDrained       = errors.New("httpx: request body left unread")
)

// Error returns an error that makes the connection loop answer with code
// and close the connection, provided no header block was sent yet.
func Error(code int, err error) error {
	return &StatusError{Code: code, Err: err}
}
