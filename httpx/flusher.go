package httpx

// Flusher is implemented by *Response. Flush pushes buffered bytes to the
// peer; in deferred framing it is a no-op because nothing may precede the
// computed Content-Length.
type Flusher interface {
	Flush() error
}

var _ Flusher = (*Response)(nil)
