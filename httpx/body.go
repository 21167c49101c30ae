package httpx

import (
	"bufio"
	"bytes"

	"github.com/kumaryu/peercaststation-sub002/httpx/internal/http1"
)

// FramingMode is how a response body is delimited on the wire. It moves
// from FramingUnselected to exactly one other mode, once.
type FramingMode int

const (
	FramingUnselected FramingMode = iota
	// FramingChunked frames every write as one chunk.
	FramingChunked
	// FramingDeferred buffers the body and sends it with a computed
	// Content-Length when the response completes.
	FramingDeferred
	// FramingPassThrough writes straight to the connection. The body is
	// delimited by a declared Content-Length or by closing the connection.
	FramingPassThrough
)

func (m FramingMode) String() string {
	switch m {
	case FramingChunked:
		return "chunked"
	case FramingDeferred:
		return "deferred"
	case FramingPassThrough:
		return "pass-through"
	default:
		return "unselected"
	}
}

// SelectFraming decides the body framing of a response. chunked is an
// explicit Transfer-Encoding: chunked on the response, keepAlive whether
// the connection is meant to survive it, hasLength whether a
// Content-Length was declared.
func SelectFraming(chunked, keepAlive, hasLength bool) FramingMode {
	switch {
	case chunked:
		return FramingChunked
	case !keepAlive || hasLength:
		return FramingPassThrough
	default:
		return FramingDeferred
	}
}

type bodyWriter interface {
	Write(p []byte) (int, error)
	Flush() error
	// Complete ends the body. Headers must be on the wire afterwards.
	Complete() error
}

type passThroughWriter struct {
	res      *Response
	bw       *bufio.Writer
	declared int64 // -1 when no Content-Length was declared
	n        int64
}

func (w *passThroughWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	if w.res.discard {
		return len(p), nil
	}
	return w.bw.Write(p)
}

func (w *passThroughWriter) Flush() error { return w.bw.Flush() }

func (w *passThroughWriter) Complete() error {
	if w.declared >= 0 && w.n != w.declared && !w.res.discard {
		// The peer cannot find the end of this body.
		w.res.keepAlive = false
	}
	return w.bw.Flush()
}

type chunkedBodyWriter struct {
	res *Response
	bw  *bufio.Writer
	cw  *http1.ChunkedWriter
}

func (w *chunkedBodyWriter) Write(p []byte) (int, error) {
	if w.res.discard {
		return len(p), nil
	}
	n, err := w.cw.Write(p)
	if err != nil {
		return n, err
	}
	// Flush each chunk to enable streaming to clients.
	return n, w.bw.Flush()
}

func (w *chunkedBodyWriter) Flush() error { return w.bw.Flush() }

func (w *chunkedBodyWriter) Complete() error {
	if !w.res.discard {
		if err := w.cw.Close(); err != nil {
			return err
		}
	}
	return w.bw.Flush()
}

type deferredWriter struct {
	res *Response
	buf bytes.Buffer
}

func (w *deferredWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

// Flush is a no-op: nothing may reach the wire before the length is known.
func (w *deferredWriter) Flush() error { return nil }

func (w *deferredWriter) Complete() error {
	r := w.res
	if err := r.sendHeaders(); err != nil {
		return err
	}
	bw := r.env.st.bw
	if !r.discard {
		if _, err := bw.Write(w.buf.Bytes()); err != nil {
			return err
		}
	}
	return bw.Flush()
}
