package httpx

import (
	"errors"
	"io"
	"strconv"

	"github.com/kumaryu/peercaststation-sub002/httpx/internal/http1"
)

var errResponseCompleted = errors.New("httpx: response already completed")

// Response is the write side of an Environment. Status and headers may be
// changed until the header block is sent; the first body write (or Flush,
// or completion) decides the framing.
type Response struct {
	env    *Environment
	status int
	header Header

	onSending   []func(*Response)
	headersSent bool
	keepAlive   bool
	discard     bool
	completed   bool

	framing  FramingMode
	body     bodyWriter
	out      io.Writer
	enc      io.WriteCloser
	encoding string
}

func newResponse(env *Environment) *Response {
	return &Response{env: env, status: 200, header: Header{}}
}

func (r *Response) StatusCode() int { return r.status }

// SetStatus changes the status code; it is ignored once headers are sent.
func (r *Response) SetStatus(code int) {
	if r.headersSent {
		return
	}
	r.status = code
}

func (r *Response) Header() Header { return r.header }

func (r *Response) SetHeader(key, value string) { r.header.Set(key, value) }
func (r *Response) AddHeader(key, value string) { r.header.Add(key, value) }

func (r *Response) ContentType() string       { return r.header.Get("Content-Type") }
func (r *Response) SetContentType(ct string) { r.header.Set("Content-Type", ct) }

// ContentLength returns the declared Content-Length, if one is set.
func (r *Response) ContentLength() (int64, bool) {
	vv := r.header.Values("Content-Length")
	if len(vv) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(vv[len(vv)-1], 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// SetContentLength declares the body length; a negative n removes it.
// A declared length selects pass-through framing on the first write.
func (r *Response) SetContentLength(n int64) {
	if n < 0 {
		r.header.Del("Content-Length")
		return
	}
	r.header.Set("Content-Length", strconv.FormatInt(n, 10))
}

// SetContentEncoding compresses the body with gzip or deflate. It must be
// called before the first write; a declared Content-Length is dropped.
func (r *Response) SetContentEncoding(coding string) error {
	if r.body != nil {
		return errors.New("httpx: content encoding set after body started")
	}
	if f := codingFlag(coding); f != EncodingGzip && f != EncodingDeflate && f != EncodingIdentity {
		return http1.NotImplemented(ErrNotImplemented)
	}
	r.encoding = coding
	return nil
}

// OnSendingHeaders registers fn to run once, right before the header block
// is serialized. Callbacks run in registration order.
func (r *Response) OnSendingHeaders(fn func(*Response)) {
	r.onSending = append(r.onSending, fn)
}

func (r *Response) HeadersSent() bool { return r.headersSent }

// Framing returns the selected framing mode.
func (r *Response) Framing() FramingMode { return r.framing }

func (r *Response) Write(p []byte) (int, error) {
	if r.completed {
		return 0, errResponseCompleted
	}
	if err := r.selectBody(); err != nil {
		return 0, err
	}
	return r.out.Write(p)
}

func (r *Response) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

// Flush sends the header block (unless framing is deferred) and any
// buffered body bytes.
func (r *Response) Flush() error {
	if r.completed {
		return nil
	}
	if err := r.selectBody(); err != nil {
		return err
	}
	if f, ok := r.enc.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	return r.body.Flush()
}

func (r *Response) proto() string {
	if r.env.Request.parsed.Proto == "HTTP/1.0" {
		return "HTTP/1.0"
	}
	return "HTTP/1.1"
}

// selectBody installs the body writer on first use.
func (r *Response) selectBody() error {
	if r.body != nil {
		return nil
	}
	chunked := http1.HasToken(r.header.Values("Transfer-Encoding"), "chunked")
	if chunked && r.proto() == "HTTP/1.0" {
		r.header.Del("Transfer-Encoding")
		chunked = false
	}
	if r.encoding != "" && codingFlag(r.encoding) != EncodingIdentity {
		r.header.Del("Content-Length")
		r.header.Set("Content-Encoding", r.encoding)
	}
	_, hasLength := r.ContentLength()
	r.framing = SelectFraming(chunked, r.env.wantKeepAlive(), hasLength)

	bw := r.env.st.bw
	switch r.framing {
	case FramingChunked:
		r.header.Del("Content-Length")
		r.header.Set("Transfer-Encoding", "chunked")
		if err := r.sendHeaders(); err != nil {
			return err
		}
		r.body = &chunkedBodyWriter{res: r, bw: bw, cw: http1.NewChunkedWriter(bw)}
	case FramingPassThrough:
		if err := r.sendHeaders(); err != nil {
			return err
		}
		declared := int64(-1)
		if n, ok := r.ContentLength(); ok {
			declared = n
		}
		r.body = &passThroughWriter{res: r, bw: bw, declared: declared}
	default:
		r.body = &deferredWriter{res: r}
	}
	r.out = r.body
	if r.encoding != "" {
		enc, err := newEncoder(r.body, r.encoding)
		if err != nil {
			return err
		}
		if enc != nil {
			r.enc = enc
			r.out = enc
		}
	}
	return nil
}

// sendHeaders runs the OnSendingHeaders callbacks and writes the header
// block. It runs at most once per response.
func (r *Response) sendHeaders() error {
	if r.headersSent {
		return nil
	}
	for _, fn := range r.onSending {
		fn(r)
	}
	r.onSending = nil
	r.headersSent = true

	r.discard = r.env.Request.Method() == "HEAD" || bodiless(r.status)
	if d, ok := r.body.(*deferredWriter); ok {
		r.header.Del("Transfer-Encoding")
		if !bodiless(r.status) {
			r.SetContentLength(int64(d.buf.Len()))
		}
	}
	_, hasLength := r.ContentLength()
	r.keepAlive = r.env.wantKeepAlive() && (r.framing != FramingPassThrough || hasLength || r.discard)
	switch {
	case r.status == 101:
		// Connection: Upgrade belongs to the handler.
	case r.keepAlive:
		r.header.Set("Connection", "keep-alive")
	default:
		r.header.Set("Connection", "close")
	}
	return http1.WriteHeaderBlock(r.env.st.bw, r.proto(), r.status, r.header)
}

// complete finishes the body: flushes deferred bytes or writes the chunk
// terminator. Responses that never wrote anything get an empty body.
func (r *Response) complete() error {
	if r.completed {
		return nil
	}
	if err := r.selectBody(); err != nil {
		return err
	}
	r.completed = true
	if r.enc != nil {
		if err := r.enc.Close(); err != nil {
			return err
		}
	}
	return r.body.Complete()
}

func bodiless(status int) bool {
	return (status >= 100 && status < 200) || status == 204 || status == 304
}
