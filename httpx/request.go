package httpx

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kumaryu/peercaststation-sub002/httpx/internal/http1"
)

// Request is the read side of an Environment. The body is exposed through
// Read; it is framed by Content-Length or chunked coding and decoded from
// any further transfer codings on first use.
type Request struct {
	env    *Environment
	parsed *http1.ParsedRequest
	header Header

	raw     io.Reader // framed body, before transfer decoding
	body    io.Reader
	bodyErr error

	expectContinue bool
	continued      bool
}

func newRequest(env *Environment, pr *http1.ParsedRequest) *Request {
	return &Request{
		env:            env,
		parsed:         pr,
		header:         Header(pr.Header),
		expectContinue: strings.EqualFold(pr.Get("Expect"), "100-continue"),
	}
}

func (r *Request) Method() string       { return r.parsed.Method }
func (r *Request) Proto() string        { return r.parsed.Proto }
func (r *Request) Path() string         { return r.parsed.Path }
func (r *Request) QueryString() string  { return r.parsed.QueryString }
func (r *Request) PathAndQuery() string { return r.parsed.PathAndQuery }
func (r *Request) Pragmas() []string    { return r.parsed.Pragmas }
func (r *Request) KeepAlive() bool      { return r.parsed.KeepAlive }

// Context is cancelled with the connection; see Environment.Context.
func (r *Request) Context() context.Context { return r.env.ctx }

// Query returns a query parameter; keys are case-insensitive and the
// last duplicate wins.
func (r *Request) Query(key string) (string, bool) {
	return r.parsed.QueryValue(key)
}

// Header exposes the request headers. Cookie and Pragma lines are not
// included; use Cookie and Pragmas.
func (r *Request) Header() Header { return r.header }

func (r *Request) HeaderValue(key string) string    { return r.header.Get(key) }
func (r *Request) HeaderValues(key string) []string { return r.header.Values(key) }

func (r *Request) Cookie(name string) (string, bool) {
	v, ok := r.parsed.Cookies[name]
	return v, ok
}

func (r *Request) HasPragma(tok string) bool { return r.parsed.HasPragma(tok) }

// TransferEncodings reports the codings named by Transfer-Encoding.
func (r *Request) TransferEncodings() TransferEncoding {
	return parseTransferEncodings(r.header.Values("Transfer-Encoding"))
}

// ContentLength returns the declared body length, if any.
func (r *Request) ContentLength() (int64, bool) {
	if r.parsed.ChunkedEncoding {
		return 0, false
	}
	n, ok, err := http1.ParseContentLength(r.header.Values("Content-Length"))
	if err != nil {
		return 0, false
	}
	return n, ok
}

func (r *Request) Read(p []byte) (int, error) {
	if r.body == nil && r.bodyErr == nil {
		r.bodyErr = r.openBody()
	}
	if r.bodyErr != nil {
		return 0, r.bodyErr
	}
	return r.body.Read(p)
}

func (r *Request) openBody() error {
	raw, err := r.framing()
	if err != nil {
		return err
	}
	if raw != emptyBody {
		if err := r.sendContinue(); err != nil {
			return err
		}
	}
	body, err := decodeTransferCodings(raw, r.header.Values("Transfer-Encoding"))
	if err != nil {
		return err
	}
	r.body = body
	return nil
}

func (r *Request) framing() (io.Reader, error) {
	if r.raw != nil {
		return r.raw, nil
	}
	st := r.env.st
	switch {
	case r.parsed.ChunkedEncoding:
		r.raw = http1.NewChunkedReader(st.br, st.maxLine)
	default:
		n, ok, err := http1.ParseContentLength(r.header.Values("Content-Length"))
		if err != nil {
			return nil, err
		}
		if ok && n > 0 {
			r.raw = &lengthReader{r: st.br, n: n}
		} else {
			r.raw = emptyBody
		}
	}
	return r.raw, nil
}

// sendContinue emits the interim 100 response the peer is waiting for
// before it transmits the body.
func (r *Request) sendContinue() error {
	if !r.expectContinue || r.continued || r.parsed.Proto == "HTTP/1.0" || r.env.Response.headersSent {
		return nil
	}
	r.continued = true
	bw := r.env.st.bw
	if err := http1.WriteContinue(bw, r.env.Response.proto()); err != nil {
		return err
	}
	return bw.Flush()
}

// drain discards the unread rest of the body so the next pipelined request
// can be parsed. It fails if the body was never solicited with 100
// Continue or is larger than limit.
func (r *Request) drain(limit int64) error {
	raw, err := r.framing()
	if err != nil {
		return err
	}
	if raw == emptyBody {
		return nil
	}
	if r.expectContinue && !r.continued && r.parsed.Proto != "HTTP/1.0" {
		return ErrBodyNotDrained
	}
	n, err := io.Copy(io.Discard, io.LimitReader(raw, limit+1))
	if err != nil {
		return err
	}
	if n > limit {
		return fmt.Errorf("%w: more than %d bytes", ErrBodyNotDrained, limit)
	}
	return nil
}

var emptyBody io.Reader = eofReader{}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// lengthReader reads exactly n bytes; a short stream is an unexpected EOF.
type lengthReader struct {
	r io.Reader
	n int64
}

func (l *lengthReader) Read(p []byte) (int, error) {
	if l.n <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.n {
		p = p[:l.n]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	if err == io.EOF && l.n > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}
