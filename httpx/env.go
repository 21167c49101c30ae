package httpx

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/kumaryu/peercaststation-sub002/httpx/internal/http1"
	"github.com/kumaryu/peercaststation-sub002/internal/obs"
)

// Well-known environment keys. Environment.Get resolves them to the typed
// state behind Request and Response; any other key addresses the
// application extensions set with Environment.Set.
const (
	KeyRequestMethod      = "owin.RequestMethod"      // string
	KeyRequestPath        = "owin.RequestPath"        // string
	KeyRequestQueryString = "owin.RequestQueryString" // string, no leading '?'
	KeyRequestProtocol    = "owin.RequestProtocol"    // string
	KeyRequestHeaders     = "owin.RequestHeaders"     // Header, read-only copy
	KeyRequestBody        = "owin.RequestBody"        // io.Reader
	KeyResponseStatusCode = "owin.ResponseStatusCode" // int, settable
	KeyResponseHeaders    = "owin.ResponseHeaders"    // Header, live
	KeyResponseBody       = "owin.ResponseBody"       // io.Writer
	KeyCallCancelled      = "owin.CallCancelled"      // context.Context
	KeyLocalAddr          = "server.LocalAddr"        // net.Addr
	KeyRemoteAddr         = "server.RemoteAddr"       // net.Addr
	KeyRequestID          = "server.RequestId"        // string
	KeyAccessControl      = "peercast.AccessControl"  // AccessPolicy
)

// UpgradeFunc takes over the raw connection once the pipeline returns.
type UpgradeFunc func(ctx context.Context, s *OpaqueStream) error

// OpaqueStream is the raw duplex stream handed to an UpgradeFunc. Reads
// start with any bytes the HTTP reader had already buffered.
type OpaqueStream struct {
	r             io.Reader
	w             io.Writer
	local, remote net.Addr
}

func (s *OpaqueStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *OpaqueStream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *OpaqueStream) LocalAddr() net.Addr         { return s.local }
func (s *OpaqueStream) RemoteAddr() net.Addr        { return s.remote }

// stream is the connection side shared by consecutive environments.
type stream struct {
	conn          net.Conn // nil when not backed by a socket
	br            *bufio.Reader
	bw            *bufio.Writer
	raw           io.Writer
	local, remote net.Addr
	rates         *rateConn
	maxLine       int
}

func (st *stream) opaque() *OpaqueStream {
	return &OpaqueStream{r: st.br, w: st.raw, local: st.local, remote: st.remote}
}

// Environment is the state of one in-flight request. It is owned by the
// connection goroutine and must not be retained after the handler returns.
type Environment struct {
	Request  *Request
	Response *Response

	ctx       context.Context
	st        *stream
	access    AccessPolicy
	requestID string
	logger    obs.Logger
	ext       map[string]any
	upgrade   UpgradeFunc
	last      bool
}

func newEnvironment(ctx context.Context, st *stream, pr *http1.ParsedRequest, access AccessPolicy) *Environment {
	env := &Environment{
		st:        st,
		access:    access,
		requestID: newRequestID(),
		logger:    obs.NopLogger{},
	}
	ctx = WithRequestID(ctx, env.requestID)
	if cid := pr.Get("X-Request-Id"); cid != "" {
		ctx = WithCorrelationID(ctx, cid)
	}
	env.ctx = WithTrace(ctx, inboundTrace(pr.Get("Traceparent")))
	env.Request = newRequest(env, pr)
	env.Response = newResponse(env)
	return env
}

// Context is cancelled when the connection is torn down or the server
// shuts down.
func (e *Environment) Context() context.Context { return e.ctx }

func (e *Environment) LocalAddr() net.Addr  { return e.st.local }
func (e *Environment) RemoteAddr() net.Addr { return e.st.remote }

// AccessControl returns the policy the host attached to this connection.
func (e *Environment) AccessControl() AccessPolicy { return e.access }

func (e *Environment) RequestID() string { return e.requestID }

// Logger returns a logger that tags lines with the connection and request.
func (e *Environment) Logger() obs.Logger { return e.logger }

// RecvRate and SendRate are the average byte rates of the connection since
// it was accepted, in bytes per second.
func (e *Environment) RecvRate() float64 {
	if e.st.rates == nil {
		return 0
	}
	return e.st.rates.RecvRate()
}

func (e *Environment) SendRate() float64 {
	if e.st.rates == nil {
		return 0
	}
	return e.st.rates.SendRate()
}

// Get looks key up among the well-known keys first, then the extensions.
func (e *Environment) Get(key string) (any, bool) {
	switch key {
	case KeyRequestMethod:
		return e.Request.Method(), true
	case KeyRequestPath:
		return e.Request.Path(), true
	case KeyRequestQueryString:
		return e.Request.QueryString(), true
	case KeyRequestProtocol:
		return e.Request.Proto(), true
	case KeyRequestHeaders:
		return e.Request.Header().Clone(), true
	case KeyRequestBody:
		return io.Reader(e.Request), true
	case KeyResponseStatusCode:
		return e.Response.StatusCode(), true
	case KeyResponseHeaders:
		return e.Response.Header(), true
	case KeyResponseBody:
		return io.Writer(e.Response), true
	case KeyCallCancelled:
		return e.ctx, true
	case KeyLocalAddr:
		return e.st.local, e.st.local != nil
	case KeyRemoteAddr:
		return e.st.remote, e.st.remote != nil
	case KeyRequestID:
		return e.requestID, true
	case KeyAccessControl:
		return e.access, e.access != nil
	}
	v, ok := e.ext[key]
	return v, ok
}

// Set stores an application extension. Of the well-known keys only the
// response status code is writable.
func (e *Environment) Set(key string, v any) error {
	switch key {
	case KeyResponseStatusCode:
		code, ok := v.(int)
		if !ok {
			return ErrReadOnlyKey
		}
		e.Response.SetStatus(code)
		return nil
	case KeyRequestMethod, KeyRequestPath, KeyRequestQueryString, KeyRequestProtocol,
		KeyRequestHeaders, KeyRequestBody, KeyResponseHeaders, KeyResponseBody,
		KeyCallCancelled, KeyLocalAddr, KeyRemoteAddr, KeyRequestID, KeyAccessControl:
		return ErrReadOnlyKey
	}
	if e.ext == nil {
		e.ext = make(map[string]any)
	}
	e.ext[key] = v
	return nil
}

// Upgrade registers fn to receive the raw connection after the pipeline
// returns. Normal response completion is skipped for this request and the
// connection leaves the HTTP loop. The last registration wins.
func (e *Environment) Upgrade(fn UpgradeFunc) {
	e.upgrade = fn
}

func (e *Environment) Upgraded() bool { return e.upgrade != nil }

// wantKeepAlive is the negotiated rule before framing is known.
func (e *Environment) wantKeepAlive() bool {
	if e.upgrade != nil || e.last || !e.Request.parsed.KeepAlive {
		return false
	}
	return !http1.HasToken(e.Response.header.Values("Connection"), "close")
}

// IsKeepAlive reports whether the connection may serve another request
// after this one completes.
func (e *Environment) IsKeepAlive() bool {
	if e.upgrade != nil {
		return false
	}
	if e.Response.headersSent {
		return e.Response.keepAlive
	}
	return e.wantKeepAlive()
}

func (e *Environment) setWriteDeadline(d time.Duration) {
	if e.st.conn != nil && d > 0 {
		setWriteDeadlineWithContext(e.st.conn, d, e.ctx)
	}
}
