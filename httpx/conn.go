package httpx

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kumaryu/peercaststation-sub002/httpx/internal/http1"
	"github.com/kumaryu/peercaststation-sub002/internal/obs"
)

// aLongTimeAgo is a deadline in the past that aborts blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// rateConn counts the bytes moved over a connection.
type rateConn struct {
	net.Conn
	start time.Time
	recv  atomic.Int64
	sent  atomic.Int64
}

func newRateConn(c net.Conn) *rateConn {
	return &rateConn{Conn: c, start: time.Now()}
}

func (c *rateConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.recv.Add(int64(n))
	return n, err
}

func (c *rateConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.sent.Add(int64(n))
	return n, err
}

func (c *rateConn) RecvRate() float64 { return c.rate(c.recv.Load()) }
func (c *rateConn) SendRate() float64 { return c.rate(c.sent.Load()) }

func (c *rateConn) rate(n int64) float64 {
	el := time.Since(c.start).Seconds()
	if el <= 0 {
		return 0
	}
	return float64(n) / el
}

// serveStream runs the request loop of one connection until the peer goes
// away, the request budget is spent, keep-alive is declined or a handler
// takes the connection over.
func (s *Server) serveStream(ctx context.Context, c net.Conn, br *bufio.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopShutdown := context.AfterFunc(s.baseContext(), cancel)
	defer stopShutdown()
	// Wake up any read or write blocked on the socket once cancelled.
	stopAbort := context.AfterFunc(ctx, func() { _ = c.SetDeadline(aLongTimeAgo) })
	defer stopAbort()

	rc := newRateConn(c)
	if br == nil {
		br = bufio.NewReader(rc)
	} else {
		// Bytes sniffed before the hand-off count as received, and later
		// reads go through rc.
		pending, _ := br.Peek(br.Buffered())
		buf := append([]byte(nil), pending...)
		rc.recv.Add(int64(len(buf)))
		br = bufio.NewReader(io.MultiReader(bytes.NewReader(buf), rc))
	}
	st := &stream{
		conn:    c,
		br:      br,
		bw:      bufio.NewWriter(rc),
		raw:     rc,
		local:   c.LocalAddr(),
		remote:  c.RemoteAddr(),
		rates:   rc,
		maxLine: s.headerLimit(),
	}
	lg := obs.With(s.Logger, "remote", addrString(st.remote))
	s.metricCounter("httpx_server_conn_total", 1)

	for served := 0; served < s.maxRequests(); served++ {
		pr, err := s.readRequest(ctx, c, br)
		if err != nil {
			if isQuiet(ctx, err) {
				return nil
			}
			var se *StatusError
			if errors.As(err, &se) {
				lg.Logf(obs.Debug, "rejecting request: %v", err)
				s.metricCounter("httpx_server_errors_total", 1, obs.Label{Key: "stage", Value: "parse"})
				if werr := http1.WriteError(st.bw, "HTTP/1.1", se.Code); werr == nil {
					_ = st.bw.Flush()
				}
				return nil
			}
			return err
		}
		keep, err := s.serveRequest(ctx, st, pr, lg, served+1 == s.maxRequests())
		if err != nil {
			if isQuiet(ctx, err) {
				return nil
			}
			return err
		}
		if !keep {
			return nil
		}
	}
	lg.Logf(obs.Debug, "closing after %d requests", s.maxRequests())
	return nil
}

// readRequest reads one request header block under a deadline derived
// from the connection context.
func (s *Server) readRequest(ctx context.Context, c net.Conn, br *bufio.Reader) (*http1.ParsedRequest, error) {
	hctx, cancel := context.WithTimeout(ctx, s.requestTimeout())
	defer cancel()
	setReadDeadlineWithContext(c, 0, hctx)
	// Cancellation may have raced with the deadline above.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rr := &http1.Reader{BR: br, MaxHeaderBytes: s.headerLimit(), MaxTotalHeaderBytes: s.totalHeaderLimit()}
	pr, err := rr.ReadRequest()
	if err != nil {
		return nil, err
	}
	_ = c.SetReadDeadline(time.Time{})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return pr, nil
}

// serveRequest runs the pipeline for one request. last marks the final
// request of the connection's budget, whose response announces close.
func (s *Server) serveRequest(ctx context.Context, st *stream, pr *http1.ParsedRequest, lg obs.Logger, last bool) (bool, error) {
	start := time.Now()
	h, err := s.pipeline()
	if err != nil {
		return false, err
	}
	var access AccessPolicy
	if s.AccessControl != nil {
		access = s.AccessControl(st.remote)
	}
	env := newEnvironment(ctx, st, pr, access)
	env.last = last
	env.logger = obs.With(lg, "req", env.requestID)
	env.setWriteDeadline(s.WriteTimeout)
	s.metricCounter("httpx_server_requests_total", 1, obs.Label{Key: "method", Value: pr.Method})

	// A body we cannot decode leaves the stream unframed, whether or not
	// the handler reads it.
	if te := parseTransferEncodings(pr.Values("Transfer-Encoding")); te&(EncodingCompress|EncodingBrotli|EncodingExi|EncodingUnsupported) != 0 {
		return false, s.failRequest(env, http1.NotImplemented(fmt.Errorf("%w: transfer-encoding %v", ErrNotImplemented, te)))
	}

	if err := s.invoke(h, env); err != nil {
		return false, s.failRequest(env, err)
	}
	if up := env.upgrade; up != nil {
		s.metricCounter("httpx_server_upgrades_total", 1)
		env.logger.Logf(obs.Debug, "%s %s upgraded", pr.Method, pr.Path)
		if err := st.bw.Flush(); err != nil {
			return false, err
		}
		_ = st.conn.SetWriteDeadline(time.Time{})
		if err := up(ctx, st.opaque()); err != nil && !isQuiet(ctx, err) {
			env.logger.Logf(obs.Debug, "upgraded stream ended: %v", err)
		}
		return false, nil
	}
	if err := env.Response.complete(); err != nil {
		return false, s.failRequest(env, err)
	}
	keep := env.IsKeepAlive()
	if keep {
		if err := env.Request.drain(s.drainLimit()); err != nil {
			env.logger.Logf(obs.Debug, "not reusing connection: %v", err)
			keep = false
		}
	}
	s.metricCounter("httpx_server_responses_total", 1, obs.Label{Key: "status", Value: strconv.Itoa(env.Response.StatusCode())})
	s.metricHistogram("httpx_server_request_duration_ms", float64(time.Since(start).Milliseconds()),
		obs.Label{Key: "method", Value: pr.Method})
	return keep, nil
}

// invoke runs the pipeline, turning a panic into an error for this
// connection only.
func (s *Server) invoke(h Handler, env *Environment) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("httpx: panic serving %s %s: %v", env.Request.Method(), env.Request.Path(), p)
		}
	}()
	return h.Serve(env)
}

// failRequest answers a *StatusError if the header block is still unsent
// and reports whether the failure must surface to the caller.
func (s *Server) failRequest(env *Environment, err error) error {
	var se *StatusError
	if errors.As(err, &se) && !env.Response.headersSent {
		env.logger.Logf(obs.Debug, "answering %d: %v", se.Code, err)
		s.metricCounter("httpx_server_responses_total", 1, obs.Label{Key: "status", Value: strconv.Itoa(se.Code)})
		bw := env.st.bw
		if werr := http1.WriteError(bw, env.Response.proto(), se.Code); werr != nil {
			return werr
		}
		return bw.Flush()
	}
	if isQuiet(env.ctx, err) {
		return err
	}
	env.logger.Logf(obs.Error, "pipeline failed: %v", err)
	s.metricCounter("httpx_server_errors_total", 1, obs.Label{Key: "stage", Value: "pipeline"})
	return err
}

// isQuiet reports errors that end a connection without being a fault:
// the peer went away, a timeout hit, or the connection was cancelled.
func isQuiet(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Helpers to apply deadlines from both explicit timeouts and request context
func setWriteDeadlineWithContext(c net.Conn, writeTO time.Duration, ctx context.Context) {
	if d, ok := deadline(writeTO, ctx); ok {
		_ = c.SetWriteDeadline(d)
	}
}

func setReadDeadlineWithContext(c net.Conn, readTO time.Duration, ctx context.Context) {
	if d, ok := deadline(readTO, ctx); ok {
		_ = c.SetReadDeadline(d)
	}
}

func deadline(to time.Duration, ctx context.Context) (time.Time, bool) {
	var d time.Time
	if to > 0 {
		d = time.Now().Add(to)
	}
	if dl, ok := ctx.Deadline(); ok {
		if d.IsZero() || dl.Before(d) {
			d = dl
		}
	}
	return d, !d.IsZero()
}

func addrString(a net.Addr) string {
	if a == nil {
		return "-"
	}
	return a.String()
}
