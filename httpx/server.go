package httpx

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/kumaryu/peercaststation-sub002/internal/obs"
)

// Server runs the HTTP/1.x request loop on accepted connections. All
// fields are read-only once serving starts; the zero value serves 404s.
type Server struct {
	// Pipeline is built once at Serve and again whenever its
	// registrations change. Nil means every request ends in NotFound.
	Pipeline *Builder
	// AccessControl returns the policy for a remote peer. Optional.
	AccessControl func(remote net.Addr) AccessPolicy

	RequestTimeout      time.Duration // header read budget, default 7s
	WriteTimeout        time.Duration // per response, 0 = none
	MaxRequests         int           // per connection, default 1000
	MaxHeaderBytes      int           // per header line, default 8 KiB
	MaxTotalHeaderBytes int           // whole header block, default 64 KiB
	MaxDrainBytes       int64         // unread request body discarded for reuse, default 256 KiB

	Logger obs.Logger
	Meter  obs.Meter

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	closed    bool
	base      context.Context
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

func (s *Server) ListenAndServe(addr string) error {
	if addr == "" {
		addr = ":7144"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on l and serves each on its own goroutine.
// The pipeline is built first so configuration errors surface here.
func (s *Server) Serve(l net.Listener) error {
	defer l.Close()
	if _, err := s.pipeline(); err != nil {
		return err
	}
	if !s.trackListener(l, true) {
		return ErrServerClosed
	}
	defer s.trackListener(l, false)
	for {
		c, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			return err
		}
		go func() {
			if err := s.ServeConn(context.Background(), c); err != nil {
				s.logf(obs.Debug, "connection from %s ended: %v", addrString(c.RemoteAddr()), err)
			}
		}()
	}
}

// ServeConn runs the request loop on c and closes it when done. ctx is an
// additional shutdown signal for this connection.
func (s *Server) ServeConn(ctx context.Context, c net.Conn) error {
	return s.ServeBuffered(ctx, c, nil)
}

// ServeBuffered is ServeConn for a connection whose first bytes were
// already consumed into br, for example while sniffing the protocol.
func (s *Server) ServeBuffered(ctx context.Context, c net.Conn, br *bufio.Reader) error {
	defer c.Close()
	if !s.addConn() {
		return ErrServerClosed
	}
	defer s.wg.Done()
	return s.serveStream(ctx, c, br)
}

// Shutdown stops accepting, cancels every connection and waits for their
// loops to return or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ls := s.listeners
	s.listeners = nil
	s.mu.Unlock()
	for l := range ls {
		_ = l.Close()
	}
	s.baseContext()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) pipeline() (Handler, error) {
	if s.Pipeline == nil {
		return NotFound, nil
	}
	return s.Pipeline.Build()
}

func (s *Server) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base == nil {
		s.base, s.stop = context.WithCancel(context.Background())
	}
	return s.base
}

func (s *Server) trackListener(l net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed {
			return false
		}
		if s.listeners == nil {
			s.listeners = make(map[net.Listener]struct{})
		}
		s.listeners[l] = struct{}{}
	} else {
		delete(s.listeners, l)
	}
	return true
}

func (s *Server) addConn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) requestTimeout() time.Duration {
	if s.RequestTimeout <= 0 {
		return 7 * time.Second
	}
	return s.RequestTimeout
}

func (s *Server) maxRequests() int {
	if s.MaxRequests <= 0 {
		return 1000
	}
	return s.MaxRequests
}

func (s *Server) headerLimit() int {
	if s.MaxHeaderBytes <= 0 {
		return 8 << 10
	}
	return s.MaxHeaderBytes
}

func (s *Server) totalHeaderLimit() int {
	if s.MaxTotalHeaderBytes <= 0 {
		return 64 << 10
	}
	return s.MaxTotalHeaderBytes
}

func (s *Server) drainLimit() int64 {
	if s.MaxDrainBytes <= 0 {
		return 256 << 10
	}
	return s.MaxDrainBytes
}

func (s *Server) logf(level obs.Level, format string, args ...interface{}) {
	lg := s.Logger
	if lg == nil {
		lg = obs.NopLogger{}
	}
	lg.Logf(level, format, args...)
}

func (s *Server) metricCounter(name string, value float64, labels ...obs.Label) {
	s.getMeter().Counter(name, value, labels...)
}

func (s *Server) metricHistogram(name string, value float64, labels ...obs.Label) {
	s.getMeter().Histogram(name, value, labels...)
}

func (s *Server) getMeter() obs.Meter {
	if s.Meter != nil {
		return s.Meter
	}
	return obs.NopMeter{}
}
