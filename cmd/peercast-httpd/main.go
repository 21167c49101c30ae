// Command peercast-httpd serves the HTTP side of a servent: a status
// page, a password protected admin API and a raw relay endpoint that leaves
// HTTP through a protocol upgrade.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/kumaryu/peercaststation-sub002/httpx"
	"github.com/kumaryu/peercaststation-sub002/internal/obs"
)

func main() {
	cfg, err := loadSettings(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	lg, err := newBeeLogger(cfg.LogFile, cfg.Debug)
	if err != nil {
		log.Fatal(err)
	}
	defer lg.Close()

	policy := &httpx.AccessControlInfo{Accepts: httpx.StreamAll}
	if cfg.Pass != "" {
		policy.AuthorizationRequired = true
		policy.Key = &httpx.AuthenticationKey{ID: cfg.User, Password: cfg.Pass}
	}
	local := &httpx.AccessControlInfo{Accepts: httpx.StreamAll}

	s := &httpx.Server{
		Pipeline:       pipeline(),
		Logger:         lg,
		MaxRequests:    cfg.MaxRequests,
		RequestTimeout: cfg.RequestTimeout,
		AccessControl: func(remote net.Addr) httpx.AccessPolicy {
			if ta, ok := remote.(*net.TCPAddr); ok && ta.IP.IsLoopback() {
				return local
			}
			return policy
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			lg.Logf(obs.Warn, "shutdown: %v", err)
		}
	}()

	if len(cfg.TLSDomains) > 0 {
		go serveTLS(s, cfg, lg)
	}
	lg.Logf(obs.Info, "listening on %s", cfg.Listen)
	if err := s.ListenAndServe(cfg.Listen); err != nil && !errors.Is(err, httpx.ErrServerClosed) {
		lg.Logf(obs.Error, "listen: %v", err)
	}
}

// serveTLS serves the same pipeline over TLS with certificates obtained
// from Let's Encrypt for the configured domains.
func serveTLS(s *httpx.Server, cfg *settings, lg obs.Logger) {
	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.TLSDomains...),
		Cache:      autocert.DirCache(cfg.TLSCacheDir),
	}
	ln, err := tls.Listen("tcp", cfg.TLSListen, &tls.Config{GetCertificate: m.GetCertificate})
	if err != nil {
		lg.Logf(obs.Error, "tls listen: %v", err)
		return
	}
	lg.Logf(obs.Info, "serving TLS on %s for %v", cfg.TLSListen, cfg.TLSDomains)
	if err := s.Serve(ln); err != nil && !errors.Is(err, httpx.ErrServerClosed) {
		lg.Logf(obs.Error, "tls serve: %v", err)
	}
}

func pipeline() *httpx.Builder {
	b := httpx.NewBuilder(nil)
	b.Map("/admin", func(admin *httpx.Builder) {
		admin.Use(httpx.Authorize(httpx.StreamInterface, nil))
		admin.MapMethod([]string{"GET"}, func(get *httpx.Builder) {
			get.Run(status)
		})
	})
	b.Map("/relay", func(relay *httpx.Builder) {
		relay.Use(httpx.Authorize(httpx.StreamRelay, nil))
		relay.Run(func(env *httpx.Environment) error {
			env.Upgrade(echo)
			return nil
		})
	})
	b.MapMethod([]string{"GET"}, func(get *httpx.Builder) {
		get.Run(func(env *httpx.Environment) error {
			env.Response.SetContentType("text/plain")
			_, err := fmt.Fprintf(env.Response, "%s %s\n", env.Request.Method(), env.Request.PathAndQuery())
			return err
		})
	})
	return b
}

func status(env *httpx.Environment) error {
	env.Response.SetContentType("application/json")
	if strings.Contains(env.Request.HeaderValue("Accept-Encoding"), "gzip") {
		if err := env.Response.SetContentEncoding("gzip"); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(env.Response, `{"request_id":%q,"remote":%q,"recv_rate":%.1f,"send_rate":%.1f}`+"\n",
		env.RequestID(), env.RemoteAddr(), env.RecvRate(), env.SendRate())
	return err
}

// echo copies the relay stream back until the peer hangs up or the server
// shuts down.
func echo(ctx context.Context, s *httpx.OpaqueStream) error {
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(s, s)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
