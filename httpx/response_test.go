package httpx

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
)

func TestSelectFraming(t *testing.T) {
	cases := []struct {
		chunked, keepAlive, hasLength bool
		want                          FramingMode
	}{
		{true, true, false, FramingChunked},
		{true, false, true, FramingChunked},
		{false, false, false, FramingPassThrough},
		{false, true, true, FramingPassThrough},
		{false, false, true, FramingPassThrough},
		{false, true, false, FramingDeferred},
	}
	for _, c := range cases {
		if got := SelectFraming(c.chunked, c.keepAlive, c.hasLength); got != c.want {
			t.Fatalf("%+v: got %v", c, got)
		}
	}
}

func TestResponse_DeferredContentLength(t *testing.T) {
	payload := strings.Repeat("0123456789", 100)
	for _, writes := range []int{1, 3, 17, 1000} {
		h := HandlerFunc(func(env *Environment) error {
			step := (len(payload) + writes - 1) / writes
			for rest := payload; rest != ""; {
				n := step
				if n > len(rest) {
					n = len(rest)
				}
				if _, err := env.Response.WriteString(rest[:n]); err != nil {
					return err
				}
				rest = rest[n:]
			}
			if env.Response.HeadersSent() {
				t.Fatal("headers sent before completion")
			}
			return nil
		})
		env, out := runTestEnv(t, h, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
		if env.Response.Framing() != FramingDeferred {
			t.Fatalf("framing=%v", env.Response.Framing())
		}
		if n := countHeaderBlocks(out); n != 1 {
			t.Fatalf("%d writes: %d header blocks", writes, n)
		}
		r := splitResponse(t, out)
		if r.header.Get("Content-Length") != "1000" || r.body != payload {
			t.Fatalf("%d writes: cl=%q body len=%d", writes, r.header.Get("Content-Length"), len(r.body))
		}
		if !env.IsKeepAlive() || r.header.Get("Connection") != "keep-alive" {
			t.Fatalf("%d writes: keep-alive lost", writes)
		}
	}
}

func TestResponse_EmptyBody(t *testing.T) {
	_, out := runTestEnv(t, HandlerFunc(func(*Environment) error { return nil }), "GET / HTTP/1.1\r\n\r\n")
	want := "HTTP/1.1 200 OK\r\nConnection: keep-alive\r\nContent-Length: 0\r\n\r\n"
	if out != want {
		t.Fatalf("got %q", out)
	}
}

func TestResponse_ExplicitChunked(t *testing.T) {
	h := HandlerFunc(func(env *Environment) error {
		env.Response.SetHeader("Transfer-Encoding", "chunked")
		env.Response.SetContentLength(99)
		_, err := env.Response.WriteString("hello")
		return err
	})
	env, out := runTestEnv(t, h, "GET / HTTP/1.1\r\n\r\n")
	r := splitResponse(t, out)
	if r.body != "5\r\nhello\r\n0\r\n\r\n" {
		t.Fatalf("body=%q", r.body)
	}
	if r.header.Has("Content-Length") {
		t.Fatal("Content-Length sent with chunked framing")
	}
	if !env.IsKeepAlive() {
		t.Fatal("chunked response should keep the connection")
	}
}

func TestResponse_ChunkedDowngradedForHTTP10(t *testing.T) {
	h := HandlerFunc(func(env *Environment) error {
		env.Response.SetHeader("Transfer-Encoding", "chunked")
		_, err := env.Response.WriteString("hello")
		return err
	})
	env, out := runTestEnv(t, h, "GET / HTTP/1.0\r\n\r\n")
	r := splitResponse(t, out)
	if r.proto != "HTTP/1.0" || r.body != "hello" || r.header.Has("Transfer-Encoding") {
		t.Fatalf("got %q", out)
	}
	if env.Response.Framing() != FramingPassThrough || env.IsKeepAlive() {
		t.Fatalf("framing=%v keepAlive=%v", env.Response.Framing(), env.IsKeepAlive())
	}
	if r.header.Get("Connection") != "close" {
		t.Fatalf("connection=%q", r.header.Get("Connection"))
	}
}

func TestResponse_PassThroughWithLength(t *testing.T) {
	h := HandlerFunc(func(env *Environment) error {
		env.Response.SetContentLength(5)
		if _, err := env.Response.WriteString("hel"); err != nil {
			return err
		}
		if !env.Response.HeadersSent() {
			t.Fatal("pass-through must send headers on first write")
		}
		_, err := env.Response.WriteString("lo")
		return err
	})
	env, out := runTestEnv(t, h, "GET / HTTP/1.1\r\n\r\n")
	if env.Response.Framing() != FramingPassThrough || !env.IsKeepAlive() {
		t.Fatalf("framing=%v keepAlive=%v", env.Response.Framing(), env.IsKeepAlive())
	}
	if r := splitResponse(t, out); r.body != "hello" || r.header.Get("Content-Length") != "5" {
		t.Fatalf("got %q", out)
	}
}

func TestResponse_LengthMismatchClosesConnection(t *testing.T) {
	h := HandlerFunc(func(env *Environment) error {
		env.Response.SetContentLength(10)
		_, err := env.Response.WriteString("short")
		return err
	})
	env, _ := runTestEnv(t, h, "GET / HTTP/1.1\r\n\r\n")
	if env.IsKeepAlive() {
		t.Fatal("keep-alive after writing fewer bytes than declared")
	}
}

func TestResponse_ConnectionCloseWithoutLength(t *testing.T) {
	h := HandlerFunc(func(env *Environment) error {
		env.Response.SetHeader("Connection", "close")
		_, err := env.Response.WriteString("bye")
		return err
	})
	env, out := runTestEnv(t, h, "GET / HTTP/1.1\r\n\r\n")
	r := splitResponse(t, out)
	if env.Response.Framing() != FramingPassThrough || env.IsKeepAlive() {
		t.Fatalf("framing=%v keepAlive=%v", env.Response.Framing(), env.IsKeepAlive())
	}
	if r.body != "bye" || r.header.Has("Content-Length") {
		t.Fatalf("got %q", out)
	}
}

func TestResponse_OnSendingHeaders(t *testing.T) {
	calls := 0
	h := HandlerFunc(func(env *Environment) error {
		env.Response.OnSendingHeaders(func(r *Response) {
			calls++
			r.SetStatus(403)
			r.SetHeader("X-Late", "1")
		})
		env.Response.WriteString("a")
		env.Response.WriteString("b")
		return env.Response.Flush()
	})
	env, out := runTestEnv(t, h, "GET / HTTP/1.1\r\n\r\n")
	if calls != 1 {
		t.Fatalf("callback ran %d times", calls)
	}
	r := splitResponse(t, out)
	if r.status != 403 || r.header.Get("X-Late") != "1" || r.body != "ab" {
		t.Fatalf("got %q", out)
	}
	env.Response.SetStatus(500)
	if env.Response.StatusCode() != 403 {
		t.Fatal("status changed after headers were sent")
	}
}

func TestResponse_HeadOmitsBody(t *testing.T) {
	h := HandlerFunc(func(env *Environment) error {
		_, err := env.Response.WriteString("hello")
		return err
	})
	env, out := runTestEnv(t, h, "HEAD / HTTP/1.1\r\n\r\n")
	r := splitResponse(t, out)
	if r.header.Get("Content-Length") != "5" || r.body != "" {
		t.Fatalf("got %q", out)
	}
	if !env.IsKeepAlive() {
		t.Fatal("HEAD response should keep the connection")
	}
}

func TestResponse_NoContentHasNoLength(t *testing.T) {
	h := HandlerFunc(func(env *Environment) error {
		env.Response.SetStatus(204)
		return nil
	})
	_, out := runTestEnv(t, h, "DELETE /x HTTP/1.1\r\n\r\n")
	if r := splitResponse(t, out); r.status != 204 || r.header.Has("Content-Length") {
		t.Fatalf("got %q", out)
	}
}

func TestResponse_GzipContentEncoding(t *testing.T) {
	payload := strings.Repeat("peercast ", 200)
	h := HandlerFunc(func(env *Environment) error {
		if err := env.Response.SetContentEncoding("gzip"); err != nil {
			return err
		}
		_, err := env.Response.WriteString(payload)
		return err
	})
	_, out := runTestEnv(t, h, "GET / HTTP/1.1\r\n\r\n")
	r := splitResponse(t, out)
	if r.header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("header=%v", r.header)
	}
	if r.header.Get("Content-Length") != strconv.Itoa(len(r.body)) {
		t.Fatalf("cl=%q body=%d", r.header.Get("Content-Length"), len(r.body))
	}
	zr, err := gzip.NewReader(bytes.NewReader([]byte(r.body)))
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	dec, _ := io.ReadAll(zr)
	if string(dec) != payload {
		t.Fatalf("decoded %d bytes", len(dec))
	}
}

func TestResponse_UnsupportedContentEncoding(t *testing.T) {
	env, _ := newTestEnv(t, "GET / HTTP/1.1\r\n\r\n")
	err := env.Response.SetContentEncoding("br")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 501 {
		t.Fatalf("err=%v", err)
	}
}

func TestResponse_UnknownStatusFails(t *testing.T) {
	env, _ := newTestEnv(t, "GET / HTTP/1.1\r\n\r\n")
	env.Response.SetStatus(299)
	if err := env.Response.complete(); err == nil {
		t.Fatal("complete succeeded with unknown status")
	}
}

func TestResponse_WriteAfterComplete(t *testing.T) {
	env, _ := newTestEnv(t, "GET / HTTP/1.1\r\n\r\n")
	if err := env.Response.complete(); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Response.WriteString("late"); err == nil {
		t.Fatal("write after completion succeeded")
	}
}
