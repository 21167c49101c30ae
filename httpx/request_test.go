package httpx

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"strconv"
	"testing"
)

func TestRequest_Accessors(t *testing.T) {
	raw := "POST /admin/api?Action=Play&auth=a%2Bb&action=stop HTTP/1.1\r\n" +
		"Host: localhost:7144\r\n" +
		"X-Multi: 1\r\nX-Multi: 2\r\n" +
		"Cookie: id=42; auth=xyz\r\n" +
		"Pragma: no-cache\r\n\r\n"
	env, _ := newTestEnv(t, raw)
	req := env.Request
	if req.Method() != "POST" || req.Path() != "/admin/api" || req.Proto() != "HTTP/1.1" {
		t.Fatalf("method=%q path=%q proto=%q", req.Method(), req.Path(), req.Proto())
	}
	if req.QueryString() != "Action=Play&auth=a%2Bb&action=stop" {
		t.Fatalf("query=%q", req.QueryString())
	}
	if v, _ := req.Query("ACTION"); v != "stop" {
		t.Fatalf("action=%q", v)
	}
	if v, _ := req.Query("auth"); v != "a+b" {
		t.Fatalf("auth=%q", v)
	}
	if _, ok := req.Query("missing"); ok {
		t.Fatal("missing query found")
	}
	if req.HeaderValue("x-multi") != "2" || len(req.HeaderValues("X-MULTI")) != 2 {
		t.Fatalf("x-multi=%v", req.HeaderValues("X-Multi"))
	}
	if v, ok := req.Cookie("id"); !ok || v != "42" {
		t.Fatalf("cookie=%q", v)
	}
	if !req.HasPragma("no-cache") {
		t.Fatal("pragma lost")
	}
	if req.TransferEncodings() != EncodingIdentity {
		t.Fatalf("encodings=%v", req.TransferEncodings())
	}
	if req.Context() != env.Context() {
		t.Fatal("request context differs from environment context")
	}
	if _, ok := RequestIDFrom(req.Context()); !ok {
		t.Fatal("no request id in context")
	}
}

func TestRequest_TransferEncodingFlags(t *testing.T) {
	env, _ := newTestEnv(t, "POST / HTTP/1.1\r\nTransfer-Encoding: gzip, chunked\r\nTransfer-Encoding: x-foo;q=1\r\n\r\n")
	got := env.Request.TransferEncodings()
	if !got.Has(EncodingGzip|EncodingChunked|EncodingUnsupported) || got.Has(EncodingIdentity) {
		t.Fatalf("encodings=%v", got)
	}
}

func TestRequest_ContentLengthBody(t *testing.T) {
	env, _ := newTestEnv(t, "POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\nhelloGET /next")
	b, err := io.ReadAll(env.Request)
	if err != nil || string(b) != "hello" {
		t.Fatalf("body=%q err=%v", b, err)
	}
	if n, ok := env.Request.ContentLength(); !ok || n != 5 {
		t.Fatalf("ContentLength=%d,%v", n, ok)
	}
}

func TestRequest_TruncatedBody(t *testing.T) {
	env, _ := newTestEnv(t, "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\nhello")
	if _, err := io.ReadAll(env.Request); err != io.ErrUnexpectedEOF {
		t.Fatalf("err=%v", err)
	}
}

func TestRequest_ChunkedGzipBody(t *testing.T) {
	var z bytes.Buffer
	zw := gzip.NewWriter(&z)
	zw.Write([]byte("compressed relay body"))
	zw.Close()
	raw := "POST / HTTP/1.1\r\nTransfer-Encoding: gzip, chunked\r\n\r\n" +
		chunk(z.Bytes()[:10]) + chunk(z.Bytes()[10:]) + "0\r\n\r\n"
	env, _ := newTestEnv(t, raw)
	b, err := io.ReadAll(env.Request)
	if err != nil || string(b) != "compressed relay body" {
		t.Fatalf("body=%q err=%v", b, err)
	}
}

func chunk(p []byte) string {
	return strconv.FormatInt(int64(len(p)), 16) + "\r\n" + string(p) + "\r\n"
}

func TestRequest_UnsupportedCoding(t *testing.T) {
	for _, te := range []string{"br", "compress", "exi", "x-unknown"} {
		env, _ := newTestEnv(t, "POST / HTTP/1.1\r\nTransfer-Encoding: "+te+", chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n")
		_, err := env.Request.Read(make([]byte, 8))
		var se *StatusError
		if !errors.As(err, &se) || se.Code != 501 || !errors.Is(err, ErrNotImplemented) {
			t.Fatalf("%s: err=%v", te, err)
		}
	}
}

func TestRequest_MalformedChunkIsBadRequest(t *testing.T) {
	env, _ := newTestEnv(t, "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\nxyz\r\n")
	_, err := io.ReadAll(env.Request)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 400 || !errors.Is(err, ErrMalformedChunk) {
		t.Fatalf("err=%v", err)
	}
}

func TestRequest_ExpectContinue(t *testing.T) {
	env, out := newTestEnv(t, "PUT / HTTP/1.1\r\nExpect: 100-continue\r\nContent-Length: 2\r\n\r\nok")
	if out.Len() != 0 {
		t.Fatalf("wrote %q before the body was read", out.String())
	}
	b, _ := io.ReadAll(env.Request)
	if string(b) != "ok" {
		t.Fatalf("body=%q", b)
	}
	if out.String() != "HTTP/1.1 100 Continue\r\n\r\n" {
		t.Fatalf("out=%q", out.String())
	}
	env.Response.complete()
	if got := countHeaderBlocks(out.String()); got != 2 {
		t.Fatalf("%d status lines", got)
	}
}

func TestRequest_ExpectContinueHTTP10(t *testing.T) {
	env, out := newTestEnv(t, "PUT / HTTP/1.0\r\nExpect: 100-continue\r\nContent-Length: 2\r\n\r\nok")
	io.ReadAll(env.Request)
	if out.Len() != 0 {
		t.Fatalf("HTTP/1.0 peer got %q", out.String())
	}
}

func TestRequest_DrainRules(t *testing.T) {
	env, _ := newTestEnv(t, "POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")
	if err := env.Request.drain(1024); err != nil {
		t.Fatalf("drain: %v", err)
	}
	env, _ = newTestEnv(t, "POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")
	if err := env.Request.drain(2); !errors.Is(err, ErrBodyNotDrained) {
		t.Fatalf("over limit: err=%v", err)
	}
	env, _ = newTestEnv(t, "POST / HTTP/1.1\r\nExpect: 100-continue\r\nContent-Length: 5\r\n\r\n")
	if err := env.Request.drain(1024); !errors.Is(err, ErrBodyNotDrained) {
		t.Fatalf("unsolicited body: err=%v", err)
	}
	env, _ = newTestEnv(t, "GET / HTTP/1.1\r\nExpect: 100-continue\r\n\r\n")
	if err := env.Request.drain(1024); err != nil {
		t.Fatalf("no body: err=%v", err)
	}
}

func TestEnvironment_Keys(t *testing.T) {
	env, _ := newTestEnv(t, "GET /x?y=1 HTTP/1.1\r\nA: b\r\n\r\n")
	checks := map[string]any{
		KeyRequestMethod:      "GET",
		KeyRequestPath:        "/x",
		KeyRequestQueryString: "y=1",
		KeyRequestProtocol:    "HTTP/1.1",
		KeyResponseStatusCode: 200,
		KeyRequestID:          env.RequestID(),
	}
	for k, want := range checks {
		if got, ok := env.Get(k); !ok || got != want {
			t.Fatalf("%s=%v want %v", k, got, want)
		}
	}
	if v, _ := env.Get(KeyRequestHeaders); v.(Header).Get("A") != "b" {
		t.Fatalf("headers=%v", v)
	}
	if v, _ := env.Get(KeyCallCancelled); v.(context.Context) != env.Context() {
		t.Fatal("cancellation context mismatch")
	}
	if err := env.Set(KeyResponseStatusCode, 404); err != nil || env.Response.StatusCode() != 404 {
		t.Fatalf("set status: %v", err)
	}
	if err := env.Set(KeyRequestMethod, "POST"); !errors.Is(err, ErrReadOnlyKey) {
		t.Fatalf("set method: %v", err)
	}
	if _, ok := env.Get("peercast.PeerCast"); ok {
		t.Fatal("unset extension found")
	}
	env.Set("peercast.PeerCast", 7)
	if v, ok := env.Get("peercast.PeerCast"); !ok || v != 7 {
		t.Fatalf("extension=%v", v)
	}
	if _, ok := env.Get(KeyAccessControl); ok {
		t.Fatal("nil access control reported present")
	}
}

func TestEnvironment_UpgradeDisablesKeepAlive(t *testing.T) {
	env, _ := newTestEnv(t, "GET / HTTP/1.1\r\n\r\n")
	if !env.IsKeepAlive() {
		t.Fatal("HTTP/1.1 should default to keep-alive")
	}
	env.Upgrade(func(context.Context, *OpaqueStream) error { return nil })
	if !env.Upgraded() || env.IsKeepAlive() {
		t.Fatal("upgraded environment reports keep-alive")
	}
}

func TestEnvironment_TraceContext(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nTraceparent: 00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01\r\nX-Request-Id: abc\r\n\r\n"
	env, _ := newTestEnv(t, raw)
	tr, ok := TraceFrom(env.Context())
	if !ok || tr.TraceID != "0af7651916cd43dd8448eb211c80319c" || tr.ParentSpanID != "b7ad6b7169203331" {
		t.Fatalf("trace=%+v", tr)
	}
	if len(tr.SpanID) != 16 || tr.SpanID == tr.ParentSpanID {
		t.Fatalf("span=%q", tr.SpanID)
	}
	if cid, _ := CorrelationIDFrom(env.Context()); cid != "abc" {
		t.Fatalf("correlation=%q", cid)
	}
	env, _ = newTestEnv(t, "GET / HTTP/1.1\r\nTraceparent: garbage\r\n\r\n")
	if tr, _ := TraceFrom(env.Context()); len(tr.TraceID) != 32 || tr.ParentSpanID != "" {
		t.Fatalf("fresh trace=%+v", tr)
	}
}
