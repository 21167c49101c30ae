package httpx

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/kumaryu/peercaststation-sub002/httpx/internal/http1"
)

// newTestEnv parses raw as one request and returns an environment whose
// output lands in the returned buffer.
func newTestEnv(t *testing.T, raw string) (*Environment, *bytes.Buffer) {
	t.Helper()
	br := bufio.NewReader(strings.NewReader(raw))
	pr, err := (&http1.Reader{BR: br}).ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	out := &bytes.Buffer{}
	st := &stream{br: br, bw: bufio.NewWriter(out), raw: out, maxLine: 8 << 10}
	return newEnvironment(context.Background(), st, pr, nil), out
}

// runTestEnv serves raw through h and completes the response.
func runTestEnv(t *testing.T, h Handler, raw string) (*Environment, string) {
	t.Helper()
	env, out := newTestEnv(t, raw)
	if err := h.Serve(env); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !env.Upgraded() {
		if err := env.Response.complete(); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	return env, out.String()
}

type wireResponse struct {
	proto  string
	status int
	header Header
	body   string
}

// splitResponse parses a serialized response whose body runs to the end.
func splitResponse(t *testing.T, s string) wireResponse {
	t.Helper()
	head, body, ok := strings.Cut(s, "\r\n\r\n")
	if !ok {
		t.Fatalf("no header terminator in %q", s)
	}
	lines := strings.Split(head, "\r\n")
	var r wireResponse
	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) != 3 {
		t.Fatalf("bad status line %q", lines[0])
	}
	r.proto = parts[0]
	for _, c := range parts[1] {
		r.status = r.status*10 + int(c-'0')
	}
	r.header = Header{}
	for _, l := range lines[1:] {
		k, v, _ := strings.Cut(l, ":")
		r.header.Add(k, strings.TrimSpace(v))
	}
	r.body = body
	return r
}

func countHeaderBlocks(s string) int {
	return strings.Count(s, "HTTP/1.1 ") + strings.Count(s, "HTTP/1.0 ")
}
