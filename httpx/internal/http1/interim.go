package http1

import (
	"fmt"
	"io"
	"strings"
)

// WriteContinue writes an interim 100 Continue status line. HTTP/1.0 peers
// do not understand interim responses, callers must not send one to them.
func WriteContinue(w io.Writer, proto string) error {
	if proto == "" || proto == "HTTP/1.0" {
		proto = "HTTP/1.1"
	}
	_, err := fmt.Fprintf(w, "%s 100 Continue\r\n\r\n", proto)
	return err
}

// SanitizeHeaderKey ensures header name is a valid token; returns empty string if invalid.
func SanitizeHeaderKey(k string) string {
	if !isToken(k) {
		return ""
	}
	return k
}

// SanitizeHeaderValue removes CR/LF and control chars except HTAB.
func SanitizeHeaderValue(v string) string {
	if v == "" {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\r' || c == '\n' || c == 0x7f {
			continue
		}
		if c < 0x20 && c != '\t' {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
