package http1

import (
	"fmt"
	"io"
	"sort"
)

var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	102: "Processing",
	103: "Early Hints",

	200: "OK",
	201: "Created",
	202: "Accepted",
	203: "Non-Authoritative Information",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",

	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	305: "Use Proxy",
	307: "Temporary Redirect",
	308: "Permanent Redirect",

	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	412: "Precondition Failed",
	413: "Content Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	416: "Range Not Satisfiable",
	417: "Expectation Failed",
	421: "Misdirected Request",
	422: "Unprocessable Content",
	426: "Upgrade Required",
	428: "Precondition Required",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",

	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// StatusText returns the reason phrase for code, or "" if it is unknown.
func StatusText(code int) string {
	return statusText[code]
}

// WriteHeaderBlock writes the status line, the header fields and the empty
// line that ends the block. Fields are written in key order so the output
// is deterministic; keys should be canonicalized by the caller.
func WriteHeaderBlock(w io.Writer, proto string, status int, hdr map[string][]string) error {
	reason := StatusText(status)
	if reason == "" {
		return fmt.Errorf("%w: %d", ErrUnknownStatus, status)
	}
	if proto == "" {
		proto = "HTTP/1.1"
	}
	if _, err := fmt.Fprintf(w, "%s %d %s\r\n", proto, status, reason); err != nil {
		return err
	}
	keys := make([]string, 0, len(hdr))
	for k := range hdr {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if SanitizeHeaderKey(k) == "" {
			continue
		}
		for _, v := range hdr[k] {
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", k, SanitizeHeaderValue(v)); err != nil {
				return err
			}
		}
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// WriteError writes a bodiless response that closes the connection.
func WriteError(w io.Writer, proto string, status int) error {
	return WriteHeaderBlock(w, proto, status, map[string][]string{
		"Content-Length": {"0"},
		"Connection":     {"close"},
	})
}
