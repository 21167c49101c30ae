package http1

import (
	"bufio"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// ParsedRequest is the request line and header block of one request.
// It is built once by ParseRequest and treated as read-only afterwards.
type ParsedRequest struct {
	Method       string
	Proto        string
	PathAndQuery string
	Path         string
	QueryString  string // without the leading '?'

	// Header holds every header line except Cookie and Pragma, keyed by
	// canonical name, values in arrival order.
	Header  map[string][]string
	Cookies map[string]string
	Pragmas []string

	KeepAlive       bool
	ChunkedEncoding bool

	query map[string]string
}

// Get returns the last value of the named header.
func (p *ParsedRequest) Get(key string) string {
	vv := p.Header[canonicalHeaderKey(key)]
	if len(vv) == 0 {
		return ""
	}
	return vv[len(vv)-1]
}

// Values returns all values of the named header.
func (p *ParsedRequest) Values(key string) []string {
	return p.Header[canonicalHeaderKey(key)]
}

// QueryValue looks up a query parameter; keys are case-insensitive.
func (p *ParsedRequest) QueryValue(key string) (string, bool) {
	if p.query == nil {
		p.query = ParseQuery(p.QueryString)
	}
	v, ok := p.query[strings.ToLower(key)]
	return v, ok
}

// HasPragma reports whether a Pragma header carried tok.
func (p *ParsedRequest) HasPragma(tok string) bool {
	tok = strings.ToLower(tok)
	for _, v := range p.Pragmas {
		if v == tok {
			return true
		}
	}
	return false
}

type Reader struct {
	BR *bufio.Reader
	// MaxHeaderBytes limits a single line; MaxTotalHeaderBytes the whole block.
	MaxHeaderBytes      int
	MaxTotalHeaderBytes int
}

func (r *Reader) ReadRequest() (*ParsedRequest, error) {
	lines, err := r.ReadHeaderLines()
	if err != nil {
		return nil, err
	}
	return ParseRequest(lines)
}

// ReadHeaderLines reads the request line and the header lines up to the
// terminating empty line. Empty lines in front of the request line are
// skipped, some clients emit a stray CRLF after a body.
func (r *Reader) ReadHeaderLines() ([]string, error) {
	var lines []string
	total := 0
	for {
		line, err := readLineLimit(r.BR, r.MaxHeaderBytes)
		if err != nil {
			if err == ErrLineTooLong {
				return nil, &StatusError{Code: 431, Err: err}
			}
			if err == io.EOF && len(lines) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if line == "" {
			if len(lines) == 0 {
				continue
			}
			return lines, nil
		}
		total += len(line)
		if r.MaxTotalHeaderBytes > 0 && total > r.MaxTotalHeaderBytes {
			return nil, &StatusError{Code: 431, Err: ErrHeaderTooLarge}
		}
		lines = append(lines, line)
	}
}

// ParseRequest classifies raw lines (request line first, no terminators)
// into a ParsedRequest. Header lines that do not look like "Name: value"
// are ignored.
func ParseRequest(lines []string) (*ParsedRequest, error) {
	if len(lines) == 0 {
		return nil, badRequest(ErrMalformedRequestLine)
	}
	method, target, proto, ok := parseRequestLine(lines[0])
	if !ok {
		return nil, badRequest(ErrMalformedRequestLine)
	}
	pr := &ParsedRequest{
		Method:       method,
		Proto:        proto,
		PathAndQuery: target,
		Header:       make(map[string][]string),
		Cookies:      make(map[string]string),
	}
	pr.Path, pr.QueryString = splitTarget(target)
	for _, line := range lines[1:] {
		name, value, ok := splitHeaderLine(line)
		if !ok {
			continue
		}
		switch canonicalHeaderKey(name) {
		case "Cookie":
			parseCookies(pr.Cookies, value)
		case "Pragma":
			pr.Pragmas = appendPragmas(pr.Pragmas, value)
		default:
			addHeader(pr.Header, name, value)
		}
	}
	pr.KeepAlive = keepAlive(pr.Proto, pr.Header)
	pr.ChunkedEncoding = HasToken(pr.Header["Transfer-Encoding"], "chunked")
	return pr, nil
}

func parseRequestLine(line string) (method, target, proto string, ok bool) {
	// Exactly one SP between the three parts.
	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[1] == "" {
		return "", "", "", false
	}
	method = strings.ToUpper(parts[0])
	if !isToken(method) {
		return "", "", "", false
	}
	proto = strings.ToUpper(parts[2])
	if len(proto) != len("HTTP/1.0") || !strings.HasPrefix(proto, "HTTP/1.") {
		return "", "", "", false
	}
	if d := proto[len(proto)-1]; d < '0' || d > '9' {
		return "", "", "", false
	}
	return method, parts[1], proto, true
}

func splitTarget(target string) (path, query string) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}

func splitHeaderLine(line string) (name, value string, ok bool) {
	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return "", "", false
	}
	name = strings.TrimSpace(line[:i])
	if name == "" || !isToken(name) {
		return "", "", false
	}
	return name, strings.TrimSpace(line[i+1:]), true
}

// parseCookies adds each name=value pair of a Cookie header to m. Later
// occurrences overwrite earlier ones; pairs with a bad name are skipped.
func parseCookies(m map[string]string, value string) {
	for _, pair := range strings.Split(value, ";") {
		name, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" || !isToken(name) {
			continue
		}
		v = strings.TrimSpace(v)
		if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
			v = v[1 : len(v)-1]
		}
		m[name] = v
	}
}

func appendPragmas(dst []string, value string) []string {
	for _, tok := range strings.Split(value, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok != "" {
			dst = append(dst, tok)
		}
	}
	return dst
}

func keepAlive(proto string, h map[string][]string) bool {
	switch proto {
	case "HTTP/1.1":
		return !HasToken(h["Connection"], "close")
	case "HTTP/1.0":
		_, ok := h["Keep-Alive"]
		return ok
	default:
		return false
	}
}

// ParseQuery splits a query string into key/value pairs. Both sides are
// percent-decoded ('+' is kept as is), keys are lower-cased and the last
// duplicate wins.
func ParseQuery(qs string) map[string]string {
	m := make(map[string]string)
	qs = strings.TrimPrefix(qs, "?")
	for _, pair := range strings.Split(qs, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		m[strings.ToLower(unescape(k))] = unescape(v)
	}
	return m
}

// unescape decodes percent escapes only; '+' stays literal.
func unescape(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}

// ParseContentLength validates a Content-Length header. A list of equal
// values is accepted, anything else is a 400.
func ParseContentLength(values []string) (int64, bool, error) {
	if len(values) == 0 {
		return 0, false, nil
	}
	n := int64(-1)
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			m, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || m < 0 || (n >= 0 && m != n) {
				return 0, false, badRequest(ErrMalformedLength)
			}
			n = m
		}
	}
	return n, true, nil
}

// HasToken reports whether any comma separated element of values equals
// token, ignoring case.
func HasToken(values []string, token string) bool {
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}

func readLineLimit(br *bufio.Reader, limit int) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
		if limit > 0 && sb.Len() > limit {
			return "", ErrLineTooLong
		}
	}
	return sb.String(), nil
}

func addHeader(h map[string][]string, k, v string) {
	hk := canonicalHeaderKey(k)
	h[hk] = append(h[hk], v)
}

func isToken(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			continue
		}
		switch c {
		case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
			continue
		}
		return false
	}
	return s != ""
}

// Very small canonicalizer to avoid importing textproto here.
func canonicalHeaderKey(s string) string {
	b := []byte(strings.ToLower(s))
	upper := true
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			if upper {
				b[i] = c - 'a' + 'A'
			}
			upper = false
			continue
		}
		upper = c == '-'
	}
	return string(b)
}
