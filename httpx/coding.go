package httpx

import (
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/kumaryu/peercaststation-sub002/httpx/internal/http1"
)

// TransferEncoding is the set of codings named by a Transfer-Encoding header.
type TransferEncoding uint32

const (
	EncodingIdentity TransferEncoding = 1 << iota
	EncodingChunked
	EncodingCompress
	EncodingDeflate
	EncodingGzip
	EncodingBrotli
	EncodingExi
	EncodingUnsupported
)

func (e TransferEncoding) Has(f TransferEncoding) bool { return e&f == f }

func (e TransferEncoding) String() string {
	if e == 0 {
		return "none"
	}
	names := []string{"identity", "chunked", "compress", "deflate", "gzip", "br", "exi", "unsupported"}
	var parts []string
	for i, n := range names {
		if e&(1<<uint(i)) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}

func codingFlag(token string) TransferEncoding {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "", "identity":
		return EncodingIdentity
	case "chunked":
		return EncodingChunked
	case "compress", "x-compress":
		return EncodingCompress
	case "deflate":
		return EncodingDeflate
	case "gzip", "x-gzip":
		return EncodingGzip
	case "br":
		return EncodingBrotli
	case "exi":
		return EncodingExi
	default:
		return EncodingUnsupported
	}
}

func codingTokens(values []string) []string {
	var out []string
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			// Drop transfer-parameters such as ";q=1".
			if i := strings.IndexByte(t, ';'); i >= 0 {
				t = t[:i]
			}
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

func parseTransferEncodings(values []string) TransferEncoding {
	tokens := codingTokens(values)
	if len(tokens) == 0 {
		return EncodingIdentity
	}
	var e TransferEncoding
	for _, t := range tokens {
		e |= codingFlag(t)
	}
	return e
}

// decodeTransferCodings unwraps r in reverse order of the listed codings.
// chunked is handled by the framing layer and skipped here.
func decodeTransferCodings(r io.Reader, values []string) (io.Reader, error) {
	tokens := codingTokens(values)
	for i := len(tokens) - 1; i >= 0; i-- {
		switch f := codingFlag(tokens[i]); f {
		case EncodingIdentity, EncodingChunked:
		case EncodingGzip:
			zr, err := gzip.NewReader(r)
			if err != nil {
				return nil, Error(400, fmt.Errorf("httpx: gzip body: %w", err))
			}
			r = zr
		case EncodingDeflate:
			zr, err := zlib.NewReader(r)
			if err != nil {
				return nil, Error(400, fmt.Errorf("httpx: deflate body: %w", err))
			}
			r = zr
		default:
			return nil, http1.NotImplemented(fmt.Errorf("%w: %q", ErrNotImplemented, tokens[i]))
		}
	}
	return r, nil
}

// newEncoder returns a compressor writing to w, or nil for identity.
func newEncoder(w io.Writer, coding string) (io.WriteCloser, error) {
	switch codingFlag(coding) {
	case EncodingIdentity:
		return nil, nil
	case EncodingGzip:
		return gzip.NewWriter(w), nil
	case EncodingDeflate:
		return zlib.NewWriter(w), nil
	default:
		return nil, http1.NotImplemented(fmt.Errorf("%w: %q", ErrNotImplemented, coding))
	}
}
