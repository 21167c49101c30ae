package http1

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type chunkState int

const (
	awaitingChunkHeader chunkState = iota
	consumingChunkBody
	chunksCompleted
)

// ChunkedReader decodes a chunked transfer-coded body. Reads never cross
// a chunk boundary internally, but callers see one continuous stream.
type ChunkedReader struct {
	br      *bufio.Reader
	maxLine int // line limit for chunk header and trailer lines
	state   chunkState
	remain  int64
	err     error
}

func NewChunkedReader(br *bufio.Reader, maxLine int) *ChunkedReader {
	return &ChunkedReader{br: br, maxLine: maxLine}
}

// Completed reports whether the zero-size chunk and its trailer were consumed.
func (c *ChunkedReader) Completed() bool { return c.state == chunksCompleted }

func (c *ChunkedReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	for c.state == awaitingChunkHeader {
		size, err := c.readChunkSize()
		if err != nil {
			return 0, c.fail(err)
		}
		if size == 0 {
			if err := c.readTrailers(); err != nil {
				return 0, c.fail(err)
			}
			c.state = chunksCompleted
			break
		}
		c.remain = size
		c.state = consumingChunkBody
	}
	if c.state == chunksCompleted {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	if int64(len(p)) > c.remain {
		p = p[:c.remain]
	}
	n, err := c.br.Read(p)
	c.remain -= int64(n)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return n, c.fail(err)
	}
	if c.remain == 0 {
		if err := c.expectCRLF(); err != nil {
			return n, c.fail(err)
		}
		c.state = awaitingChunkHeader
	}
	return n, nil
}

func (c *ChunkedReader) fail(err error) error {
	c.err = err
	return err
}

func (c *ChunkedReader) readChunkSize() (int64, error) {
	line, err := readLineLimit(c.br, c.maxLine)
	if err != nil {
		if err == ErrLineTooLong {
			return 0, badRequest(ErrMalformedChunk)
		}
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	// Strip chunk extensions if any: "<hex>;<ext>"
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, badRequest(ErrMalformedChunk)
	}
	for i := 0; i < len(line); i++ {
		if !isHex(line[i]) {
			return 0, badRequest(ErrMalformedChunk)
		}
	}
	n, err := strconv.ParseUint(line, 16, 63)
	if err != nil {
		return 0, badRequest(ErrMalformedChunk)
	}
	return int64(n), nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func (c *ChunkedReader) expectCRLF() error {
	b1, err := c.br.ReadByte()
	if err != nil {
		return io.ErrUnexpectedEOF
	}
	b2, err := c.br.ReadByte()
	if err != nil {
		return io.ErrUnexpectedEOF
	}
	if b1 != '\r' || b2 != '\n' {
		return badRequest(fmt.Errorf("%w: expected CRLF after chunk, got %q%q", ErrMalformedChunk, b1, b2))
	}
	return nil
}

func (c *ChunkedReader) readTrailers() error {
	for {
		line, err := readLineLimit(c.br, c.maxLine)
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return err
		}
		if line == "" {
			return nil
		}
		// Trailer fields are consumed and dropped.
	}
}

// ChunkedWriter frames every Write as one chunk. Close writes the
// terminating zero-size chunk; it does not close w.
type ChunkedWriter struct {
	w      io.Writer
	closed bool
}

func NewChunkedWriter(w io.Writer) *ChunkedWriter {
	return &ChunkedWriter{w: w}
}

func (cw *ChunkedWriter) Write(p []byte) (int, error) {
	if cw.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(cw.w, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	if _, err := cw.w.Write(p); err != nil {
		return 0, err
	}
	if _, err := io.WriteString(cw.w, "\r\n"); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (cw *ChunkedWriter) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true
	_, err := io.WriteString(cw.w, "0\r\n\r\n")
	return err
}
