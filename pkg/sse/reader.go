package sse

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	defaultChunkSize = 4 * 1024

	// maxEmptyReads mirrors bufio's guard against readers that keep
	// returning 0, nil.
	maxEmptyReads = 100
)

// LineReader pulls raw chunks from a source io.Reader and yields complete,
// newline-terminated lines in order. Anything after the last newline stays in
// the line buffer until the next chunk arrives.
//
// ┌──────────────────┐
// │ source io.Reader │
// └──────────────────┘
// │
// ▼
// ┌──────────────────┐   ┌───────────────────┐
// │ LineReader.Next()│──▶│ tee io.Writer     │ (optional, raw bytes)
// └──────────────────┘   └───────────────────┘
// │
// ▼
// ┌──────────────────┐
// │       line       │
// └──────────────────┘
//
// A multi-byte UTF-8 sequence split across two chunks is held back whole and
// never decoded half-way. On EOF a non-empty remainder is discarded: streams
// complete on the terminator frame, not on close.
type LineReader struct {
	src   io.Reader
	tee   io.Writer
	chunk []byte

	// buf is the line buffer: decoded text that has not yet formed a line.
	buf strings.Builder

	// carry holds the bytes of a UTF-8 sequence cut off by a chunk boundary.
	carry []byte

	lines []string
	err   error

	bytesRead int64
	emitted   int64
}

// ReaderOption configures a LineReader.
type ReaderOption func(*LineReader)

// WithChunkSize sets the size of each read from the source. Values < 1 are
// ignored.
func WithChunkSize(n int) ReaderOption {
	return func(r *LineReader) {
		if n > 0 {
			r.chunk = make([]byte, n)
		}
	}
}

// WithTee writes every raw chunk verbatim to w before it is split into lines.
// A failing tee write ends the stream with an error.
func WithTee(w io.Writer) ReaderOption {
	return func(r *LineReader) {
		r.tee = w
	}
}

// NewLineReader returns a LineReader over src.
func NewLineReader(src io.Reader, opts ...ReaderOption) *LineReader {
	r := &LineReader{src: src}
	for _, opt := range opts {
		opt(r)
	}
	if r.chunk == nil {
		r.chunk = make([]byte, defaultChunkSize)
	}
	return r
}

// Next returns the next complete line without its "\n" (and without a
// trailing "\r"). It blocks until a line is available. Next returns io.EOF
// once the source is exhausted and every complete line has been returned; any
// other error is a transport failure and is returned wrapped.
func (r *LineReader) Next() (string, error) {
	empty := 0
	for len(r.lines) == 0 {
		if r.err != nil {
			return "", r.err
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			empty = 0
			r.bytesRead += int64(n)
			if ferr := r.feed(r.chunk[:n]); ferr != nil {
				r.err = ferr
				continue
			}
		}

		switch {
		case errors.Is(err, io.EOF):
			r.err = io.EOF
		case err != nil:
			r.err = fmt.Errorf("reading stream: %w", err)
		case n == 0:
			empty++
			if empty >= maxEmptyReads {
				r.err = fmt.Errorf("reading stream: %w", io.ErrNoProgress)
			}
		}
	}

	line := r.lines[0]
	r.lines[0] = ""
	r.lines = r.lines[1:]
	r.emitted++
	return line, nil
}

// Buffered returns the partial line currently held in the line buffer.
func (r *LineReader) Buffered() string {
	return r.buf.String()
}

// BytesRead returns the number of raw bytes read from the source.
func (r *LineReader) BytesRead() int64 {
	return r.bytesRead
}

// LinesEmitted returns the number of lines returned by Next.
func (r *LineReader) LinesEmitted() int64 {
	return r.emitted
}

// feed decodes one raw chunk into the line buffer and moves every completed
// line onto the output queue.
func (r *LineReader) feed(chunk []byte) error {
	if r.tee != nil {
		if _, err := r.tee.Write(chunk); err != nil {
			return fmt.Errorf("writing stream tee: %w", err)
		}
	}

	data := chunk
	if len(r.carry) > 0 {
		data = append(r.carry, chunk...)
		r.carry = nil
	}

	if cut := incompleteTail(data); cut > 0 {
		r.carry = append([]byte(nil), data[len(data)-cut:]...)
		data = data[:len(data)-cut]
	}

	text := string(data)
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			r.buf.WriteString(text)
			return nil
		}

		r.buf.WriteString(text[:i])
		r.lines = append(r.lines, strings.TrimSuffix(r.buf.String(), "\r"))
		r.buf.Reset()
		text = text[i+1:]
	}
}

// incompleteTail returns how many bytes at the end of b start a UTF-8
// sequence that the next chunk may still complete. Bytes that can never form
// a valid rune are not held back.
func incompleteTail(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		if !utf8.RuneStart(b[len(b)-i]) {
			continue
		}
		if utf8.FullRune(b[len(b)-i:]) {
			return 0
		}
		return i
	}
	return 0
}
