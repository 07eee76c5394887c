// Package stream reads delimited source files one line at a time. The file is reopened for
// every line so that no descriptor stays open between benchmark invocations.
package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrEndOfStream is returned when no complete line remains after the cursor. A trailing
// line without a terminator is never returned.
var ErrEndOfStream = errors.New("end of stream")

// ErrLineTooLong is returned for a line that does not fit the line buffer. The cursor
// moves past it, so the next call reads the following line.
var ErrLineTooLong = errors.New("line too long")

// DefaultMaxLineBytes bounds the line buffer.
const DefaultMaxLineBytes = 64 * 1024

// Cursor is a position in a source file. Start never changes after creation.
type Cursor struct {
	start   int64
	current int64
}

func NewCursor(start int64) *Cursor {
	return &Cursor{start: start, current: start}
}

func (c *Cursor) Start() int64 {
	return c.start
}

func (c *Cursor) Offset() int64 {
	return c.current
}

// Tokenizer yields successive lines of one file. It is not safe for concurrent use; give
// each worker its own.
type Tokenizer struct {
	path    string
	cursor  *Cursor
	maxLine int
}

func NewTokenizer(path string, headerBytes int64) *Tokenizer {
	return &Tokenizer{
		path:    path,
		cursor:  NewCursor(headerBytes),
		maxLine: DefaultMaxLineBytes,
	}
}

func (t *Tokenizer) Cursor() *Cursor {
	return t.cursor
}

// Next returns the line at the cursor without its terminator and advances past it.
func (t *Tokenizer) Next() (string, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", t.path, err)
	}
	defer f.Close()

	if _, err := f.Seek(t.cursor.current, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to seek %s to %d: %w", t.path, t.cursor.current, err)
	}

	r := bufio.NewReaderSize(f, t.maxLine)
	line, err := r.ReadSlice('\n')
	if err == io.EOF {
		return "", ErrEndOfStream
	}
	if err == bufio.ErrBufferFull {
		return "", t.skip(r, int64(len(line)))
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", t.path, err)
	}

	t.cursor.current += int64(len(line))

	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line), nil
}

// skip discards the rest of an oversized line. A line that never terminates is the partial
// tail of the source and leaves the cursor where it was.
func (t *Tokenizer) skip(r *bufio.Reader, consumed int64) error {
	for {
		chunk, err := r.ReadSlice('\n')
		consumed += int64(len(chunk))
		switch err {
		case nil:
			offset := t.cursor.current
			t.cursor.current += consumed
			return fmt.Errorf("%w: %d bytes at offset %d (limit %d)", ErrLineTooLong, consumed, offset, t.maxLine)
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			return ErrEndOfStream
		default:
			return fmt.Errorf("failed to read %s: %w", t.path, err)
		}
	}
}

// Reset moves the cursor back to the first line after the header.
func (t *Tokenizer) Reset() {
	t.cursor.current = t.cursor.start
}

// DetectHeader returns the size of the first line of path including its terminator.
func DetectHeader(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	line, err := bufio.NewReaderSize(f, DefaultMaxLineBytes).ReadSlice('\n')
	if err == io.EOF {
		return 0, ErrEndOfStream
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	return int64(len(line)), nil
}
