package latency

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FileSink appends one duration in whole milliseconds per line. Each line goes out in a
// single write on an O_APPEND descriptor, so concurrent workers never interleave.
type FileSink struct {
	path string
	f    *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open latency file: %w", err)
	}
	return &FileSink{path: path, f: f}, nil
}

func (s *FileSink) Append(ctx context.Context, sample Sample) error {
	line := strconv.FormatInt(sample.Duration().Milliseconds(), 10) + "\n"
	if _, err := s.f.WriteString(line); err != nil {
		return NewSinkWriteError(s.path, err)
	}
	return nil
}

func (s *FileSink) Close() error {
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return fmt.Errorf("failed to sync latency file: %w", err)
	}
	return s.f.Close()
}

// ReadFile loads the durations written by a FileSink. Blank lines are skipped.
func ReadFile(path string) ([]time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open latency file: %w", err)
	}
	defer f.Close()

	durations := make([]time.Duration, 0)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		ms, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d of %s: %w", lineNo, path, err)
		}
		durations = append(durations, time.Duration(ms)*time.Millisecond)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read latency file: %w", err)
	}
	return durations, nil
}
