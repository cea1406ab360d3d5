// Package sink appends result rows to a CSV file as they are produced.
package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrHeaderWritten = errors.New("header already written")
	ErrClosed        = errors.New("sink is closed")
)

// Writer is what the orchestrator needs from a sink.
type Writer interface {
	WriteHeader(columns []string) error
	WriteRow(values ...any) error
	Close() error
}

// Opener creates the sink for one batch.
type Opener func(path string) (Writer, error)

// CSVSink writes every row straight to the file; nothing is buffered in
// memory between calls.
type CSVSink struct {
	mu     sync.Mutex
	file   *os.File
	header bool
	closed bool
}

// Open creates the parent directory when needed and truncates any previous
// file at path.
func Open(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create results directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open results file: %w", err)
	}

	return &CSVSink{file: file}, nil
}

// OpenWriter adapts Open to an Opener.
func OpenWriter(path string) (Writer, error) {
	return Open(path)
}

func (s *CSVSink) WriteHeader(columns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.header {
		return ErrHeaderWritten
	}

	values := make([]any, len(columns))
	for i, c := range columns {
		values[i] = c
	}
	if err := s.write(values); err != nil {
		return err
	}
	s.header = true
	return nil
}

func (s *CSVSink) WriteRow(values ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.write(values); err != nil {
		return err
	}
	return nil
}

func (s *CSVSink) write(values []any) error {
	if _, err := s.file.WriteString(FormatRow(values...)); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// FormatRow renders one CSV line. Every value is quoted, embedded quotes are
// doubled and nil becomes an empty field.
func FormatRow(values ...any) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(stringify(v), `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
	return b.String()
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case *int:
		if t == nil {
			return ""
		}
		return fmt.Sprint(*t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
