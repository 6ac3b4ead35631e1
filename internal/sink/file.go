package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSink appends records to a single file on disk
type FileSink struct {
	path   string
	opts   Options
	mu     sync.Mutex
	closed bool
}

// NewFileSink creates a sink for path, creating its parent directory if needed.
// The file itself is created on first write or clear.
func NewFileSink(path string, opts Options) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("sink: empty cache path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileSink{path: path, opts: opts}, nil
}

// Path returns the cache file path
func (s *FileSink) Path() string {
	return s.path
}

// Clear truncates the cache file
func (s *FileSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := os.WriteFile(s.path, nil, 0644); err != nil {
		return fmt.Errorf("failed to clear cache file: %w", err)
	}
	return nil
}

// AppendText appends a JSON record, rejecting anything without brace framing
func (s *FileSink) AppendText(text string) error {
	payload, err := frameText(text, s.opts)
	if err != nil {
		return err
	}
	return s.append(payload)
}

// AppendBytes appends raw bytes
func (s *FileSink) AppendBytes(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return s.append(b)
}

func (s *FileSink) append(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open cache file: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to cache file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	return nil
}

// Close marks the sink closed. Later writes fail with ErrClosed.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
