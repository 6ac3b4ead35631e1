// Package sink provides the append-only stores that receive cache records
package sink

import (
	"errors"
	"fmt"
)

// RecordSeparator follows every text record in text-only mode
const RecordSeparator = "\n\n\n"

var (
	// ErrMalformedRecord is returned for text records that are not a single JSON object
	ErrMalformedRecord = errors.New("sink: malformed cache record")
	// ErrClosed is returned by operations on a closed sink
	ErrClosed = errors.New("sink: closed")
)

// Sink is an append-only byte store. Records are never read back through it.
type Sink interface {
	// Clear truncates the sink to empty
	Clear() error
	// AppendText validates and appends a JSON record
	AppendText(s string) error
	// AppendBytes appends raw bytes without framing
	AppendBytes(b []byte) error
	Close() error
}

// Options control record framing
type Options struct {
	// TextOnly appends RecordSeparator after each text record
	TextOnly bool
}

// CheckRecord verifies the brace framing of a text record
func CheckRecord(s string) error {
	if len(s) == 0 {
		return fmt.Errorf("%w: empty record", ErrMalformedRecord)
	}
	if s[0] != '{' {
		return fmt.Errorf("%w: expecting opening brace, got %q", ErrMalformedRecord, s[0])
	}
	if s[len(s)-1] != '}' {
		return fmt.Errorf("%w: expecting closing brace, got %q", ErrMalformedRecord, s[len(s)-1])
	}
	return nil
}

// frameText validates s and returns the bytes to append for it
func frameText(s string, opts Options) ([]byte, error) {
	if err := CheckRecord(s); err != nil {
		return nil, err
	}
	if !opts.TextOnly {
		return []byte(s), nil
	}
	out := make([]byte, 0, len(s)+len(RecordSeparator))
	out = append(out, s...)
	return append(out, RecordSeparator...), nil
}
