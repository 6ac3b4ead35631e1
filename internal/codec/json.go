package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoJSONHeader is returned when a packet does not start with a JSON object
	ErrNoJSONHeader = errors.New("codec: packet has no JSON header")
	// ErrNotObject is returned when a field patch targets something other than an object
	ErrNotObject = errors.New("codec: document is not a JSON object")
)

// JSONLength returns the number of bytes taken by the JSON object at the start of data.
// Anything after it is tail data.
func JSONLength(data []byte) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoJSONHeader, err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		return 0, ErrNoJSONHeader
	}
	return int(dec.InputOffset()), nil
}

// objectField is one key/value pair of a JSON object, value kept verbatim
type objectField struct {
	key   string
	value json.RawMessage
}

// parseObject splits a JSON object into its fields, preserving order
func parseObject(doc string) ([]objectField, error) {
	dec := json.NewDecoder(strings.NewReader(doc))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, ErrNotObject
	}

	var fields []objectField
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected token %v", ErrNotObject, tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("read value of %q: %w", key, err)
		}
		fields = append(fields, objectField{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read closing brace: %w", err)
	}
	return fields, nil
}

func renderObject(fields []objectField) (string, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		key, err := json.Marshal(f.key)
		if err != nil {
			return "", err
		}
		sb.Write(key)
		sb.WriteByte(':')
		sb.Write(f.value)
	}
	sb.WriteByte('}')
	return sb.String(), nil
}

// ReplaceField sets key to value in the JSON object doc. An existing field keeps its
// position; a missing one is added at the end.
func ReplaceField(doc, key string, value any) (string, error) {
	fields, err := parseObject(doc)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal %q: %w", key, err)
	}
	for i := range fields {
		if fields[i].key == key {
			fields[i].value = raw
			return renderObject(fields)
		}
	}
	return renderObject(append(fields, objectField{key: key, value: raw}))
}

// AppendField adds key as the last field of doc, dropping any earlier field with the same key.
func AppendField(doc, key string, value any) (string, error) {
	fields, err := parseObject(doc)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal %q: %w", key, err)
	}
	kept := fields[:0]
	for _, f := range fields {
		if f.key != key {
			kept = append(kept, f)
		}
	}
	return renderObject(append(kept, objectField{key: key, value: raw}))
}

// readEncoding extracts the Encoding field of a JSON header
func readEncoding(doc string) (Encoding, error) {
	var header struct {
		Encoding Encoding `json:"Encoding"`
	}
	if err := json.Unmarshal([]byte(doc), &header); err != nil {
		return nil, fmt.Errorf("parse encoding: %w", err)
	}
	return header.Encoding, nil
}
