// Package codec converts relay payloads between their wire, text and cache representations
package codec

import (
	"encoding/json"
	"strings"
)

// Type is a single transform tag recorded in a packet's Encoding field
type Type string

const (
	Rgba   Type = "Rgba"
	Rgb    Type = "Rgb"
	Jpeg   Type = "Jpeg"
	Png    Type = "Png"
	Base64 Type = "Base64"
)

// EncodingField is the JSON field carrying the encoding stack
const EncodingField = "Encoding"

// DataField is the JSON field that receives base64 tail data in text mode
const DataField = "Data"

// encodingSeparator joins tags when the stack is written into JSON
const encodingSeparator = ","

// Encoding is the ordered record of transforms applied to a payload, oldest first.
type Encoding []Type

// ParseEncoding parses the string form written by Encoding.String.
func ParseEncoding(s string) Encoding {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, encodingSeparator)
	enc := make(Encoding, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		enc = append(enc, Type(p))
	}
	return enc
}

// Push returns a copy of the stack with t on top. The receiver is not modified.
func (e Encoding) Push(t Type) Encoding {
	out := make(Encoding, len(e), len(e)+1)
	copy(out, e)
	return append(out, t)
}

// Top returns the most recent transform, or "" for an empty stack.
func (e Encoding) Top() Type {
	if len(e) == 0 {
		return ""
	}
	return e[len(e)-1]
}

// Contains reports whether t appears anywhere in the stack.
func (e Encoding) Contains(t Type) bool {
	for _, v := range e {
		if v == t {
			return true
		}
	}
	return false
}

func (e Encoding) String() string {
	parts := make([]string, len(e))
	for i, t := range e {
		parts[i] = string(t)
	}
	return strings.Join(parts, encodingSeparator)
}

// MarshalJSON writes the stack as a single string
func (e Encoding) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON accepts the string form, an array of tags, or null
func (e *Encoding) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = ParseEncoding(s)
		return nil
	}
	var tags []Type
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*e = Encoding(tags)
	return nil
}
