package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
)

// DecodePacket splits a binary relay packet into its JSON header, tail data and the
// encoding stack declared by the header. The returned tail does not alias data.
func DecodePacket(data []byte) (string, []byte, Encoding, error) {
	n, err := JSONLength(data)
	if err != nil {
		return "", nil, nil, err
	}
	header := string(data[:n])
	enc, err := readEncoding(header)
	if err != nil {
		return "", nil, nil, err
	}
	return header, bytes.Clone(data[n:]), enc, nil
}

// EncodeBinaryPacketForText renders a binary packet as a single JSON object.
//
// A packet without tail data is returned as-is. Otherwise the tail is base64 encoded
// into the Data field and Base64 is pushed onto the header's Encoding.
func EncodeBinaryPacketForText(data []byte) (string, error) {
	n, err := JSONLength(data)
	if err != nil {
		return "", err
	}
	if n == len(data) {
		return string(data), nil
	}

	header, tail, enc, err := DecodePacket(data)
	if err != nil {
		return "", err
	}

	enc = enc.Push(Base64)
	doc, err := ReplaceField(header, EncodingField, enc.String())
	if err != nil {
		return "", fmt.Errorf("set encoding: %w", err)
	}
	doc, err = AppendField(doc, DataField, base64.StdEncoding.EncodeToString(tail))
	if err != nil {
		return "", fmt.Errorf("set data: %w", err)
	}
	return doc, nil
}

// TailLength returns how many bytes follow the JSON header, or -1 if there is no header
func TailLength(data []byte) int {
	n, err := JSONLength(data)
	if err != nil {
		return -1
	}
	return len(data) - n
}
