package discovery

import (
	"bytes"
	"time"
)

const (
	// DefaultPort is the UDP port relay servers listen on for discovery requests
	DefaultPort = 8082
	// BroadcastRequest is the fixed request payload
	BroadcastRequest = "whereisobserverserver"
	// MaxMessageSize is the maximum UDP payload size (stay under MTU)
	MaxMessageSize = 1024
)

const (
	MinBroadcastInterval     = 500 * time.Millisecond
	MaxBroadcastInterval     = 20 * time.Second
	DefaultBroadcastInterval = 5 * time.Second
)

// ClampInterval keeps d within [MinBroadcastInterval, MaxBroadcastInterval].
// Zero selects DefaultBroadcastInterval.
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultBroadcastInterval
	case d < MinBroadcastInterval:
		return MinBroadcastInterval
	case d > MaxBroadcastInterval:
		return MaxBroadcastInterval
	}
	return d
}

// EncodeRequest returns the request datagram
func EncodeRequest() []byte {
	return []byte(BroadcastRequest)
}

// IsRequest reports whether b is a discovery request (and not a reply)
func IsRequest(b []byte) bool {
	return string(bytes.TrimSpace(b)) == BroadcastRequest
}

// DecodeReply turns a reply datagram into a hostname. The content is not validated.
func DecodeReply(b []byte) string {
	return string(bytes.Trim(b, "\x00 \t\r\n"))
}
