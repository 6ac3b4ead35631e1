// Package cache queues decoded relay packets and drains them into an append-only sink
package cache

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/poprelay/relaycache/internal/relay"
)

// Queue is a FIFO guarded by its own mutex. The zero value is an empty queue.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// Push appends item at the tail
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// Pop removes and returns the head item. The lock covers only the removal.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return item, true
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// JSONAndBinary is a structured packet: json metadata plus a binary payload that may
// hold raw image pixels.
type JSONAndBinary struct {
	JSON string
	Data []byte
}

// MarshalFunc turns a typed value into JSON for EnqueueJSON
type MarshalFunc func(v any) ([]byte, error)

// Shape names, in drain order
const (
	ShapeJSONAndBinary = "json_and_binary"
	ShapeBinaryPacket  = "binary_packet"
	ShapeBytes         = "bytes"
	ShapeText          = "text"
)

// WriteQueue holds one independently locked queue per payload shape
type WriteQueue struct {
	jsonAndBinary Queue[JSONAndBinary]
	binary        Queue[relay.BinaryMessage]
	bytes         Queue[[]byte]
	text          Queue[string]
}

// EnqueueJSONAndBinary queues a json/binary pair
func (q *WriteQueue) EnqueueJSONAndBinary(doc string, data []byte) {
	q.jsonAndBinary.Push(JSONAndBinary{JSON: doc, Data: data})
}

// EnqueueBinaryPacket queues an opaque wire packet
func (q *WriteQueue) EnqueueBinaryPacket(p relay.BinaryMessage) {
	q.binary.Push(p)
}

// EnqueueBytes queues raw bytes
func (q *WriteQueue) EnqueueBytes(b []byte) {
	q.bytes.Push(b)
}

// EnqueueText queues a text record
func (q *WriteQueue) EnqueueText(s string) {
	q.text.Push(s)
}

// EnqueueJSON serializes v with marshal (json.Marshal when nil) and queues it as text
func (q *WriteQueue) EnqueueJSON(v any, marshal MarshalFunc) error {
	if marshal == nil {
		marshal = json.Marshal
	}
	data, err := marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize %T: %w", v, err)
	}
	q.EnqueueText(string(data))
	return nil
}

// Size returns the number of items waiting across all shapes
func (q *WriteQueue) Size() int {
	return q.jsonAndBinary.Len() + q.binary.Len() + q.bytes.Len() + q.text.Len()
}

// Sizes returns the queue length per shape
func (q *WriteQueue) Sizes() map[string]int {
	return map[string]int{
		ShapeJSONAndBinary: q.jsonAndBinary.Len(),
		ShapeBinaryPacket:  q.binary.Len(),
		ShapeBytes:         q.bytes.Len(),
		ShapeText:          q.text.Len(),
	}
}
