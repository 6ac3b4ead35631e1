package cache

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poprelay/relaycache/internal/relay"
)

func TestQueueZeroValue(t *testing.T) {
	var q Queue[string]
	assert.Equal(t, 0, q.Len())

	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueueFIFO(t *testing.T) {
	var q Queue[int]
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	require.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestWriteQueueSizeBeforeFirstWrite(t *testing.T) {
	var q WriteQueue
	assert.Equal(t, 0, q.Size())
}

func TestWriteQueueSizeCountsAllShapes(t *testing.T) {
	var q WriteQueue
	q.EnqueueJSONAndBinary(`{"Encoding":"Jpeg"}`, []byte{1})
	q.EnqueueBinaryPacket(relay.BinaryMessage{Data: []byte(`{}`)})
	q.EnqueueBinaryPacket(relay.BinaryMessage{Data: []byte(`{}`)})
	q.EnqueueBytes([]byte{1, 2})
	q.EnqueueText(`{"a":1}`)
	require.NoError(t, q.EnqueueJSON(map[string]int{"b": 2}, nil))

	assert.Equal(t, 6, q.Size())
	assert.Equal(t, map[string]int{
		ShapeJSONAndBinary: 1,
		ShapeBinaryPacket:  2,
		ShapeBytes:         1,
		ShapeText:          2,
	}, q.Sizes())

	q.binary.Pop()
	q.text.Pop()
	assert.Equal(t, 4, q.Size())
}

func TestEnqueueJSONUsesSuppliedMarshal(t *testing.T) {
	var q WriteQueue
	err := q.EnqueueJSON(42, func(v any) ([]byte, error) {
		return []byte(`{"value":42}`), nil
	})
	require.NoError(t, err)

	s, ok := q.text.Pop()
	require.True(t, ok)
	assert.Equal(t, `{"value":42}`, s)

	err = q.EnqueueJSON(1, func(any) ([]byte, error) { return nil, errors.New("boom") })
	assert.Error(t, err)
	assert.Equal(t, 0, q.Size())

	err = q.EnqueueJSON(make(chan int), nil)
	assert.Error(t, err)
}

func TestWriteQueueConcurrentProducers(t *testing.T) {
	var q WriteQueue
	const producers, perProducer = 8, 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				switch (p + i) % 4 {
				case 0:
					q.EnqueueJSONAndBinary(`{}`, nil)
				case 1:
					q.EnqueueBinaryPacket(relay.BinaryMessage{Data: []byte(`{}`)})
				case 2:
					q.EnqueueBytes([]byte{byte(i)})
				default:
					q.EnqueueText(`{}`)
				}
			}
		}(p)
	}

	// Pop concurrently with the producers; every item is seen exactly once.
	popped := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		if _, ok := q.bytes.Pop(); ok {
			popped++
			continue
		}
		select {
		case <-done:
			for {
				if _, ok := q.bytes.Pop(); !ok {
					break
				}
				popped++
			}
			assert.Equal(t, producers*perProducer, popped+q.Size())
			return
		default:
		}
	}
}
