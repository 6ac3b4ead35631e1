package cache

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/poprelay/relaycache/internal/codec"
	"github.com/poprelay/relaycache/internal/metrics"
	"github.com/poprelay/relaycache/internal/relay"
	"github.com/poprelay/relaycache/internal/sink"
)

// memorySink records appends in order and can be told to fail
type memorySink struct {
	mu        sync.Mutex
	records   []string
	clears    int
	textErr   error
	bytesErr  error
	clearErr  error
	separator string
}

func (s *memorySink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearErr != nil {
		return s.clearErr
	}
	s.clears++
	s.records = nil
	return nil
}

func (s *memorySink) AppendText(text string) error {
	if err := sink.CheckRecord(text); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.textErr != nil {
		return s.textErr
	}
	s.records = append(s.records, text+s.separator)
	return nil
}

func (s *memorySink) AppendBytes(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bytesErr != nil {
		return s.bytesErr
	}
	s.records = append(s.records, string(b))
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.records...)
}

func newTestWriter(t *testing.T, cfg WriterConfig, s sink.Sink) *Writer {
	t.Helper()
	w := NewWriter(cfg, s, nil, nil)
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })
	return w
}

func TestNewWriterClampsConfig(t *testing.T) {
	w := NewWriter(WriterConfig{WritesPerTick: 5000, JPEGQuality: 400}, &memorySink{}, nil, nil)
	cfg := w.Config()
	assert.Equal(t, MaxWritesPerTick, cfg.WritesPerTick)
	assert.Equal(t, DefaultTickInterval, cfg.TickInterval)
	assert.Equal(t, codec.DefaultJPEGQuality, cfg.JPEGQuality)

	w = NewWriter(WriterConfig{WritesPerTick: -1}, &memorySink{}, nil, nil)
	assert.Equal(t, 0, w.Config().WritesPerTick)
}

func TestWriterDrainPassOrder(t *testing.T) {
	s := &memorySink{}
	w := newTestWriter(t, WriterConfig{WritesPerTick: 1}, s)

	w.EnqueueText(`{"t":1}`)
	w.EnqueueText(`{"t":2}`)
	w.EnqueueBytes([]byte("raw"))
	w.EnqueueBinaryPacket(relay.BinaryMessage{Data: []byte(`{"b":1}`)})
	w.EnqueueJSONAndBinary(`{"Encoding":"Jpeg"}`, []byte("jpg"))

	w.Tick()
	assert.Equal(t, []string{`{"Encoding":"Jpeg"}`, "jpg", `{"b":1}`, "raw", `{"t":1}`}, s.snapshot())
	assert.Equal(t, 1, w.Size())

	w.Tick()
	assert.Equal(t, `{"t":2}`, s.snapshot()[5])
	assert.Equal(t, 0, w.Size())
}

func TestWriterFIFOPerShape(t *testing.T) {
	s := &memorySink{}
	w := newTestWriter(t, WriterConfig{WritesPerTick: 2}, s)

	want := []string{`{"n":0}`, `{"n":1}`, `{"n":2}`, `{"n":3}`, `{"n":4}`}
	for _, r := range want {
		w.EnqueueText(r)
	}

	w.Tick()
	assert.Equal(t, want[:2], s.snapshot())
	assert.Equal(t, 3, w.Size())

	w.Tick()
	w.Tick()
	assert.Equal(t, want, s.snapshot())
	assert.Equal(t, 0, w.Size())
}

func TestWriterZeroWritesPerTickDrainsNothing(t *testing.T) {
	s := &memorySink{}
	w := newTestWriter(t, WriterConfig{WritesPerTick: 0}, s)
	w.EnqueueText(`{}`)

	w.Tick()
	assert.Empty(t, s.snapshot())
	assert.Equal(t, 1, w.Size())

	w.Flush()
	assert.Equal(t, []string{`{}`}, s.snapshot())
}

func TestWriterReencodesRgbaImages(t *testing.T) {
	s := &memorySink{}
	w := newTestWriter(t, WriterConfig{WritesPerTick: 1}, s)

	pix := bytes.Repeat([]byte{10, 20, 30, 255}, 4)
	w.EnqueueJSONAndBinary(`{"Width":2,"Height":2,"Encoding":"Rgba"}`, pix)
	w.Tick()

	records := s.snapshot()
	require.Len(t, records, 2)
	assert.Equal(t, `{"Width":2,"Height":2,"Encoding":"Jpeg"}`, records[0])

	cfg, err := jpeg.DecodeConfig(bytes.NewReader([]byte(records[1])))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Width)
}

func TestWriterDropsBrokenImages(t *testing.T) {
	s := &memorySink{}
	w := newTestWriter(t, WriterConfig{WritesPerTick: 1}, s)

	w.EnqueueJSONAndBinary(`{"Width":2,"Height":2,"Encoding":"Rgba"}`, make([]byte, 7))
	w.EnqueueText(`{"after":true}`)
	w.Tick()

	assert.Equal(t, []string{`{"after":true}`}, s.snapshot())
	assert.Equal(t, 0, w.Size(), "failed item is not requeued")
}

func TestWriterDropsOversizedImages(t *testing.T) {
	s := &memorySink{}
	w := newTestWriter(t, WriterConfig{WritesPerTick: 1}, s)

	w.EnqueueJSONAndBinary(`{"Width":2147483648,"Height":2147483648,"Encoding":"Rgba"}`, nil)
	w.EnqueueText(`{"after":true}`)
	require.NotPanics(t, w.Tick)

	assert.Equal(t, []string{`{"after":true}`}, s.snapshot())
	assert.Equal(t, 0, w.Size())
}

func TestWriterBinaryPacketTextMode(t *testing.T) {
	s := &memorySink{}
	w := newTestWriter(t, WriterConfig{WritesPerTick: 1, WriteOnlyText: true}, s)

	w.EnqueueBinaryPacket(relay.BinaryMessage{Data: append([]byte(`{"x":1}`), 0, 1, 2, 3)})
	w.Tick()

	records := s.snapshot()
	require.Len(t, records, 1)

	var doc struct {
		Encoding codec.Encoding `json:"Encoding"`
		Data     string         `json:"Data"`
	}
	require.NoError(t, json.Unmarshal([]byte(records[0]), &doc))
	assert.Equal(t, codec.Encoding{codec.Base64}, doc.Encoding)
	data, err := base64.StdEncoding.DecodeString(doc.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3}, data)
}

func TestWriterBinaryPacketRawMode(t *testing.T) {
	s := &memorySink{}
	w := newTestWriter(t, WriterConfig{WritesPerTick: 1, WriteOnlyText: false}, s)

	packet := append([]byte(`{"x":1}`), 0, 1)
	w.EnqueueBinaryPacket(relay.BinaryMessage{Data: packet})
	w.Tick()

	assert.Equal(t, []string{string(packet)}, s.snapshot())
}

func TestWriterDropsMalformedText(t *testing.T) {
	s := &memorySink{}
	w := newTestWriter(t, WriterConfig{WritesPerTick: 1}, s)

	w.EnqueueText("not json")
	w.EnqueueText(`{"ok":1}`)

	w.Tick()
	assert.Empty(t, s.snapshot())
	assert.Equal(t, 1, w.Size(), "malformed record is removed, not rolled back")

	w.Tick()
	assert.Equal(t, []string{`{"ok":1}`}, s.snapshot())
}

func TestWriterSinkFailureDoesNotStopPass(t *testing.T) {
	s := &memorySink{bytesErr: errors.New("disk full")}
	w := newTestWriter(t, WriterConfig{WritesPerTick: 1}, s)

	w.EnqueueBytes([]byte("lost"))
	w.EnqueueText(`{"kept":1}`)
	w.Tick()

	assert.Equal(t, []string{`{"kept":1}`}, s.snapshot())
	assert.Equal(t, 0, w.Size())
}

func TestWriterPartialJSONAndBinary(t *testing.T) {
	s := &memorySink{bytesErr: errors.New("disk full")}
	core, logs := observer.New(zapcore.ErrorLevel)
	w := NewWriter(WriterConfig{WritesPerTick: 1}, s, nil, zap.New(core))
	require.NoError(t, w.Start())

	doc := `{"Width":1,"Height":1,"Encoding":"Jpeg"}`
	w.EnqueueJSONAndBinary(doc, []byte{0xff, 0xd8})
	w.Tick()

	assert.Equal(t, []string{doc}, s.snapshot(), "json half stays in the sink")
	entries := logs.FilterMessage("dropping cache record").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(len(doc)), entries[0].ContextMap()["partial_bytes"])
}

func TestWriterClearOnFirstWrite(t *testing.T) {
	s := &memorySink{records: []string{"stale"}}
	w := NewWriter(WriterConfig{WritesPerTick: 1, ClearOnFirstWrite: true}, s, nil, nil)
	require.NoError(t, w.Start())

	w.EnqueueText("bad record")
	w.Tick()
	assert.Equal(t, 0, s.clears, "a rejected record does not count as the first write")
	assert.Equal(t, []string{"stale"}, s.snapshot())

	w.EnqueueText(`{"a":1}`)
	w.EnqueueText(`{"a":2}`)
	w.Tick()
	w.Tick()
	assert.Equal(t, 1, s.clears)
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`}, s.snapshot())

	require.NoError(t, w.Stop())
	require.NoError(t, w.Start())
	w.EnqueueBytes([]byte("x"))
	w.Tick()
	assert.Equal(t, 2, s.clears, "each activation clears once")
	assert.Equal(t, []string{"x"}, s.snapshot())
	require.NoError(t, w.Stop())
}

func TestWriterClearFailureRetriesOnNextWrite(t *testing.T) {
	s := &memorySink{clearErr: errors.New("locked")}
	w := newTestWriter(t, WriterConfig{WritesPerTick: 1, ClearOnFirstWrite: true}, s)

	w.EnqueueText(`{"a":1}`)
	w.Tick()
	assert.Empty(t, s.snapshot())

	s.mu.Lock()
	s.clearErr = nil
	s.mu.Unlock()

	w.EnqueueText(`{"a":2}`)
	w.Tick()
	assert.Equal(t, 1, s.clears)
	assert.Equal(t, []string{`{"a":2}`}, s.snapshot())
}

func TestWriterSubscribesToBus(t *testing.T) {
	bus := relay.NewBus()
	s := &memorySink{}
	w := NewWriter(WriterConfig{WritesPerTick: 4}, s, bus, nil)

	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	assert.True(t, bus.HasSubscribers())

	bus.PublishDecoded(relay.BinaryMessage{Data: []byte(`{"bin":1}`)})
	bus.PublishDecoded(relay.TextMessage{Data: `{"txt":1}`})
	assert.Equal(t, 2, w.Size())

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.False(t, bus.HasSubscribers())

	bus.PublishDecoded(relay.TextMessage{Data: `{"late":1}`})
	assert.Equal(t, 2, w.Size())

	w.Tick()
	assert.Equal(t, []string{`{"bin":1}`, `{"txt":1}`}, s.snapshot())
}

func TestWriterStopKeepsActiveWhenUnsubscribeFails(t *testing.T) {
	bus := relay.NewBus()
	w := NewWriter(WriterConfig{WritesPerTick: 1}, &memorySink{}, bus, nil)
	require.NoError(t, w.Start())

	require.NoError(t, bus.UnsubscribeDecoded(w.handler))
	assert.Error(t, w.Stop())
	assert.True(t, w.active)

	require.NoError(t, bus.SubscribeDecoded(w.handler))
	require.NoError(t, w.Stop())
	assert.False(t, w.active)
	assert.False(t, bus.HasSubscribers())
}

func TestWriterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := &memorySink{}
	w := newTestWriter(t, WriterConfig{WritesPerTick: 1}, s)
	w.SetMetrics(metrics.NewCache(reg, w.Size))

	w.EnqueueText(`{"a":1}`)
	w.EnqueueBytes([]byte("b"))
	w.Tick()
	w.EnqueueText("broken")
	w.Tick()

	n, err := testutil.GatherAndCount(reg, "relaycache_records_written_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per written shape")

	n, err = testutil.GatherAndCount(reg, "relaycache_records_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWriterFileSinkTextOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.cache")
	require.NoError(t, os.WriteFile(path, []byte("previous session"), 0644))

	fs, err := sink.NewFileSink(path, sink.Options{TextOnly: true})
	require.NoError(t, err)
	w := newTestWriter(t, WriterConfig{WritesPerTick: 10, WriteOnlyText: true, ClearOnFirstWrite: true}, fs)

	w.EnqueueBinaryPacket(relay.BinaryMessage{Data: []byte(`{"frame":1}`)})
	w.EnqueueText(`{"frame":2}`)
	w.Tick()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"frame\":1}\n\n\n{\"frame\":2}\n\n\n", string(data))
}

func TestWriterRunStopsWithContext(t *testing.T) {
	s := &memorySink{}
	w := newTestWriter(t, WriterConfig{WritesPerTick: 1, TickInterval: time.Millisecond}, s)
	w.EnqueueText(`{"a":1}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(s.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWriterClearCache(t *testing.T) {
	s := &memorySink{records: []string{"x"}}
	w := newTestWriter(t, DefaultWriterConfig(), s)

	require.NoError(t, w.ClearCache())
	assert.Empty(t, s.snapshot())

	s.clearErr = errors.New("nope")
	assert.Error(t, w.ClearCache())
}
