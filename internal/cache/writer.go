package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/poprelay/relaycache/internal/codec"
	"github.com/poprelay/relaycache/internal/logging"
	"github.com/poprelay/relaycache/internal/metrics"
	"github.com/poprelay/relaycache/internal/relay"
	"github.com/poprelay/relaycache/internal/sink"
)

const (
	// MaxWritesPerTick bounds the drain passes of a single tick
	MaxWritesPerTick = 1000
	// DefaultTickInterval is roughly one display frame
	DefaultTickInterval = 16 * time.Millisecond
)

// WriterConfig controls how the cache writer drains its queues
type WriterConfig struct {
	// WritesPerTick is the number of drain passes per Tick (0..MaxWritesPerTick)
	WritesPerTick int
	// TickInterval is the period used by Run
	TickInterval time.Duration
	// WriteOnlyText turns binary packets into JSON text before writing
	WriteOnlyText bool
	// ClearOnFirstWrite truncates the sink right before the first write of each activation
	ClearOnFirstWrite bool
	// JPEGQuality is used when raw RGBA images are compressed
	JPEGQuality int
}

// DefaultWriterConfig returns the settings used when nothing is configured
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		WritesPerTick: 1,
		TickInterval:  DefaultTickInterval,
		WriteOnlyText: true,
		JPEGQuality:   codec.DefaultJPEGQuality,
	}
}

// Writer drains the write queues into a sink, a bounded number of items per tick.
// Producers may enqueue from any goroutine; Tick must only be called from one.
type Writer struct {
	*WriteQueue

	cfg     WriterConfig
	sink    sink.Sink
	bus     *relay.Bus
	log     *zap.Logger
	metrics *metrics.Cache
	handler relay.Handler

	mu        sync.Mutex
	active    bool
	sessionID string

	firstWrite atomic.Bool
	tailLog    rate.Sometimes
}

// NewWriter creates a writer for s. bus may be nil when packets are only enqueued directly.
func NewWriter(cfg WriterConfig, s sink.Sink, bus *relay.Bus, logger *zap.Logger) *Writer {
	if cfg.WritesPerTick < 0 {
		cfg.WritesPerTick = 0
	}
	if cfg.WritesPerTick > MaxWritesPerTick {
		cfg.WritesPerTick = MaxWritesPerTick
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = codec.DefaultJPEGQuality
	}

	w := &Writer{
		WriteQueue: &WriteQueue{},
		cfg:        cfg,
		sink:       s,
		bus:        bus,
		log:        logging.OrNop(logger).With(zap.String("component", "cache")),
		tailLog:    rate.Sometimes{Interval: time.Second},
	}
	w.handler = w.handleDecoded
	w.firstWrite.Store(true)
	return w
}

// SetMetrics attaches prometheus counters
func (w *Writer) SetMetrics(m *metrics.Cache) {
	w.metrics = m
}

// Config returns the effective configuration
func (w *Writer) Config() WriterConfig {
	return w.cfg
}

// Start activates the writer: the first-write flag is re-armed and the writer
// subscribes to decoded packets on the bus. Calling Start twice is a no-op.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active {
		return nil
	}
	if w.bus != nil {
		if err := w.bus.SubscribeDecoded(w.handler); err != nil {
			return err
		}
	}
	w.firstWrite.Store(true)
	w.sessionID = uuid.NewString()
	w.active = true

	w.log.Info("cache writer started",
		zap.String("session", w.sessionID),
		zap.Int("writes_per_tick", w.cfg.WritesPerTick),
		zap.Bool("write_only_text", w.cfg.WriteOnlyText),
		zap.Bool("clear_on_first_write", w.cfg.ClearOnFirstWrite))
	return nil
}

// Stop unsubscribes from the bus. Queued items stay queued. The writer stays
// active when unsubscribing fails, so Stop can be retried.
func (w *Writer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.active {
		return nil
	}
	if w.bus != nil {
		if err := w.bus.UnsubscribeDecoded(w.handler); err != nil {
			return err
		}
	}
	w.active = false
	w.log.Info("cache writer stopped", zap.String("session", w.sessionID), zap.Int("pending", w.Size()))
	return nil
}

// Run calls Tick every TickInterval until ctx is done
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Tick()
		}
	}
}

// Tick performs up to WritesPerTick drain passes and returns without waiting
// for anything that is not already queued.
func (w *Writer) Tick() {
	for i := 0; i < w.cfg.WritesPerTick; i++ {
		if w.Size() == 0 {
			return
		}
		w.drainPass()
	}
}

// Flush drains until every queue is empty. Producers must be quiet while it runs.
func (w *Writer) Flush() {
	for w.Size() > 0 {
		w.drainPass()
	}
}

// ClearCache truncates the sink now
func (w *Writer) ClearCache() error {
	if err := w.sink.Clear(); err != nil {
		return err
	}
	w.metrics.Cleared()
	w.log.Info("cache cleared")
	return nil
}

func (w *Writer) handleDecoded(msg relay.Message) {
	switch m := msg.(type) {
	case relay.BinaryMessage:
		w.EnqueueBinaryPacket(m)
	case relay.TextMessage:
		w.EnqueueText(m.Data)
	default:
		w.log.Warn("ignoring decoded packet of unknown type", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// drainPass pops at most one item per shape, in fixed order, and writes it
func (w *Writer) drainPass() {
	if item, ok := w.jsonAndBinary.Pop(); ok {
		n, err := w.writeJSONAndBinary(item)
		w.finish(ShapeJSONAndBinary, n, err)
	}
	if pkt, ok := w.binary.Pop(); ok {
		n, err := w.writeBinaryPacket(pkt)
		w.finish(ShapeBinaryPacket, n, err)
	}
	if b, ok := w.bytes.Pop(); ok {
		n, err := w.appendBytes(b)
		w.finish(ShapeBytes, n, err)
	}
	if s, ok := w.text.Pop(); ok {
		n, err := w.appendText(s)
		w.finish(ShapeText, n, err)
	}
}

// finish records the outcome of one item. Failed items are dropped for good; n is
// what already reached the sink, which is only non-zero for a JSONAndBinary item
// whose payload failed after its JSON half was written.
func (w *Writer) finish(shape string, n int, err error) {
	if err == nil {
		w.metrics.Written(shape, n)
		return
	}
	reason := dropReason(err)
	w.metrics.Dropped(shape, reason)
	w.log.Error("dropping cache record",
		zap.String("shape", shape),
		zap.String("reason", reason),
		zap.Int("partial_bytes", n),
		zap.Error(err))
}

func (w *Writer) writeJSONAndBinary(item JSONAndBinary) (int, error) {
	doc, data, err := codec.ReencodeImageIfNeeded(item.JSON, item.Data, w.cfg.JPEGQuality)
	if err != nil {
		return 0, fmt.Errorf("reencode image: %w", err)
	}
	n, err := w.appendText(doc)
	if err != nil {
		return 0, err
	}
	m, err := w.appendBytes(data)
	if err != nil {
		return n, fmt.Errorf("payload after json header: %w", err)
	}
	return n + m, nil
}

func (w *Writer) writeBinaryPacket(pkt relay.BinaryMessage) (int, error) {
	if !w.cfg.WriteOnlyText {
		return w.appendBytes(pkt.Data)
	}

	w.tailLog.Do(func() {
		w.log.Debug("binary packet tail", zap.Int("tail_bytes", codec.TailLength(pkt.Data)))
	})
	text, err := codec.EncodeBinaryPacketForText(pkt.Data)
	if err != nil {
		return 0, fmt.Errorf("encode binary packet: %w", err)
	}
	return w.appendText(text)
}

func (w *Writer) appendText(s string) (int, error) {
	if err := sink.CheckRecord(s); err != nil {
		return 0, err
	}
	if err := w.prepareFirstWrite(); err != nil {
		return 0, err
	}
	if err := w.sink.AppendText(s); err != nil {
		return 0, err
	}
	return len(s), nil
}

func (w *Writer) appendBytes(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if err := w.prepareFirstWrite(); err != nil {
		return 0, err
	}
	if err := w.sink.AppendBytes(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// prepareFirstWrite clears the sink once per activation when configured to
func (w *Writer) prepareFirstWrite() error {
	if !w.firstWrite.Load() {
		return nil
	}
	if w.cfg.ClearOnFirstWrite {
		if err := w.sink.Clear(); err != nil {
			return fmt.Errorf("clear cache before first write: %w", err)
		}
		w.metrics.Cleared()
		w.log.Info("cleared cache before first write", zap.String("session", w.session()))
	}
	w.firstWrite.Store(false)
	return nil
}

func (w *Writer) session() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, sink.ErrMalformedRecord):
		return "malformed"
	case errors.Is(err, codec.ErrImageTransform):
		return "image"
	case errors.Is(err, codec.ErrNoJSONHeader):
		return "no_header"
	case errors.Is(err, sink.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}
