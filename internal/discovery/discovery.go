// Package discovery finds relay servers on the local network by UDP broadcast.
//
// A Service broadcasts BroadcastRequest on every interval and collects hostname
// replies on a background goroutine. Replies are buffered and handed to listeners
// from Tick, so listeners and the connector always run on the ticking goroutine.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/poprelay/relaycache/internal/logging"
	"github.com/poprelay/relaycache/internal/metrics"
	"github.com/poprelay/relaycache/internal/relay"
)

// State of the discovery state machine
type State int32

const (
	StateStopped State = iota
	StateIdle
	StateAwaitingReply
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateIdle:
		return "idle"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StateDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Listener is called once per discovered hostname
type Listener func(hostname string) error

// Config controls a discovery Service
type Config struct {
	// BroadcastAddr is where requests are sent
	BroadcastAddr string
	// ListenAddr is the local socket address, normally an ephemeral port
	ListenAddr string
	// BroadcastEvery is the request interval, clamped by ClampInterval
	BroadcastEvery time.Duration
	// AutoConnect calls the connector for every discovered host
	AutoConnect bool
	// DisableOnDiscovery stops discovery after the first host is dispatched
	DisableOnDiscovery bool
}

// DefaultConfig broadcasts to the whole IPv4 subnet on DefaultPort
func DefaultConfig() Config {
	return Config{
		BroadcastAddr:      fmt.Sprintf("%s:%d", net.IPv4bcast, DefaultPort),
		ListenAddr:         "0.0.0.0:0",
		BroadcastEvery:     DefaultBroadcastInterval,
		AutoConnect:        true,
		DisableOnDiscovery: true,
	}
}

// Stats are running totals since the service was created
type Stats struct {
	Broadcasts uint64
	Replies    uint64
	Dispatched uint64
}

// Service handles UDP broadcast discovery
type Service struct {
	cfg       Config
	connector relay.Connector
	log       *zap.Logger
	metrics   *metrics.Discovery
	id        string

	conn   *net.UDPConn
	target *net.UDPAddr

	state atomic.Int32

	// results and listeners are shared with the receive goroutine
	mu        sync.Mutex
	results   []string
	listeners []Listener

	// countdown is only touched by the ticking goroutine
	countdown time.Duration

	broadcasts atomic.Uint64
	replies    atomic.Uint64
	dispatched atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a stopped service. connector may be nil when AutoConnect is off.
func NewService(cfg Config, connector relay.Connector, logger *zap.Logger) *Service {
	def := DefaultConfig()
	if cfg.BroadcastAddr == "" {
		cfg.BroadcastAddr = def.BroadcastAddr
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	cfg.BroadcastEvery = ClampInterval(cfg.BroadcastEvery)

	id := uuid.NewString()[:8]
	return &Service{
		cfg:       cfg,
		connector: connector,
		id:        id,
		log:       logging.OrNop(logger).With(zap.String("component", "discovery"), zap.String("instance", id)),
	}
}

// SetMetrics attaches prometheus counters
func (s *Service) SetMetrics(m *metrics.Discovery) {
	s.metrics = m
}

// AddListener registers l for every discovered hostname
func (s *Service) AddListener(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Config returns the effective configuration
func (s *Service) Config() Config {
	return s.cfg
}

// State returns the current state
func (s *Service) State() State {
	return State(s.state.Load())
}

// Stats returns the running totals
func (s *Service) Stats() Stats {
	return Stats{
		Broadcasts: s.broadcasts.Load(),
		Replies:    s.replies.Load(),
		Dispatched: s.dispatched.Load(),
	}
}

// LocalAddr returns the bound socket address, or nil before Start
func (s *Service) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Start binds the socket and starts receiving replies. The first Tick broadcasts.
func (s *Service) Start() error {
	if s.State() != StateStopped {
		return nil
	}

	target, err := net.ResolveUDPAddr("udp4", s.cfg.BroadcastAddr)
	if err != nil {
		return fmt.Errorf("invalid broadcast address %s: %w", s.cfg.BroadcastAddr, err)
	}
	laddr, err := net.ResolveUDPAddr("udp4", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("invalid listen address %s: %w", s.cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP %s: %w", s.cfg.ListenAddr, err)
	}
	if err := conn.SetReadBuffer(MaxMessageSize * 10); err != nil {
		s.log.Warn("failed to set read buffer", zap.Error(err))
	}

	s.conn = conn
	s.target = target
	s.countdown = 0
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.state.Store(int32(StateIdle))

	s.wg.Add(1)
	go s.receiveLoop(s.ctx, conn)

	s.log.Info("discovery started",
		zap.Stringer("local", conn.LocalAddr()),
		zap.Stringer("broadcast", target),
		zap.Duration("every", s.cfg.BroadcastEvery))
	return nil
}

// Stop closes the socket and waits for the receive goroutine. Pending results are discarded.
func (s *Service) Stop() {
	if s.State() == StateStopped {
		return
	}
	s.state.Store(int32(StateStopped))
	s.cancel()
	s.conn.Close()
	s.wg.Wait()

	s.mu.Lock()
	s.results = nil
	s.mu.Unlock()
	s.log.Info("discovery stopped")
}

// Tick advances the broadcast countdown by elapsed and dispatches buffered replies.
// It never blocks on the network beyond a single datagram write.
func (s *Service) Tick(elapsed time.Duration) {
	switch s.State() {
	case StateStopped, StateDisabled:
		return
	}

	s.countdown -= elapsed
	if s.countdown <= 0 {
		s.broadcast()
		s.countdown = s.cfg.BroadcastEvery
	}
	s.dispatch()
}

// Run drives Tick every interval until ctx is done or the service is disabled
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Tick(now.Sub(last))
			last = now
			switch s.State() {
			case StateDisabled, StateStopped:
				return nil
			}
		}
	}
}

// broadcast sends one request. A reply still pending from the previous interval
// does not suppress it.
func (s *Service) broadcast() {
	if _, err := s.conn.WriteToUDP(EncodeRequest(), s.target); err != nil {
		// broadcast failures are common on some networks
		if s.ctx.Err() == nil {
			s.log.Debug("broadcast failed", zap.Error(err))
		}
		return
	}
	s.broadcasts.Add(1)
	s.metrics.Broadcast()
	s.state.CompareAndSwap(int32(StateIdle), int32(StateAwaitingReply))
}

// receiveLoop buffers every reply until the socket is closed
func (s *Service) receiveLoop(ctx context.Context, conn *net.UDPConn) {
	defer s.wg.Done()

	buf := make([]byte, MaxMessageSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("read error", zap.Error(err))
			continue
		}
		if IsRequest(buf[:n]) {
			continue
		}

		host := DecodeReply(buf[:n])
		s.mu.Lock()
		s.results = append(s.results, host)
		s.mu.Unlock()

		s.replies.Add(1)
		s.metrics.Reply()
		s.state.CompareAndSwap(int32(StateAwaitingReply), int32(StateIdle))
		s.log.Debug("reply received", zap.String("host", host), zap.Stringer("from", addr))
	}
}

// dispatch hands buffered hostnames to listeners and the connector
func (s *Service) dispatch() {
	s.mu.Lock()
	hosts := s.results
	s.results = nil
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for i, host := range hosts {
		if s.State() == StateDisabled {
			s.log.Debug("discovery disabled, dropping replies", zap.Int("dropped", len(hosts)-i))
			return
		}

		s.log.Info("found relay server", zap.String("host", host))
		for _, l := range listeners {
			if err := notify(l, host); err != nil {
				s.metrics.ListenerFailure()
				s.log.Error("discovery listener failed", zap.String("host", host), zap.Error(err))
			}
		}
		s.dispatched.Add(1)

		if s.cfg.AutoConnect && s.connector != nil {
			err := connect(s.connector, host)
			s.metrics.Connect(err)
			if err != nil {
				s.log.Error("auto-connect failed", zap.String("host", host), zap.Error(err))
			}
		}
		if s.cfg.DisableOnDiscovery {
			s.state.Store(int32(StateDisabled))
			s.log.Info("discovery disabled after finding a server", zap.String("host", host))
		}
	}
}

// connect calls c.Connect, turning a panic into an error
func connect(c relay.Connector, host string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("connector panicked: %v", r)
		}
	}()
	return c.Connect(host)
}

// notify calls l, turning a panic into an error
func notify(l Listener, host string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l(host)
}
