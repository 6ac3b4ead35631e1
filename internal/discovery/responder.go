package discovery

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/poprelay/relaycache/internal/logging"
)

// Responder is the server side of discovery: it answers every request with a hostname
type Responder struct {
	addr     string
	hostname string
	log      *zap.Logger

	conn     *net.UDPConn
	answered atomic.Uint64
	closing  atomic.Bool
	wg       sync.WaitGroup
}

// NewResponder creates a responder that will listen on addr (host:port)
func NewResponder(addr, hostname string, logger *zap.Logger) *Responder {
	return &Responder{
		addr:     addr,
		hostname: hostname,
		log:      logging.OrNop(logger).With(zap.String("component", "responder")),
	}
}

// Start binds the socket and begins answering requests
func (r *Responder) Start() error {
	if r.hostname == "" {
		return errors.New("responder hostname is empty")
	}
	laddr, err := net.ResolveUDPAddr("udp4", r.addr)
	if err != nil {
		return fmt.Errorf("invalid responder address %s: %w", r.addr, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP %s: %w", r.addr, err)
	}
	r.conn = conn

	r.wg.Add(1)
	go r.serve()

	r.log.Info("answering discovery requests",
		zap.Stringer("addr", conn.LocalAddr()),
		zap.String("hostname", r.hostname))
	return nil
}

// Addr returns the bound address, or nil before Start
func (r *Responder) Addr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Answered returns how many requests were answered
func (r *Responder) Answered() uint64 {
	return r.answered.Load()
}

// Stop closes the socket and waits for the serve goroutine
func (r *Responder) Stop() {
	if r.conn == nil || r.closing.Swap(true) {
		return
	}
	r.conn.Close()
	r.wg.Wait()
}

func (r *Responder) serve() {
	defer r.wg.Done()

	buf := make([]byte, MaxMessageSize)
	reply := []byte(r.hostname)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if r.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Warn("read error", zap.Error(err))
			continue
		}
		if !IsRequest(buf[:n]) {
			continue
		}
		if _, err := r.conn.WriteToUDP(reply, from); err != nil {
			r.log.Debug("reply failed", zap.Stringer("to", from), zap.Error(err))
			continue
		}
		r.answered.Add(1)
	}
}
