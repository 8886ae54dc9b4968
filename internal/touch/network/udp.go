// Package network ingests pointer events from the transports a kiosk
// deployment actually has: a UDP feed from the rendering host, a serial
// touch digitizer, and captured PCAP files for offline replay.
//
// Every transport decodes to l1events.PointerEvent and hands off to an
// EventSink; the pipeline engine's Feed method is the production sink.
package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tactiledata/gesture.report/internal/touch"
	"github.com/tactiledata/gesture.report/internal/touch/l1events"
)

// EventSink receives decoded pointer events. Implementations must not
// block; the pipeline engine's Feed satisfies this.
type EventSink interface {
	Feed(ev l1events.PointerEvent)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(ev l1events.PointerEvent)

// Feed calls f(ev).
func (f SinkFunc) Feed(ev l1events.PointerEvent) { f(ev) }

// ListenerStats counts UDP ingest activity.
type ListenerStats struct {
	Packets     uint64
	Bytes       uint64
	ParseErrors uint64
}

// UDPListenerConfig configures a UDPListener.
type UDPListenerConfig struct {
	// Address is the listen address, e.g. ":5600".
	Address string

	// RcvBuf is the socket receive buffer size in bytes. Zero keeps the
	// OS default.
	RcvBuf int

	// Sink receives every successfully decoded event.
	Sink EventSink
}

// UDPListener receives one wire-encoded pointer event per datagram.
type UDPListener struct {
	cfg  UDPListenerConfig
	conn *net.UDPConn

	mu    sync.Mutex
	stats ListenerStats
}

// NewUDPListener returns a listener; Start opens the socket.
func NewUDPListener(cfg UDPListenerConfig) (*UDPListener, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("udp listener needs a sink")
	}
	return &UDPListener{cfg: cfg}, nil
}

// Stats returns a copy of the ingest counters.
func (l *UDPListener) Stats() ListenerStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// LocalAddr returns the bound address once Start has opened the socket.
func (l *UDPListener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start opens the socket and blocks reading datagrams until ctx is
// cancelled. Malformed datagrams are counted and dropped; the engine's
// session expiry covers any resulting gaps.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("resolve udp address %q: %w", l.cfg.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen udp %q: %w", l.cfg.Address, err)
	}
	l.conn = conn
	defer conn.Close()

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			touch.Opsf("udp: set receive buffer %d: %v", l.cfg.RcvBuf, err)
		}
	}
	touch.Opsf("udp: listening on %s", conn.LocalAddr())

	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// A short deadline keeps the loop responsive to cancellation
		// without busy-waiting.
		if err := conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("udp read: %w", err)
		}

		l.mu.Lock()
		l.stats.Packets++
		l.stats.Bytes += uint64(n)
		l.mu.Unlock()

		ev, err := l1events.ParseDatagram(buf[:n])
		if err != nil {
			l.mu.Lock()
			l.stats.ParseErrors++
			l.mu.Unlock()
			touch.Tracef("udp: dropping packet: %v", err)
			continue
		}
		l.cfg.Sink.Feed(ev)
	}
}
