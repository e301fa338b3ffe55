// Package transport implements the UDP datagram transport shared by every
// drive connection: a single bound socket, a listener goroutine that
// demultiplexes inbound datagrams by source IP into per-peer bounded
// queues, and a mutex-guarded Send so concurrent drive workers can safely
// share the socket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultPort is the host-side UDP port the endpoint binds when none is
// given; drives themselves listen on their own port (49360 by default).
const DefaultPort = 41136

// defaultPeerQueueDepth bounds how many un-read datagrams are buffered per
// peer; when the queue is full the oldest one is dropped to make room.
const defaultPeerQueueDepth = 32

// maxDatagramSize is large enough for any response this protocol defines,
// including a full monitoring_channel and realtime_config field.
const maxDatagramSize = 2048

// ErrReceiveTimeout is returned by Receive when no datagram arrives from
// the given peer within the requested deadline.
var ErrReceiveTimeout = errors.New("transport: receive timed out")

// ErrUnknownPeer is returned by Receive for an address that was never
// registered with RegisterPeer nor sent to with Send.
var ErrUnknownPeer = errors.New("transport: unknown peer")

// Endpoint owns the shared UDP socket used to talk to every drive.
type Endpoint struct {
	conn   *net.UDPConn
	logger *log.Entry

	sendMu sync.Mutex

	mu    sync.RWMutex
	peers map[string]chan []byte

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEndpoint binds a UDP socket on 0.0.0.0:port (DefaultPort if port is
// zero) and starts the listener goroutine. Call RegisterPeer for each
// drive before traffic from it can be received. lc selects the socket
// options the listen syscall runs with (nil for plain net.ListenUDP
// behavior); pass a ListenConfig with a SO_REUSEPORT Control callback to
// allow a handover process to bind the same port before the old one
// exits.
func NewEndpoint(port int, lc *net.ListenConfig, logger *log.Entry) (*Endpoint, error) {
	if port == 0 {
		port = DefaultPort
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := listenUDP(lc, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	ep := &Endpoint{
		conn:   conn,
		logger: logger.WithField("component", "transport"),
		peers:  make(map[string]chan []byte),
		stopCh: make(chan struct{}),
	}
	ep.wg.Add(1)
	go ep.listen()
	return ep, nil
}

// RegisterPeer creates the bounded inbound queue for addr. Either it or a
// first Send to addr must happen before a drive's first Receive; datagrams
// from peers with no queue are logged and dropped.
func (e *Endpoint) RegisterPeer(addr *net.UDPAddr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.peers[addr.IP.String()] = make(chan []byte, defaultPeerQueueDepth)
}

// Send writes buf to addr, creating addr's inbound queue first if it has
// none yet. Concurrent calls are serialized, since a single UDP socket is
// shared across every drive worker.
func (e *Endpoint) Send(addr *net.UDPAddr, buf []byte) error {
	e.mu.Lock()
	if _, ok := e.peers[addr.IP.String()]; !ok {
		e.peers[addr.IP.String()] = make(chan []byte, defaultPeerQueueDepth)
	}
	e.mu.Unlock()

	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	_, err := e.conn.WriteToUDP(buf, addr)
	return err
}

// Receive blocks until a datagram from peer arrives or timeout elapses.
func (e *Endpoint) Receive(peer net.IP, timeout time.Duration) ([]byte, error) {
	e.mu.RLock()
	ch, ok := e.peers[peer.String()]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownPeer
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case buf := <-ch:
		return buf, nil
	case <-timer.C:
		return nil, ErrReceiveTimeout
	case <-e.stopCh:
		return nil, net.ErrClosed
	}
}

// Close stops the listener goroutine and closes the underlying socket.
func (e *Endpoint) Close() error {
	close(e.stopCh)
	err := e.conn.Close()
	e.wg.Wait()
	return err
}

// listenUDP binds addr via lc.ListenPacket when lc is non-nil (so a
// SO_REUSEPORT Control callback takes effect), falling back to plain
// net.ListenUDP otherwise.
func listenUDP(lc *net.ListenConfig, addr *net.UDPAddr) (*net.UDPConn, error) {
	if lc == nil {
		return net.ListenUDP("udp4", addr)
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", addr.String())
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		return nil, fmt.Errorf("transport: unexpected packet conn type %T", pc)
	}
	return conn, nil
}

func (e *Endpoint) listen() {
	defer e.wg.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
				e.logger.WithError(err).Warn("read from socket failed")
				return
			}
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		e.mu.RLock()
		ch, ok := e.peers[src.IP.String()]
		e.mu.RUnlock()
		if !ok {
			e.logger.WithField("peer", src.IP.String()).Warn("dropped datagram from unregistered peer")
			continue
		}
		select {
		case ch <- datagram:
		default:
			// Queue full: drop the oldest datagram to make room for this one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- datagram:
			default:
			}
			e.logger.WithField("peer", src.IP.String()).Warn("peer receive queue full, dropped oldest datagram")
		}
	}
}
