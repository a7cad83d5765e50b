// Package multiplexer drives every peer connection of a torrent from a single goroutine.
//
// Network I/O runs in per-socket goroutines that never touch connection state.
// They post events (dial finished, message read, frame written, error) to a channel
// which the owning goroutine consumes in Poll.
package multiplexer

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cascadebt/cascade/internal/logger"
	"github.com/cascadebt/cascade/internal/peer"
	"github.com/cascadebt/cascade/internal/peerconn"
	"github.com/cascadebt/cascade/internal/peerprotocol"
	"github.com/juju/ratelimit"
)

var errAlreadyClosed = errors.New("socket already closed")

// Listener is notified from inside Poll.
type Listener interface {
	// OnNewConnection is called when a socket is connected, before any message is processed.
	// Subscribe to the connection to receive its events.
	OnNewConnection(c *peerconn.Conn)
	// OnConnectionFailed is called when dialing p fails.
	OnConnectionFailed(p *peer.Peer, err error)
	// OnConnectionLost is called after c is killed and removed from the Multiplexer.
	OnConnectionLost(c *peerconn.Conn)
}

// Config of a Multiplexer.
type Config struct {
	InfoHash [20]byte
	PeerID   [20]byte
	Store    peerconn.Store
	Conn     peerconn.Config
	Retry    peer.RetryConfig

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration

	// Optional rate limits shared by all sockets.
	ReadBucket  *ratelimit.Bucket
	WriteBucket *ratelimit.Bucket
}

// Multiplexer owns the set of live connections.
// Poll, Connect, Conns and Close must be called from the same goroutine.
// Register and Wake may be called from any goroutine.
type Multiplexer struct {
	config   Config
	listener Listener
	events   chan interface{}
	wakeC    chan struct{}
	closeC   chan struct{}
	conns    map[*peerconn.Conn]*socket
	dialing  int
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
	log      logger.Logger
}

// New returns a Multiplexer that reports new and failed connections to l.
func New(cfg Config, l Listener) *Multiplexer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Multiplexer{
		config:   cfg,
		listener: l,
		events:   make(chan interface{}, 64),
		wakeC:    make(chan struct{}, 1),
		closeC:   make(chan struct{}),
		conns:    make(map[*peerconn.Conn]*socket),
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.New("multiplexer"),
	}
}

type connectEvent struct {
	peer *peer.Peer
	conn net.Conn
	err  error
}

type registerEvent struct {
	conn      net.Conn
	handshake *peerprotocol.Handshake
}

// Connect dials p in the background. The result is delivered to the Listener from Poll.
func (m *Multiplexer) Connect(p *peer.Peer) {
	if m.closed {
		return
	}
	m.dialing++
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		d := net.Dialer{Timeout: m.config.DialTimeout}
		conn, err := d.DialContext(m.ctx, "tcp", p.Addr.String())
		select {
		case m.events <- connectEvent{p, conn, err}:
		case <-m.closeC:
			if conn != nil {
				_ = conn.Close()
			}
		}
	}()
}

// Register hands an accepted socket whose handshake is already read to the loop.
// If the Multiplexer is closed the socket is closed.
func (m *Multiplexer) Register(conn net.Conn, h *peerprotocol.Handshake) {
	select {
	case <-m.closeC:
		_ = conn.Close()
		return
	default:
	}
	select {
	case m.events <- registerEvent{conn, h}:
	case <-m.closeC:
		_ = conn.Close()
	}
}

// Wake makes a blocked Poll return early.
func (m *Multiplexer) Wake() {
	select {
	case m.wakeC <- struct{}{}:
	default:
	}
}

// Dialing returns the number of connect attempts in progress.
func (m *Multiplexer) Dialing() int { return m.dialing }

// Conns returns the live connections.
func (m *Multiplexer) Conns() []*peerconn.Conn {
	l := make([]*peerconn.Conn, 0, len(m.conns))
	for c := range m.conns {
		l = append(l, c)
	}
	return l
}

// Poll waits up to timeout for the first event, then handles every event that is already queued.
// Errors of individual connections are handled by killing the connection; Poll itself never fails.
func (m *Multiplexer) Poll(timeout time.Duration) {
	if m.closed {
		return
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case e := <-m.events:
		m.handle(e)
	case <-m.wakeC:
		return
	case <-t.C:
		return
	}
	for n := len(m.events); n > 0; n-- {
		m.handle(<-m.events)
	}
}

func (m *Multiplexer) handle(e interface{}) {
	switch e := e.(type) {
	case connectEvent:
		m.dialing--
		if e.err != nil {
			m.log.Debugf("cannot connect to %s: %s", e.peer.Key(), e.err)
			m.listener.OnConnectionFailed(e.peer, e.err)
			return
		}
		m.startConn(e.conn, e.peer, true)
	case registerEvent:
		addr, ok := e.conn.RemoteAddr().(*net.TCPAddr)
		if !ok {
			_ = e.conn.Close()
			return
		}
		p := peer.New(addr, m.config.Retry)
		p.Incoming = true
		pc := m.startConn(e.conn, p, false)
		if pc.Killed() {
			return
		}
		if err := pc.HandleHandshake(e.handshake); err != nil {
			pc.Kill(err)
		}
	case readEvent:
		pc := e.sock.pc
		if pc.Killed() {
			return
		}
		var err error
		if h, ok := e.msg.(*peerprotocol.Handshake); ok {
			err = pc.HandleHandshake(h)
		} else {
			err = pc.HandleMessage(e.msg)
		}
		if err != nil && !errors.Is(err, peerconn.ErrKilled) {
			pc.Logger().Errorln("closing connection:", err)
			pc.Kill(err)
		}
	case writeDoneEvent:
		pc := e.sock.pc
		if pc.Killed() {
			return
		}
		if err := pc.WriteDone(); err != nil && !errors.Is(err, peerconn.ErrKilled) {
			pc.Logger().Errorln("cannot serve request:", err)
			pc.Kill(err)
		}
	case errorEvent:
		pc := e.sock.pc
		if pc.Killed() {
			return
		}
		if isClosedError(e.err) {
			pc.Logger().Debugln("connection closed:", e.err)
		} else {
			pc.Logger().Errorln("connection error:", e.err)
		}
		pc.Kill(e.err)
	}
}

func isClosedError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

func (m *Multiplexer) startConn(conn net.Conn, p *peer.Peer, readHandshake bool) *peerconn.Conn {
	s := newSocket(conn, m.log)
	pc := peerconn.New(p, s, m.config.Store, m.config.InfoHash, m.config.PeerID, m.config.Conn)
	s.pc = pc
	m.conns[pc] = s
	pc.Subscribe(func(e peerconn.Event) {
		if _, ok := e.(peerconn.DisconnectEvent); ok {
			delete(m.conns, pc)
			m.listener.OnConnectionLost(pc)
		}
	})
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		s.readLoop(m.events, m.config.Store.NumPieces(), readHandshake, m.config.HandshakeTimeout, m.config.ReadBucket)
	}()
	go func() {
		defer m.wg.Done()
		s.writeLoop(m.events, m.config.WriteBucket)
	}()
	m.listener.OnNewConnection(pc)
	return pc
}

// Close kills every connection, cancels pending dials and waits for socket goroutines to exit.
func (m *Multiplexer) Close() {
	if m.closed {
		return
	}
	m.closed = true
	close(m.closeC)
	m.cancel()
	for pc := range m.conns {
		pc.Kill(nil)
	}
	m.wg.Wait()
	// drain connects that finished before closeC was closed
	for {
		select {
		case e := <-m.events:
			switch e := e.(type) {
			case connectEvent:
				if e.conn != nil {
					_ = e.conn.Close()
				}
			case registerEvent:
				_ = e.conn.Close()
			}
		default:
			return
		}
	}
}
