// Package acceptor accepts incoming peer connections of a torrent.
package acceptor

import (
	"net"
	"sync"
	"time"

	"github.com/cascadebt/cascade/internal/logger"
	"github.com/cascadebt/cascade/internal/peerprotocol"
)

// Accepted is an incoming connection whose handshake matched the torrent.
type Accepted struct {
	Conn      net.Conn
	Handshake *peerprotocol.Handshake
}

// Handler takes ownership of an accepted connection.
// It is called from the goroutine that read the handshake.
type Handler func(Accepted)

// Acceptor reads the handshake of every incoming connection in a separate goroutine
// and passes the connection to the handler if the info hash matches.
type Acceptor struct {
	listener         net.Listener
	infoHash         [20]byte
	handshakeTimeout time.Duration
	handler          Handler
	closeC           chan struct{}
	doneC            chan struct{}
	closeOnce        sync.Once
	wg               sync.WaitGroup
	log              logger.Logger
}

// New returns an Acceptor for the torrent identified by infoHash.
// Zero handshakeTimeout waits for the handshake forever.
func New(l net.Listener, infoHash [20]byte, handshakeTimeout time.Duration, h Handler, log logger.Logger) *Acceptor {
	return &Acceptor{
		listener:         l,
		infoHash:         infoHash,
		handshakeTimeout: handshakeTimeout,
		handler:          h,
		closeC:           make(chan struct{}),
		doneC:            make(chan struct{}),
		log:              log,
	}
}

// Listen opens a TCP listener on port. Zero port picks a random one.
func Listen(port int) (*net.TCPListener, error) {
	return net.ListenTCP("tcp4", &net.TCPAddr{Port: port})
}

// Addr returns the listening address.
func (a *Acceptor) Addr() net.Addr { return a.listener.Addr() }

// Run accepts connections until Close is called.
func (a *Acceptor) Run() {
	defer close(a.doneC)
	defer a.wg.Wait()
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.closeC:
			default:
				a.log.Error(err)
			}
			return
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.handleConn(conn)
		}()
	}
}

func (a *Acceptor) handleConn(conn net.Conn) {
	log := logger.New("peer <- " + conn.RemoteAddr().String())
	var deadline time.Time
	if a.handshakeTimeout > 0 {
		deadline = time.Now().Add(a.handshakeTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		log.Error(err)
		_ = conn.Close()
		return
	}
	// Stop unblocks the read by closing the socket.
	stopped := make(chan struct{})
	go func() {
		select {
		case <-a.closeC:
			_ = conn.Close()
		case <-stopped:
		}
	}()
	h, err := peerprotocol.ReadHandshake(conn)
	close(stopped)
	if err != nil {
		log.Debugln("cannot read handshake:", err)
		_ = conn.Close()
		return
	}
	if h.InfoHash != a.infoHash {
		log.Debugf("unknown info hash: %x", h.InfoHash)
		_ = conn.Close()
		return
	}
	if err = conn.SetReadDeadline(time.Time{}); err != nil {
		log.Error(err)
		_ = conn.Close()
		return
	}
	select {
	case <-a.closeC:
		_ = conn.Close()
	default:
		a.handler(Accepted{Conn: conn, Handshake: h})
	}
}

// Close stops accepting, closes connections whose handshake is not read yet and waits for goroutines to exit.
// A handler that blocks delays Close.
// Run must be started before calling Close.
func (a *Acceptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.closeC)
		err = a.listener.Close()
	})
	<-a.doneC
	return err
}
