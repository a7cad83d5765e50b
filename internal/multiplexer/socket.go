package multiplexer

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/cascadebt/cascade/internal/logger"
	"github.com/cascadebt/cascade/internal/peerconn"
	"github.com/cascadebt/cascade/internal/peerprotocol"
	"github.com/juju/ratelimit"
)

const (
	// time to wait for a message. peer must send keep-alive messages to keep connection alive.
	readTimeout     = 2 * time.Minute
	writeTimeout    = 30 * time.Second
	keepAlivePeriod = time.Minute
)

// socket moves bytes between a net.Conn and the loop.
// The reader goroutine posts decoded messages, the writer goroutine writes one frame at a time and posts when it is done.
type socket struct {
	conn   net.Conn
	pc     *peerconn.Conn
	sendC  chan []byte
	closeC chan struct{}
	once   sync.Once
	log    logger.Logger
}

var _ peerconn.Socket = (*socket)(nil)

func newSocket(conn net.Conn, l logger.Logger) *socket {
	return &socket{
		conn:   conn,
		sendC:  make(chan []byte, 1),
		closeC: make(chan struct{}),
		log:    l,
	}
}

// Send never blocks because the Conn waits for WriteDone before sending the next frame.
func (s *socket) Send(b []byte) {
	s.sendC <- b
}

func (s *socket) Close() error {
	err := errAlreadyClosed
	s.once.Do(func() {
		close(s.closeC)
		err = s.conn.Close()
	})
	return err
}

func (s *socket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

type readEvent struct {
	sock *socket
	msg  interface{}
}

type writeDoneEvent struct {
	sock *socket
}

type errorEvent struct {
	sock *socket
	err  error
}

func (s *socket) post(events chan<- interface{}, e interface{}) bool {
	select {
	case events <- e:
		return true
	case <-s.closeC:
		return false
	}
}

func (s *socket) readLoop(events chan<- interface{}, numPieces uint32, readHandshake bool, handshakeTimeout time.Duration, bucket *ratelimit.Bucket) {
	var r io.Reader = s.conn
	if bucket != nil {
		r = ratelimit.Reader(r, bucket)
	}
	if readHandshake {
		var deadline time.Time
		if handshakeTimeout > 0 {
			deadline = time.Now().Add(handshakeTimeout)
		}
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			s.post(events, errorEvent{s, err})
			return
		}
		h, err := peerprotocol.ReadHandshake(r)
		if err != nil {
			s.post(events, errorEvent{s, err})
			return
		}
		if !s.post(events, readEvent{s, h}) {
			return
		}
	}
	mr := peerprotocol.NewReader(r, numPieces)
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			s.post(events, errorEvent{s, err})
			return
		}
		msg, err := mr.ReadMessage()
		if err != nil {
			s.post(events, errorEvent{s, err})
			return
		}
		if _, ok := msg.(peerprotocol.KeepAliveMessage); ok {
			continue
		}
		if !s.post(events, readEvent{s, msg}) {
			return
		}
	}
}

func (s *socket) writeLoop(events chan<- interface{}, bucket *ratelimit.Bucket) {
	var w io.Writer = s.conn
	if bucket != nil {
		w = ratelimit.Writer(w, bucket)
	}
	keepAliveTicker := time.NewTicker(keepAlivePeriod)
	defer keepAliveTicker.Stop()

	write := func(b []byte) error {
		if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		_, err := w.Write(b)
		return err
	}
	for {
		select {
		case b := <-s.sendC:
			if err := write(b); err != nil {
				s.post(events, errorEvent{s, err})
				return
			}
			if !s.post(events, writeDoneEvent{s}) {
				return
			}
		case <-keepAliveTicker.C:
			if err := write(peerprotocol.KeepAliveFrame); err != nil {
				s.post(events, errorEvent{s, err})
				return
			}
		case <-s.closeC:
			return
		}
	}
}
