// Package peerconn implements the per-peer protocol state machine.
// A Conn is not safe for concurrent use; it is owned by the goroutine running the torrent loop.
// Socket I/O happens elsewhere and is fed into the Conn with HandleHandshake, HandleMessage and WriteDone.
package peerconn

import (
	"errors"
	"fmt"
	"net"

	"github.com/cascadebt/cascade/internal/bitfield"
	"github.com/cascadebt/cascade/internal/logger"
	"github.com/cascadebt/cascade/internal/peer"
	"github.com/cascadebt/cascade/internal/peerprotocol"
	"github.com/cascadebt/cascade/internal/piece"
)

var (
	// ErrHandshakeSent is returned when sending a second handshake.
	ErrHandshakeSent = errors.New("handshake already sent")
	// ErrAlreadyDownloading is returned when starting a download on a busy connection.
	ErrAlreadyDownloading = errors.New("connection is already downloading a piece")
	// ErrKilled is returned from operations on a killed connection.
	ErrKilled = errors.New("connection is killed")
)

// ProtocolError is returned when the peer violates the protocol. The connection must be killed.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol violation: " + e.Reason
}

func violation(format string, args ...interface{}) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// Socket is the transport of a connection.
type Socket interface {
	// Send hands a complete frame to the writer.
	// It is called again only after the Conn is told with WriteDone that the previous frame is written.
	Send(frame []byte)
	Close() error
	RemoteAddr() net.Addr
}

// Store is the part of the piece store a connection reads from and writes to.
type Store interface {
	NumPieces() uint32
	Piece(index uint32) (*piece.Piece, error)
	Lock(index uint32) error
	Unlock(index uint32) error
	Write(p *piece.Piece, offset uint32, data []byte) error
	Read(p *piece.Piece, buf []byte, offset uint32) error
}

// Config of a connection.
type Config struct {
	// Number of block requests kept outstanding while downloading a piece.
	RequestPipeline int
	// Number of queued upload requests. A peer sending more is disconnected.
	MaxRequestQueue int
	// Largest block length that is requested or served.
	MaxBlockSize uint32
}

// DefaultConfig is used when a zero Config is passed to New.
var DefaultConfig = Config{
	RequestPipeline: 5,
	MaxRequestQueue: 10,
	MaxBlockSize:    peerprotocol.MaxBlockSize,
}

type blockRequest struct {
	begin, length uint32
}

type download struct {
	piece *piece.Piece
	next  uint32 // offset of the next block to request
	// requests waiting for a response
	requested []blockRequest
	// requests sent before the peer choked us; the peer may still answer them
	discarded []blockRequest
}

// take removes r from the outstanding requests and reports whether it was there.
func (d *download) take(r blockRequest) bool {
	return removeRequest(&d.requested, r) || removeRequest(&d.discarded, r)
}

func removeRequest(l *[]blockRequest, r blockRequest) bool {
	for i, x := range *l {
		if x == r {
			*l = append((*l)[:i], (*l)[i+1:]...)
			return true
		}
	}
	return false
}

// Conn is the protocol state of a connection to one peer of a torrent.
type Conn struct {
	peer     *peer.Peer
	sock     Socket
	store    Store
	infoHash [20]byte
	peerID   [20]byte
	config   Config
	log      logger.Logger

	handshakeSent     bool
	handshakeReceived bool
	amChoking         bool
	amInterested      bool
	peerChoking       bool
	peerInterested    bool
	bitfield          *bitfield.BitField

	outbox   [][]byte
	writing  bool
	requests []peerprotocol.RequestMessage
	download *download

	subscribers []*Subscription
	killed      bool

	downloaded int64
	uploaded   int64
}

// New returns a connection to p over sock for the torrent identified by infoHash.
// peerID is our own id, sent in the handshake.
func New(p *peer.Peer, sock Socket, store Store, infoHash, peerID [20]byte, cfg Config) *Conn {
	if cfg.RequestPipeline <= 0 {
		cfg.RequestPipeline = DefaultConfig.RequestPipeline
	}
	if cfg.MaxRequestQueue <= 0 {
		cfg.MaxRequestQueue = DefaultConfig.MaxRequestQueue
	}
	if cfg.MaxBlockSize == 0 {
		cfg.MaxBlockSize = DefaultConfig.MaxBlockSize
	}
	return &Conn{
		peer:        p,
		sock:        sock,
		store:       store,
		infoHash:    infoHash,
		peerID:      peerID,
		config:      cfg,
		log:         logger.New("peer " + p.Key()),
		amChoking:   true,
		peerChoking: true,
		bitfield:    bitfield.New(store.NumPieces()),
	}
}

func (c *Conn) String() string { return c.peer.Key() }

// Peer returns the remote peer.
func (c *Conn) Peer() *peer.Peer { return c.peer }

// Logger returns the logger of the connection.
func (c *Conn) Logger() logger.Logger { return c.log }

// HandshakeSent reports whether our handshake is queued.
func (c *Conn) HandshakeSent() bool { return c.handshakeSent }

// HandshakeReceived reports whether the peer's handshake is received.
func (c *Conn) HandshakeReceived() bool { return c.handshakeReceived }

// AmChoking reports whether we are choking the peer.
func (c *Conn) AmChoking() bool { return c.amChoking }

// AmInterested reports whether we are interested in the peer's pieces.
func (c *Conn) AmInterested() bool { return c.amInterested }

// PeerChoking reports whether the peer is choking us.
func (c *Conn) PeerChoking() bool { return c.peerChoking }

// PeerInterested reports whether the peer is interested in our pieces.
func (c *Conn) PeerInterested() bool { return c.peerInterested }

// BitField returns the pieces the peer announced. Do not modify.
func (c *Conn) BitField() *bitfield.BitField { return c.bitfield }

// Downloading returns the index of the piece being downloaded.
func (c *Conn) Downloading() (uint32, bool) {
	if c.download == nil {
		return 0, false
	}
	return c.download.piece.Index, true
}

// Inflight returns the number of block requests waiting for a response.
func (c *Conn) Inflight() int {
	if c.download == nil {
		return 0
	}
	return len(c.download.requested)
}

// QueuedRequests returns the number of upload requests waiting to be served.
func (c *Conn) QueuedRequests() int { return len(c.requests) }

// Writing reports whether a frame is handed to the socket and not yet written.
func (c *Conn) Writing() bool { return c.writing }

// Killed reports whether the connection is killed.
func (c *Conn) Killed() bool { return c.killed }

// BytesDownloaded returns the number of piece bytes received and stored.
func (c *Conn) BytesDownloaded() int64 { return c.downloaded }

// BytesUploaded returns the number of piece bytes handed to the socket.
func (c *Conn) BytesUploaded() int64 { return c.uploaded }

// Kill closes the socket, releases the piece being downloaded and notifies subscribers with a DisconnectEvent.
// Subscriptions are dropped afterwards. Calling Kill more than once has no effect.
func (c *Conn) Kill(reason error) {
	if c.killed {
		return
	}
	c.killed = true
	if err := c.sock.Close(); err != nil {
		c.log.Debugln("close error:", err)
	}
	if c.download != nil {
		if err := c.store.Unlock(c.download.piece.Index); err != nil {
			c.log.Errorf("cannot unlock piece %d: %s", c.download.piece.Index, err)
		}
		c.download = nil
	}
	c.outbox = nil
	c.requests = nil
	if reason != nil {
		c.log.Debugln("killed:", reason)
	}
	c.notify(DisconnectEvent{source{c}, reason})
	for _, s := range c.subscribers {
		s.cancelled = true
	}
	c.subscribers = nil
}
