package peerconn

import (
	"github.com/cascadebt/cascade/internal/bitfield"
	"github.com/cascadebt/cascade/internal/peerprotocol"
)

// Event is delivered to subscribers of a Conn.
type Event interface {
	Conn() *Conn
}

type source struct{ c *Conn }

func (s source) Conn() *Conn { return s.c }

// HandshakeEvent is emitted after a valid handshake is received.
type HandshakeEvent struct {
	source
	PeerID [20]byte
}

// ChokeEvent is emitted when the peer chokes us.
type ChokeEvent struct{ source }

// UnchokeEvent is emitted when the peer unchokes us.
type UnchokeEvent struct{ source }

// InterestedEvent is emitted when the peer becomes interested in our pieces.
type InterestedEvent struct{ source }

// NotInterestedEvent is emitted when the peer is no longer interested in our pieces.
type NotInterestedEvent struct{ source }

// HaveEvent is emitted when the peer announces a new piece.
type HaveEvent struct {
	source
	Index uint32
}

// BitfieldEvent is emitted when the peer sends its bitfield.
// BitField is the remote bitfield after the union.
type BitfieldEvent struct {
	source
	BitField *bitfield.BitField
}

// BlockEvent is emitted after a received block is stored.
type BlockEvent struct {
	source
	Index, Begin, Length uint32
}

// RequestEvent is emitted when a valid block request is queued for upload.
type RequestEvent struct {
	source
	Request peerprotocol.RequestMessage
}

// UploadEvent is emitted when a requested block is read from the store and queued for sending.
type UploadEvent struct {
	source
	Index, Begin, Length uint32
}

// PieceCompleteEvent is emitted when the piece being downloaded from this connection is complete and verified.
type PieceCompleteEvent struct {
	source
	Index uint32
}

// DisconnectEvent is emitted once when the connection is killed.
// Err is the reason, nil if the connection was closed locally.
type DisconnectEvent struct {
	source
	Err error
}

// Subscription is returned from Subscribe.
type Subscription struct {
	fn        func(Event)
	cancelled bool
}

// Cancel stops delivery of events to the subscriber. Safe to call from inside the subscriber.
func (s *Subscription) Cancel() { s.cancelled = true }

// Subscribe registers fn to be called for every event of the connection.
// Subscribers are called on the goroutine that drives the connection, in subscription order.
func (c *Conn) Subscribe(fn func(Event)) *Subscription {
	s := &Subscription{fn: fn}
	c.subscribers = append(c.subscribers, s)
	return s
}

func (c *Conn) notify(e Event) {
	subs := make([]*Subscription, len(c.subscribers))
	copy(subs, c.subscribers)
	for _, s := range subs {
		if !s.cancelled {
			s.fn(e)
		}
	}
	l := c.subscribers[:0]
	for _, s := range c.subscribers {
		if !s.cancelled {
			l = append(l, s)
		}
	}
	c.subscribers = l
}
