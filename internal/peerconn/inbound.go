package peerconn

import (
	"errors"

	"github.com/cascadebt/cascade/internal/bitfield"
	"github.com/cascadebt/cascade/internal/peerprotocol"
	"github.com/cascadebt/cascade/internal/piece"
)

// HandleHandshake processes the handshake received from the peer.
func (c *Conn) HandleHandshake(h *peerprotocol.Handshake) error {
	if c.killed {
		return ErrKilled
	}
	if c.handshakeReceived {
		return violation("duplicate handshake")
	}
	if h.InfoHash != c.infoHash {
		return violation("info hash mismatch")
	}
	c.handshakeReceived = true
	c.peer.SetID(h.PeerID)
	c.notify(HandshakeEvent{source{c}, h.PeerID})
	return nil
}

// HandleMessage processes a message read from the peer.
// A non-nil error means the peer misbehaved or the store failed and the connection must be killed.
func (c *Conn) HandleMessage(msg interface{}) error {
	if c.killed {
		return ErrKilled
	}
	if !c.handshakeReceived {
		return violation("message before handshake")
	}
	switch msg := msg.(type) {
	case peerprotocol.KeepAliveMessage:
	case peerprotocol.ChokeMessage:
		c.onChoke()
	case peerprotocol.UnchokeMessage:
		c.onUnchoke()
	case peerprotocol.InterestedMessage:
		c.peerInterested = true
		c.notify(InterestedEvent{source{c}})
	case peerprotocol.NotInterestedMessage:
		c.peerInterested = false
		c.notify(NotInterestedEvent{source{c}})
	case peerprotocol.HaveMessage:
		return c.onHave(msg.Index)
	case peerprotocol.BitfieldMessage:
		return c.onBitfield(msg.Data)
	case peerprotocol.RequestMessage:
		return c.onRequest(msg)
	case peerprotocol.CancelMessage:
		c.onCancel(msg.RequestMessage)
	case peerprotocol.PieceMessage:
		return c.onBlock(msg)
	default:
		return violation("unexpected message: %T", msg)
	}
	return nil
}

func (c *Conn) onChoke() {
	c.peerChoking = true
	// A choking peer discards our pending requests. They are sent again after unchoke.
	if d := c.download; d != nil {
		d.discarded = append(d.discarded, d.requested...)
		d.requested = nil
		d.next = d.piece.Completion()
	}
	c.notify(ChokeEvent{source{c}})
}

func (c *Conn) onUnchoke() {
	c.peerChoking = false
	c.notify(UnchokeEvent{source{c}})
	c.requestBlocks()
}

func (c *Conn) onHave(index uint32) error {
	if index >= c.bitfield.Len() {
		return violation("have index %d out of range", index)
	}
	c.bitfield.Set(index)
	c.notify(HaveEvent{source{c}, index})
	return nil
}

func (c *Conn) onBitfield(b []byte) error {
	bf, err := bitfield.NewBytes(b, c.bitfield.Len())
	if err != nil {
		return violation("bitfield of %d bytes for %d pieces", len(b), c.bitfield.Len())
	}
	if err = c.bitfield.Union(bf); err != nil {
		return err
	}
	if c.bitfield.All() {
		c.log.Debug("peer is a seeder")
	}
	c.notify(BitfieldEvent{source{c}, c.bitfield})
	return nil
}

func (c *Conn) onBlock(msg peerprotocol.PieceMessage) error {
	d := c.download
	if d == nil {
		return violation("unexpected block of piece %d", msg.Index)
	}
	if msg.Index != d.piece.Index {
		return violation("block of piece %d while downloading piece %d", msg.Index, d.piece.Index)
	}
	length := uint32(len(msg.Data))
	if !d.take(blockRequest{msg.Begin, length}) {
		return violation("block [%d, %d) of piece %d was not requested", msg.Begin, uint64(msg.Begin)+uint64(length), msg.Index)
	}
	err := c.store.Write(d.piece, msg.Begin, msg.Data)
	if errors.Is(err, piece.ErrStale) {
		// Requests sent again after a choke may be answered twice.
		c.log.Debugf("duplicate block of piece %d at offset %d", msg.Index, msg.Begin)
		c.requestBlocks()
		return nil
	}
	if err != nil {
		return err
	}
	c.downloaded += int64(len(msg.Data))
	c.notify(BlockEvent{source{c}, msg.Index, msg.Begin, length})
	if c.download != d {
		// killed by a subscriber
		return nil
	}
	if d.piece.Complete() {
		c.download = nil
		if err = c.store.Unlock(d.piece.Index); err != nil {
			return err
		}
		c.notify(PieceCompleteEvent{source{c}, d.piece.Index})
		return nil
	}
	c.requestBlocks()
	return nil
}

// Requests are validated in this order: queue bound, block size, piece index, piece completeness, piece bounds.
func (c *Conn) onRequest(msg peerprotocol.RequestMessage) error {
	if len(c.requests) >= c.config.MaxRequestQueue {
		return violation("request queue is full")
	}
	if msg.Length > c.config.MaxBlockSize {
		return violation("requested block length %d is larger than %d", msg.Length, c.config.MaxBlockSize)
	}
	p, err := c.store.Piece(msg.Index)
	if err != nil {
		return violation("requested piece %d does not exist", msg.Index)
	}
	if !p.Complete() {
		return violation("requested piece %d is not complete", msg.Index)
	}
	if uint64(msg.Begin)+uint64(msg.Length) > uint64(p.Length) {
		return violation("request [%d, %d) is out of bounds of piece %d", msg.Begin, msg.Begin+msg.Length, msg.Index)
	}
	c.requests = append(c.requests, msg)
	c.notify(RequestEvent{source{c}, msg})
	if !c.killed && !c.writing {
		return c.pump()
	}
	return nil
}

func (c *Conn) onCancel(msg peerprotocol.RequestMessage) {
	for i, r := range c.requests {
		if r == msg {
			c.requests = append(c.requests[:i], c.requests[i+1:]...)
			return
		}
	}
}
