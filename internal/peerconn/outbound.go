package peerconn

import (
	"github.com/cascadebt/cascade/internal/bitfield"
	"github.com/cascadebt/cascade/internal/peerprotocol"
	"github.com/cascadebt/cascade/internal/piece"
)

// SendHandshake queues our handshake. It must be the first message sent.
func (c *Conn) SendHandshake() error {
	if c.killed {
		return ErrKilled
	}
	if c.handshakeSent {
		return ErrHandshakeSent
	}
	b, _ := peerprotocol.Handshake{InfoHash: c.infoHash, PeerID: c.peerID}.MarshalBinary()
	c.handshakeSent = true
	c.enqueueFrame(b)
	return nil
}

// SendBitfield queues a bitfield message with the pieces we have.
func (c *Conn) SendBitfield(bf *bitfield.BitField) {
	data := make([]byte, len(bf.Bytes()))
	copy(data, bf.Bytes())
	c.send(peerprotocol.BitfieldMessage{Data: data})
}

// SendHave announces a new piece to the peer.
func (c *Conn) SendHave(index uint32) {
	c.send(peerprotocol.HaveMessage{Index: index})
}

// SetAmInterested sends interested or not interested if the value changes.
func (c *Conn) SetAmInterested(v bool) {
	if c.amInterested == v {
		return
	}
	c.amInterested = v
	if v {
		c.send(peerprotocol.InterestedMessage{})
	} else {
		c.send(peerprotocol.NotInterestedMessage{})
	}
}

// SetAmChoking sends choke or unchoke if the value changes.
func (c *Conn) SetAmChoking(v bool) {
	if c.amChoking == v {
		return
	}
	c.amChoking = v
	if v {
		c.send(peerprotocol.ChokeMessage{})
	} else {
		c.send(peerprotocol.UnchokeMessage{})
	}
}

// Download starts downloading p from the peer. The piece is locked until it completes or the connection is killed.
// Requests start at the piece's completion offset and are pipelined up to the configured window.
func (c *Conn) Download(p *piece.Piece) error {
	if c.killed {
		return ErrKilled
	}
	if c.download != nil {
		return ErrAlreadyDownloading
	}
	if err := c.store.Lock(p.Index); err != nil {
		return err
	}
	c.download = &download{piece: p, next: p.Completion()}
	c.requestBlocks()
	return nil
}

func (c *Conn) requestBlocks() {
	d := c.download
	if d == nil || c.peerChoking {
		return
	}
	if completion := d.piece.Completion(); d.next < completion {
		d.next = completion
	}
	for len(d.requested) < c.config.RequestPipeline && d.next < d.piece.Length {
		length := d.piece.Length - d.next
		if length > c.config.MaxBlockSize {
			length = c.config.MaxBlockSize
		}
		c.send(peerprotocol.RequestMessage{Index: d.piece.Index, Begin: d.next, Length: length})
		d.requested = append(d.requested, blockRequest{d.next, length})
		d.next += length
	}
}

func (c *Conn) send(msg peerprotocol.Message) {
	b, err := peerprotocol.Frame(msg)
	if err != nil {
		c.log.Errorf("cannot encode %s message: %s", msg.ID(), err)
		return
	}
	c.enqueueFrame(b)
}

func (c *Conn) enqueueFrame(b []byte) {
	if c.killed {
		return
	}
	c.outbox = append(c.outbox, b)
	if !c.writing {
		if err := c.pump(); err != nil {
			c.Kill(err)
		}
	}
}

// WriteDone must be called when the frame passed to Socket.Send is written.
// The next queued frame, or a block for the newest upload request, is passed to the socket.
func (c *Conn) WriteDone() error {
	if c.killed {
		return ErrKilled
	}
	c.writing = false
	return c.pump()
}

func (c *Conn) pump() error {
	if c.writing || c.killed {
		return nil
	}
	if len(c.outbox) == 0 && len(c.requests) > 0 {
		if err := c.serveRequest(); err != nil {
			return err
		}
	}
	if len(c.outbox) == 0 {
		return nil
	}
	b := c.outbox[0]
	c.outbox[0] = nil
	c.outbox = c.outbox[1:]
	c.writing = true
	c.sock.Send(b)
	return nil
}

// serveRequest serves the most recent request first.
func (c *Conn) serveRequest() error {
	r := c.requests[len(c.requests)-1]
	c.requests = c.requests[:len(c.requests)-1]
	p, err := c.store.Piece(r.Index)
	if err != nil {
		return err
	}
	data := make([]byte, r.Length)
	if err = c.store.Read(p, data, r.Begin); err != nil {
		return err
	}
	b, err := peerprotocol.Frame(peerprotocol.PieceMessage{Index: r.Index, Begin: r.Begin, Data: data})
	if err != nil {
		return err
	}
	c.uploaded += int64(r.Length)
	c.outbox = append(c.outbox, b)
	c.notify(UploadEvent{source{c}, r.Index, r.Begin, r.Length})
	return nil
}
