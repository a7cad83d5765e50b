// Package piecepicker assigns missing pieces to connections.
//
// Each connection downloads at most one piece at a time and each piece is downloaded from at most one connection.
// The first piece the peer has and we are missing is chosen; availability among peers is not considered.
package piecepicker

import (
	"github.com/cascadebt/cascade/internal/bitfield"
	"github.com/cascadebt/cascade/internal/logger"
	"github.com/cascadebt/cascade/internal/peerconn"
	"github.com/cascadebt/cascade/internal/piece"
)

// Store provides the local state of pieces.
type Store interface {
	BitField() *bitfield.BitField
	Piece(index uint32) (*piece.Piece, error)
}

// PiecePicker keeps the piece to connection assignment in both directions.
type PiecePicker struct {
	store  Store
	owners map[uint32]*peerconn.Conn
	pieces map[*peerconn.Conn]uint32
	log    logger.Logger
}

// New returns a PiecePicker with no assignments.
func New(store Store, l logger.Logger) *PiecePicker {
	return &PiecePicker{
		store:  store,
		owners: make(map[uint32]*peerconn.Conn),
		pieces: make(map[*peerconn.Conn]uint32),
		log:    l,
	}
}

// Schedule starts a download on every connection that is unchoked, idle and has a piece we need.
// It is called once per iteration of the torrent loop.
func (pp *PiecePicker) Schedule(conns []*peerconn.Conn) {
	missing := pp.store.BitField().Complement()
	if !missing.HasAnySet() {
		return
	}
	for _, c := range conns {
		if c.Killed() || !c.HandshakeReceived() || c.PeerChoking() {
			continue
		}
		if _, ok := c.Downloading(); ok {
			continue
		}
		if _, ok := pp.pieces[c]; ok {
			continue
		}
		needed, err := missing.Intersection(c.BitField())
		if err != nil {
			continue
		}
		index, ok := pp.pick(needed)
		if !ok {
			continue
		}
		p, err := pp.store.Piece(index)
		if err != nil {
			pp.log.Errorln("cannot get piece:", err)
			continue
		}
		if p.Complete() {
			pp.log.Warningf("piece %d is already complete", index)
			continue
		}
		if err = c.Download(p); err != nil {
			pp.log.Errorf("cannot start download of piece %d from %s: %s", index, c, err)
			continue
		}
		pp.assign(c, index)
	}
}

func (pp *PiecePicker) pick(needed *bitfield.BitField) (uint32, bool) {
	for i, ok := needed.FirstSet(0); ok; i, ok = needed.FirstSet(i + 1) {
		if _, claimed := pp.owners[i]; !claimed {
			return i, true
		}
	}
	return 0, false
}

func (pp *PiecePicker) assign(c *peerconn.Conn, index uint32) {
	pp.owners[index] = c
	pp.pieces[c] = index
	var sub *peerconn.Subscription
	sub = c.Subscribe(func(e peerconn.Event) {
		switch e.(type) {
		case peerconn.PieceCompleteEvent, peerconn.DisconnectEvent:
			sub.Cancel()
			pp.release(c)
		}
	})
}

func (pp *PiecePicker) release(c *peerconn.Conn) {
	index, ok := pp.pieces[c]
	if !ok {
		return
	}
	delete(pp.pieces, c)
	if pp.owners[index] == c {
		delete(pp.owners, index)
	}
}

// Assigned returns the connection downloading the piece at index.
func (pp *PiecePicker) Assigned(index uint32) (*peerconn.Conn, bool) {
	c, ok := pp.owners[index]
	return c, ok
}

// AssignmentOf returns the index of the piece assigned to c.
func (pp *PiecePicker) AssignmentOf(c *peerconn.Conn) (uint32, bool) {
	index, ok := pp.pieces[c]
	return index, ok
}

// NumAssigned returns the number of pieces being downloaded.
func (pp *PiecePicker) NumAssigned() int { return len(pp.owners) }
