package torrent

import (
	"errors"
	"time"

	"github.com/cascadebt/cascade/internal/bitfield"
	"github.com/cascadebt/cascade/internal/peer"
	"github.com/cascadebt/cascade/internal/peerconn"
	"github.com/cascadebt/cascade/internal/peerprotocol"
	"github.com/cascadebt/cascade/internal/piecestore"
)

var (
	errDuplicateConnection = errors.New("already connected to peer")
	errTooManyConnections  = errors.New("too many connections")
)

// connListener receives connection events of the multiplexer. All methods run in the loop goroutine.
type connListener struct {
	t *Torrent
}

func (l connListener) OnNewConnection(c *peerconn.Conn) {
	t := l.t
	if t.directory.HasConnection(c.Peer().Key()) {
		t.directory.RemovePeer(c.Peer())
		c.Kill(errDuplicateConnection)
		return
	}
	if t.directory.ConnectedCount() >= t.config.MaxConnections {
		c.Kill(errTooManyConnections)
		return
	}
	t.directory.AddConnection(c)
	c.Subscribe(t.handleEvent)
	if err := c.SendHandshake(); err != nil {
		c.Kill(err)
		return
	}
	c.Logger().Debugln("connected")
}

func (l connListener) OnConnectionFailed(p *peer.Peer, err error) {
	l.t.disconnected(p)
}

func (l connListener) OnConnectionLost(c *peerconn.Conn) {
	t := l.t
	t.directory.RemoveConnection(c)
	t.metrics.connectionsClosed.Inc(1)
	t.disconnected(c.Peer())
}

// disconnected puts p back in the dial queue unless it is forgotten.
func (t *Torrent) disconnected(p *peer.Peer) {
	p.RecordDisconnection(time.Now())
	if p.Incoming || p.ShouldForget(t.config.PeerForgetScore) {
		t.directory.RemovePeer(p)
		return
	}
	t.directory.AddPeer(p)
}

func (t *Torrent) handleEvent(e peerconn.Event) {
	c := e.Conn()
	switch e := e.(type) {
	case peerconn.HandshakeEvent:
		c.Peer().RecordConnection()
		if bf := t.store.BitField(); bf.HasAnySet() {
			c.SendBitfield(bf)
		}
	case peerconn.BitfieldEvent, peerconn.HaveEvent:
		t.updateInterest(c, t.store.BitField())
	case peerconn.BlockEvent:
		t.bytesDownloaded.Add(int64(e.Length))
		t.metrics.downloadSpeed.Update(int64(e.Length))
	case peerconn.UploadEvent:
		t.bytesUploaded.Add(int64(e.Length))
		t.metrics.uploadSpeed.Update(int64(e.Length))
	case peerconn.PieceCompleteEvent:
		t.metrics.piecesCompleted.Inc(1)
		have := t.store.BitField()
		for _, oc := range t.mux.Conns() {
			if oc.Killed() {
				continue
			}
			oc.SendHave(e.Index)
			t.updateInterest(oc, have)
		}
	case peerconn.DisconnectEvent:
		var pe *peerconn.ProtocolError
		var me *peerprotocol.MalformedMessageError
		var se *piecestore.StorageError
		switch {
		case errors.As(e.Err, &pe) || errors.As(e.Err, &me):
			t.metrics.protocolErrors.Inc(1)
		case errors.As(e.Err, &se):
			// Handled by the loop after Poll returns. The multiplexer cannot be closed from inside its own callback.
			if t.storageErr == nil {
				t.storageErr = e.Err
			}
		}
	}
}

// updateInterest tells the peer whether it has a piece we are missing.
func (t *Torrent) updateInterest(c *peerconn.Conn, have *bitfield.BitField) {
	if c.Killed() || !c.HandshakeReceived() {
		return
	}
	if t.committed {
		c.SetAmInterested(false)
		return
	}
	needed, err := have.Complement().Intersection(c.BitField())
	if err != nil {
		c.Logger().Errorln("cannot compare bitfields:", err)
		return
	}
	c.SetAmInterested(needed.HasAnySet())
}
