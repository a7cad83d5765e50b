// Package unchoker decides which peers may download from us.
package unchoker

// Peer of a torrent.
type Peer interface {
	// HandshakeReceived returns true after the remote handshake is processed.
	HandshakeReceived() bool
	// PeerInterested returns interest status of remote peer.
	PeerInterested() bool
	// AmChoking returns choke status of local peer.
	AmChoking() bool
	// SetAmChoking sends a choke or unchoke message when the status changes.
	SetAmChoking(value bool)
	Killed() bool
}

// Unchoker unchokes every interested peer.
// It never chokes a peer again; there is no reciprocation or rotation of upload slots.
type Unchoker struct {
	numUnchoked int
}

// New returns a new Unchoker.
func New() *Unchoker {
	return &Unchoker{}
}

// Schedule must be called once per iteration of the torrent loop.
// It returns the number of peers unchoked in this round.
func (u *Unchoker) Schedule(peers []Peer) int {
	var n int
	for _, pe := range peers {
		if pe.Killed() || !pe.HandshakeReceived() {
			continue
		}
		if pe.PeerInterested() && pe.AmChoking() {
			pe.SetAmChoking(false)
			n++
		}
	}
	u.numUnchoked += n
	return n
}

// NumUnchoked returns the total number of unchokes since the Unchoker is created.
func (u *Unchoker) NumUnchoked() int { return u.numUnchoked }
