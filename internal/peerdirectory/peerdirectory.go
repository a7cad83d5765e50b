// Package peerdirectory keeps the set of known peers of a torrent split into
// disconnected peers, peers being dialed and live connections.
// A peer is in at most one of these sets at a time.
package peerdirectory

import (
	"sync"
	"time"

	"github.com/cascadebt/cascade/internal/peer"
)

// Connection is a live connection to a peer.
type Connection interface {
	Peer() *peer.Peer
}

// Directory is safe for concurrent use.
// Tracker and acceptor goroutines add peers while the torrent loop dials and connects them.
type Directory struct {
	m            sync.Mutex
	disconnected []*peer.Peer
	connecting   map[string]*peer.Peer
	connections  []Connection
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{connecting: make(map[string]*peer.Peer)}
}

func indexOfPeer(l []*peer.Peer, key string) int {
	for i, p := range l {
		if p.Key() == key {
			return i
		}
	}
	return -1
}

func (d *Directory) indexOfConnection(key string) int {
	for i, c := range d.connections {
		if c.Peer().Key() == key {
			return i
		}
	}
	return -1
}

// AddPeer adds p to the disconnected set.
// It returns false if a peer with the same address is already connected or known as disconnected.
// A peer that was being dialed is moved back to the disconnected set.
func (d *Directory) AddPeer(p *peer.Peer) bool {
	d.m.Lock()
	defer d.m.Unlock()
	key := p.Key()
	if d.indexOfConnection(key) >= 0 {
		return false
	}
	if indexOfPeer(d.disconnected, key) >= 0 {
		return false
	}
	if _, ok := d.connecting[key]; ok {
		if d.connecting[key] != p {
			return false
		}
		delete(d.connecting, key)
	}
	d.disconnected = append(d.disconnected, p)
	return true
}

// RemovePeer forgets p if it is disconnected or being dialed.
func (d *Directory) RemovePeer(p *peer.Peer) {
	d.m.Lock()
	defer d.m.Unlock()
	key := p.Key()
	if i := indexOfPeer(d.disconnected, key); i >= 0 {
		d.disconnected = append(d.disconnected[:i], d.disconnected[i+1:]...)
	}
	delete(d.connecting, key)
}

// MarkConnecting moves p from the disconnected set to the set of peers being dialed.
// Peers being dialed count against the connection limit.
func (d *Directory) MarkConnecting(p *peer.Peer) {
	d.m.Lock()
	defer d.m.Unlock()
	key := p.Key()
	if i := indexOfPeer(d.disconnected, key); i >= 0 {
		d.disconnected = append(d.disconnected[:i], d.disconnected[i+1:]...)
	}
	d.connecting[key] = p
}

// ResetConnecting moves every peer being dialed back to the disconnected set.
// It is used when pending dials are cancelled.
func (d *Directory) ResetConnecting() {
	d.m.Lock()
	defer d.m.Unlock()
	for key, p := range d.connecting {
		delete(d.connecting, key)
		if indexOfPeer(d.disconnected, key) < 0 {
			d.disconnected = append(d.disconnected, p)
		}
	}
}

// AddConnection records a live connection, removing its peer from the other sets.
func (d *Directory) AddConnection(c Connection) {
	d.m.Lock()
	defer d.m.Unlock()
	key := c.Peer().Key()
	if i := indexOfPeer(d.disconnected, key); i >= 0 {
		d.disconnected = append(d.disconnected[:i], d.disconnected[i+1:]...)
	}
	delete(d.connecting, key)
	if d.indexOfConnection(key) < 0 {
		d.connections = append(d.connections, c)
	}
}

// RemoveConnection forgets a live connection.
func (d *Directory) RemoveConnection(c Connection) {
	d.m.Lock()
	defer d.m.Unlock()
	for i, cc := range d.connections {
		if cc == c {
			d.connections = append(d.connections[:i], d.connections[i+1:]...)
			return
		}
	}
}

// HasConnection reports whether a connection to an address with key exists.
func (d *Directory) HasConnection(key string) bool {
	d.m.Lock()
	defer d.m.Unlock()
	return d.indexOfConnection(key) >= 0
}

// Connections returns a snapshot of live connections in the order they were added.
func (d *Directory) Connections() []Connection {
	d.m.Lock()
	defer d.m.Unlock()
	l := make([]Connection, len(d.connections))
	copy(l, d.connections)
	return l
}

// Disconnected returns a snapshot of disconnected peers in the order they were added.
func (d *Directory) Disconnected() []*peer.Peer {
	d.m.Lock()
	defer d.m.Unlock()
	l := make([]*peer.Peer, len(d.disconnected))
	copy(l, d.disconnected)
	return l
}

// Candidates returns at most limit disconnected peers whose back-off window has passed at now.
func (d *Directory) Candidates(now time.Time, limit int) []*peer.Peer {
	d.m.Lock()
	defer d.m.Unlock()
	var l []*peer.Peer
	for _, p := range d.disconnected {
		if len(l) >= limit {
			break
		}
		if p.ShouldTryConnection(now) {
			l = append(l, p)
		}
	}
	return l
}

// ConnectedCount returns the number of live connections.
func (d *Directory) ConnectedCount() int {
	d.m.Lock()
	defer d.m.Unlock()
	return len(d.connections)
}

// ConnectingCount returns the number of peers being dialed.
func (d *Directory) ConnectingCount() int {
	d.m.Lock()
	defer d.m.Unlock()
	return len(d.connecting)
}

// DisconnectedCount returns the number of disconnected peers.
func (d *Directory) DisconnectedCount() int {
	d.m.Lock()
	defer d.m.Unlock()
	return len(d.disconnected)
}
