// Package peer describes a remote BitTorrent peer and decides when it is worth dialing again.
package peer

import (
	"encoding/hex"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v3"
)

// RetryConfig controls the reconnect back-off window of a peer.
type RetryConfig struct {
	// Wait time after the first disconnect.
	Initial time.Duration
	// Upper bound of the wait time between attempts.
	Max time.Duration
}

// Peer is a remote endpoint known from a tracker or an incoming connection.
// A Peer is identified by address and port. The peer id is known only after a handshake.
type Peer struct {
	Addr *net.TCPAddr
	ID   [20]byte

	// Incoming peers connected to us. Their port is not a listening port and they are never dialed.
	Incoming bool

	hasID          bool
	score          int
	lastDisconnect time.Time
	nextTry        time.Time
	backoff        *backoff.ExponentialBackOff
}

// New returns a Peer for addr with score 0 that can be dialed immediately.
func New(addr *net.TCPAddr, cfg RetryConfig) *Peer {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.Initial,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         cfg.Max,
		MaxElapsedTime:      0, // never stop
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return &Peer{Addr: addr, backoff: b}
}

// Key identifies the peer in collections. It is the "host:port" string of its address.
func (p *Peer) Key() string { return p.Addr.String() }

func (p *Peer) String() string {
	if !p.hasID {
		return p.Key()
	}
	return p.Key() + " " + hex.EncodeToString(p.ID[:])
}

// SetID records the peer id received in the handshake.
func (p *Peer) SetID(id [20]byte) {
	p.ID = id
	p.hasID = true
}

// HasID reports whether the peer id is known.
func (p *Peer) HasID() bool { return p.hasID }

// Score is incremented on each successful handshake and decremented on each disconnect.
func (p *Peer) Score() int { return p.score }

// LastDisconnect returns the time of the last recorded disconnection.
func (p *Peer) LastDisconnect() time.Time { return p.lastDisconnect }

// RecordConnection is called after a successful handshake.
func (p *Peer) RecordConnection() {
	p.score++
	p.backoff.Reset()
	p.nextTry = time.Time{}
}

// RecordDisconnection is called when a connection to the peer is lost or cannot be established.
// The peer becomes eligible for a new attempt after an exponentially growing wait.
func (p *Peer) RecordDisconnection(now time.Time) {
	p.score--
	p.lastDisconnect = now
	if p.backoff.InitialInterval <= 0 {
		p.nextTry = now
		return
	}
	p.nextTry = now.Add(p.backoff.NextBackOff())
}

// NextTry returns the earliest time the peer may be dialed again.
func (p *Peer) NextTry() time.Time { return p.nextTry }

// ShouldTryConnection reports whether the back-off window since the last disconnection has passed.
func (p *Peer) ShouldTryConnection(now time.Time) bool {
	return !now.Before(p.nextTry)
}

// ShouldForget reports whether the score has dropped below threshold and the peer should be discarded.
func (p *Peer) ShouldForget(threshold int) bool {
	return p.score < threshold
}

// ParseAddr resolves a "host:port" string into a TCP address.
func ParseAddr(s string) (*net.TCPAddr, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return nil, err
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return net.ResolveTCPAddr("tcp", s)
	}
	return &net.TCPAddr{IP: ip, Port: int(n)}, nil
}
