package unchoker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testPeer struct {
	handshake  bool
	interested bool
	choking    bool
	killed     bool
	calls      int
}

func (p *testPeer) HandshakeReceived() bool { return p.handshake }
func (p *testPeer) PeerInterested() bool    { return p.interested }
func (p *testPeer) AmChoking() bool         { return p.choking }
func (p *testPeer) Killed() bool            { return p.killed }
func (p *testPeer) SetAmChoking(value bool) {
	p.choking = value
	p.calls++
}

func TestUnchokeInterested(t *testing.T) {
	interested := &testPeer{handshake: true, interested: true, choking: true}
	notInterested := &testPeer{handshake: true, choking: true}
	noHandshake := &testPeer{interested: true, choking: true}
	killed := &testPeer{handshake: true, interested: true, choking: true, killed: true}
	peers := []Peer{interested, notInterested, noHandshake, killed}

	u := New()
	assert.Equal(t, 1, u.Schedule(peers))
	assert.False(t, interested.choking)
	assert.True(t, notInterested.choking)
	assert.True(t, noHandshake.choking)
	assert.True(t, killed.choking)

	// already unchoked peers are left alone
	assert.Equal(t, 0, u.Schedule(peers))
	assert.Equal(t, 1, interested.calls)
	assert.Equal(t, 1, u.NumUnchoked())
}

func TestNeverRechokes(t *testing.T) {
	pe := &testPeer{handshake: true, interested: true, choking: true}
	u := New()
	u.Schedule([]Peer{pe})
	pe.interested = false
	u.Schedule([]Peer{pe})
	assert.False(t, pe.choking)
	assert.Equal(t, 1, pe.calls)
}
