package peerdirectory

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cascadebt/cascade/internal/peer"
	"github.com/stretchr/testify/assert"
)

type conn struct{ p *peer.Peer }

func (c *conn) Peer() *peer.Peer { return c.p }

func newPeer(port int) *peer.Peer {
	return peer.New(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}, peer.RetryConfig{Initial: time.Minute, Max: time.Hour})
}

func TestAddPeerDeduplicates(t *testing.T) {
	d := New()
	assert.True(t, d.AddPeer(newPeer(1)))
	assert.False(t, d.AddPeer(newPeer(1)))
	assert.True(t, d.AddPeer(newPeer(2)))
	assert.Equal(t, 2, d.DisconnectedCount())
}

func TestLifecycle(t *testing.T) {
	d := New()
	p := newPeer(1)
	d.AddPeer(p)

	d.MarkConnecting(p)
	assert.Equal(t, 0, d.DisconnectedCount())
	assert.Equal(t, 1, d.ConnectingCount())
	assert.False(t, d.AddPeer(newPeer(1)))

	c := &conn{p}
	d.AddConnection(c)
	assert.Equal(t, 0, d.ConnectingCount())
	assert.Equal(t, 1, d.ConnectedCount())
	assert.True(t, d.HasConnection(p.Key()))
	assert.False(t, d.AddPeer(p))
	assert.Equal(t, []Connection{c}, d.Connections())

	d.RemoveConnection(c)
	assert.Equal(t, 0, d.ConnectedCount())
	assert.True(t, d.AddPeer(p))
	assert.Equal(t, []*peer.Peer{p}, d.Disconnected())
}

func TestFailedDialReturnsPeer(t *testing.T) {
	d := New()
	p := newPeer(1)
	d.AddPeer(p)
	d.MarkConnecting(p)
	assert.True(t, d.AddPeer(p))
	assert.Equal(t, 0, d.ConnectingCount())
	assert.Equal(t, 1, d.DisconnectedCount())

	d.RemovePeer(p)
	assert.Equal(t, 0, d.DisconnectedCount())
}

func TestCandidatesSkipsBackoff(t *testing.T) {
	d := New()
	p1, p2, p3 := newPeer(1), newPeer(2), newPeer(3)
	now := time.Now()
	p2.RecordDisconnection(now)
	d.AddPeer(p1)
	d.AddPeer(p2)
	d.AddPeer(p3)

	assert.Equal(t, []*peer.Peer{p1, p3}, d.Candidates(now, 10))
	assert.Equal(t, []*peer.Peer{p1}, d.Candidates(now, 1))
	assert.Empty(t, d.Candidates(now, 0))
}

func TestResetConnecting(t *testing.T) {
	d := New()
	p1, p2 := newPeer(1), newPeer(2)
	d.AddPeer(p1)
	d.AddPeer(p2)
	d.MarkConnecting(p1)
	d.MarkConnecting(p2)
	assert.Equal(t, 2, d.ConnectingCount())

	d.ResetConnecting()
	assert.Equal(t, 0, d.ConnectingCount())
	assert.Equal(t, 2, d.DisconnectedCount())
}

func TestConcurrentAdd(t *testing.T) {
	d := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.AddPeer(newPeer(i*100 + j + 1))
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 400, d.DisconnectedCount())
}
