package peer

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var retry = RetryConfig{Initial: time.Second, Max: time.Minute}

func TestKey(t *testing.T) {
	p := New(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 6881}, retry)
	assert.Equal(t, "10.0.0.1:6881", p.Key())
	assert.False(t, p.HasID())

	var id [20]byte
	copy(id[:], "-CS0001-000000000000")
	p.SetID(id)
	assert.True(t, p.HasID())
	assert.Equal(t, id, p.ID)
}

func TestBackoffWindow(t *testing.T) {
	p := New(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 6881}, retry)
	now := time.Now()
	assert.True(t, p.ShouldTryConnection(now))

	p.RecordDisconnection(now)
	assert.Equal(t, -1, p.Score())
	assert.Equal(t, now, p.LastDisconnect())
	assert.False(t, p.ShouldTryConnection(now))
	// Randomized interval is within [0.5, 1.5] of the initial interval.
	assert.False(t, p.ShouldTryConnection(now.Add(400*time.Millisecond)))
	assert.True(t, p.ShouldTryConnection(now.Add(1600*time.Millisecond)))

	p.RecordConnection()
	assert.Equal(t, 0, p.Score())
	assert.True(t, p.ShouldTryConnection(now))
}

func TestZeroBackoff(t *testing.T) {
	p := New(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 6881}, RetryConfig{})
	now := time.Now()
	p.RecordDisconnection(now)
	assert.True(t, p.ShouldTryConnection(now))
}

func TestShouldForget(t *testing.T) {
	p := New(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 6881}, retry)
	now := time.Now()
	p.RecordDisconnection(now)
	p.RecordDisconnection(now)
	assert.False(t, p.ShouldForget(-2))
	p.RecordDisconnection(now)
	assert.True(t, p.ShouldForget(-2))
}

func TestParseAddr(t *testing.T) {
	a, err := ParseAddr("127.0.0.1:6881")
	require.NoError(t, err)
	assert.Equal(t, 6881, a.Port)
	assert.True(t, a.IP.Equal(net.IPv4(127, 0, 0, 1)))

	_, err = ParseAddr("127.0.0.1")
	assert.Error(t, err)
	_, err = ParseAddr("127.0.0.1:99999")
	assert.Error(t, err)
}
