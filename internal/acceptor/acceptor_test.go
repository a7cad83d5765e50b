package acceptor

import (
	"net"
	"testing"
	"time"

	"github.com/cascadebt/cascade/internal/logger"
	"github.com/cascadebt/cascade/internal/peerprotocol"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var infoHash = [20]byte{1, 2, 3}

func newAcceptor(t *testing.T, timeout time.Duration) (*Acceptor, chan Accepted) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	connC := make(chan Accepted, 1)
	a := New(l, infoHash, timeout, func(acc Accepted) { connC <- acc }, logger.New("acceptor"))
	go a.Run()
	return a, connC
}

func dial(t *testing.T, a *Acceptor, h peerprotocol.Handshake) net.Conn {
	conn, err := net.Dial("tcp", a.Addr().String())
	require.NoError(t, err)
	b, err := h.MarshalBinary()
	require.NoError(t, err)
	_, err = conn.Write(b)
	require.NoError(t, err)
	return conn
}

func TestAccept(t *testing.T) {
	defer leaktest.Check(t)()
	a, connC := newAcceptor(t, time.Second)
	var peerID [20]byte
	copy(peerID[:], "-XX0001-abcdefghijkl")
	conn := dial(t, a, peerprotocol.Handshake{InfoHash: infoHash, PeerID: peerID})
	defer conn.Close()

	select {
	case acc := <-connC:
		assert.Equal(t, infoHash, acc.Handshake.InfoHash)
		assert.Equal(t, peerID, acc.Handshake.PeerID)
		require.NoError(t, acc.Conn.Close())
	case <-time.After(5 * time.Second):
		t.Fatal("connection not accepted")
	}
	require.NoError(t, a.Close())
}

func TestUnknownInfoHashIsClosed(t *testing.T) {
	defer leaktest.Check(t)()
	a, connC := newAcceptor(t, time.Second)
	conn := dial(t, a, peerprotocol.Handshake{InfoHash: [20]byte{9}})
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := conn.Read(make([]byte, 1))
	assert.Error(t, err)
	select {
	case <-connC:
		t.Fatal("unexpected connection")
	default:
	}
	require.NoError(t, a.Close())
}

func TestCloseUnblocksHandshakeRead(t *testing.T) {
	defer leaktest.Check(t)()
	a, _ := newAcceptor(t, 0)
	conn, err := net.Dial("tcp", a.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, a.Close())
}
