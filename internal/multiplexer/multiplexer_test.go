package multiplexer

import (
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/cascadebt/cascade/internal/metainfo"
	"github.com/cascadebt/cascade/internal/peer"
	"github.com/cascadebt/cascade/internal/peerconn"
	"github.com/cascadebt/cascade/internal/peerprotocol"
	"github.com/cascadebt/cascade/internal/piecestore"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	conns  []*peerconn.Conn
	failed []*peer.Peer
	lost   []*peerconn.Conn
	events []peerconn.Event
}

func (r *recorder) OnNewConnection(c *peerconn.Conn) {
	r.conns = append(r.conns, c)
	c.Subscribe(func(e peerconn.Event) { r.events = append(r.events, e) })
	_ = c.SendHandshake()
}

func (r *recorder) OnConnectionFailed(p *peer.Peer, err error) {
	r.failed = append(r.failed, p)
}

func (r *recorder) OnConnectionLost(c *peerconn.Conn) {
	r.lost = append(r.lost, c)
}

func (r *recorder) has(e peerconn.Event) bool {
	for _, ev := range r.events {
		if reflect.TypeOf(ev) == reflect.TypeOf(e) {
			return true
		}
	}
	return false
}

func newMultiplexer(t *testing.T, r *recorder) (*Multiplexer, *metainfo.Info) {
	ib, err := metainfo.NewInfoBytes("test", 8, nil, make([]byte, 32))
	require.NoError(t, err)
	info, err := metainfo.NewInfo(ib)
	require.NoError(t, err)
	store, err := piecestore.Open(info, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	var id [20]byte
	copy(id[:], "-CS0001-000000000000")
	m := New(Config{
		InfoHash:         info.Hash,
		PeerID:           id,
		Store:            store,
		DialTimeout:      time.Second,
		HandshakeTimeout: time.Second,
	}, r)
	return m, info
}

func pollUntil(t *testing.T, m *Multiplexer, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		m.Poll(50 * time.Millisecond)
	}
}

// remote accepts one connection, reads the handshake and replies with the given info hash and messages.
func remote(t *testing.T, infoHash [20]byte, msgs ...peerprotocol.Message) (*peer.Peer, chan net.Conn) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	connC := make(chan net.Conn, 1)
	go func() {
		defer l.Close()
		conn, err := l.Accept()
		if err != nil {
			return
		}
		connC <- conn
		if _, err = peerprotocol.ReadHandshake(conn); err != nil {
			return
		}
		b, _ := peerprotocol.Handshake{InfoHash: infoHash}.MarshalBinary()
		if _, err = conn.Write(b); err != nil {
			return
		}
		for _, msg := range msgs {
			if err = peerprotocol.WriteMessage(conn, msg); err != nil {
				return
			}
		}
	}()
	return peer.New(l.Addr().(*net.TCPAddr), peer.RetryConfig{}), connC
}

func TestConnectAndReceive(t *testing.T) {
	defer leaktest.Check(t)()
	r := &recorder{}
	m, info := newMultiplexer(t, r)

	p, connC := remote(t, info.Hash, peerprotocol.BitfieldMessage{Data: []byte{0xf0}}, peerprotocol.UnchokeMessage{})
	m.Connect(p)
	assert.Equal(t, 1, m.Dialing())
	pollUntil(t, m, func() bool { return r.has(peerconn.UnchokeEvent{}) })

	require.Len(t, r.conns, 1)
	c := r.conns[0]
	assert.True(t, c.HandshakeReceived())
	assert.True(t, c.BitField().All())
	assert.False(t, c.PeerChoking())
	assert.Equal(t, 0, m.Dialing())
	assert.Len(t, m.Conns(), 1)

	m.Close()
	assert.True(t, c.Killed())
	(<-connC).Close()
}

func TestInfoHashMismatchKills(t *testing.T) {
	defer leaktest.Check(t)()
	r := &recorder{}
	m, _ := newMultiplexer(t, r)

	p, connC := remote(t, [20]byte{1})
	m.Connect(p)
	pollUntil(t, m, func() bool { return r.has(peerconn.DisconnectEvent{}) })

	assert.False(t, r.has(peerconn.HandshakeEvent{}))
	assert.True(t, r.conns[0].Killed())
	assert.Empty(t, m.Conns())
	assert.Len(t, r.lost, 1)

	m.Close()
	(<-connC).Close()
}

func TestConnectFailure(t *testing.T) {
	defer leaktest.Check(t)()
	r := &recorder{}
	m, _ := newMultiplexer(t, r)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())

	m.Connect(peer.New(addr, peer.RetryConfig{}))
	pollUntil(t, m, func() bool { return len(r.failed) == 1 })
	assert.Empty(t, r.conns)
	m.Close()
}

func TestRegister(t *testing.T) {
	defer leaktest.Check(t)()
	r := &recorder{}
	m, info := newMultiplexer(t, r)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	server, err := l.Accept()
	require.NoError(t, err)

	m.Register(server, &peerprotocol.Handshake{InfoHash: info.Hash})
	pollUntil(t, m, func() bool { return r.has(peerconn.HandshakeEvent{}) })

	h, err := peerprotocol.ReadHandshake(client)
	require.NoError(t, err)
	assert.Equal(t, info.Hash, h.InfoHash)

	require.NoError(t, peerprotocol.WriteMessage(client, peerprotocol.HaveMessage{Index: 3}))
	pollUntil(t, m, func() bool { return r.conns[0].BitField().Test(3) })

	m.Close()
	m.Register(server, nil)
}

func TestPollTimeout(t *testing.T) {
	r := &recorder{}
	m, _ := newMultiplexer(t, r)
	defer m.Close()

	start := time.Now()
	m.Poll(50 * time.Millisecond)
	assert.True(t, time.Since(start) >= 50*time.Millisecond)

	m.Wake()
	start = time.Now()
	m.Poll(time.Minute)
	assert.True(t, time.Since(start) < time.Second)
}
