package tracker

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePeersCompact(t *testing.T) {
	addrs, err := DecodePeersCompact([]byte{1, 2, 3, 4, 0x1a, 0xe1, 10, 0, 0, 1, 0, 80})
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, "1.2.3.4:6881", addrs[0].String())
	assert.Equal(t, "10.0.0.1:80", addrs[1].String())

	_, err = DecodePeersCompact([]byte{1, 2, 3})
	assert.Error(t, err)

	addrs, err = DecodePeersCompact(nil)
	require.NoError(t, err)
	assert.Empty(t, addrs)
}

func TestEncodePeersCompact(t *testing.T) {
	b := EncodePeersCompact([]*net.TCPAddr{
		{IP: net.IPv4(1, 2, 3, 4), Port: 6881},
		{IP: net.ParseIP("::1"), Port: 1},
	})
	assert.Equal(t, []byte{1, 2, 3, 4, 0x1a, 0xe1}, b)
}
