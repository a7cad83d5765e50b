package tracker

import (
	"encoding/binary"
	"errors"
	"net"
)

const compactPeerLen = net.IPv4len + 2

var errInvalidPeerList = errors.New("invalid compact peer list length")

// DecodePeersCompact parses a list of 6-byte peers: 4 bytes IPv4 address followed by 2 bytes port in network order.
func DecodePeersCompact(b []byte) ([]*net.TCPAddr, error) {
	if len(b)%compactPeerLen != 0 {
		return nil, errInvalidPeerList
	}
	addrs := make([]*net.TCPAddr, 0, len(b)/compactPeerLen)
	for ; len(b) > 0; b = b[compactPeerLen:] {
		ip := make(net.IP, net.IPv4len)
		copy(ip, b[:net.IPv4len])
		port := binary.BigEndian.Uint16(b[net.IPv4len:compactPeerLen])
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: int(port)})
	}
	return addrs, nil
}

// EncodePeersCompact is the reverse of DecodePeersCompact. Non-IPv4 addresses are skipped.
func EncodePeersCompact(addrs []*net.TCPAddr) []byte {
	b := make([]byte, 0, len(addrs)*compactPeerLen)
	for _, addr := range addrs {
		ip4 := addr.IP.To4()
		if ip4 == nil {
			continue
		}
		b = append(b, ip4...)
		b = binary.BigEndian.AppendUint16(b, uint16(addr.Port))
	}
	return b
}
