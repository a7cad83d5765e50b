package peerprotocol

import (
	"bytes"
	"io"
)

// HandshakeLength is the size of a handshake on the wire.
const HandshakeLength = 1 + len(protocolName) + 8 + 20 + 20

const protocolName = "BitTorrent protocol"

// Handshake is the first message sent in each direction of a connection.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// MarshalBinary returns the 68 byte handshake. Reserved bytes are zero.
func (h Handshake) MarshalBinary() ([]byte, error) {
	b := make([]byte, HandshakeLength)
	b[0] = byte(len(protocolName))
	n := 1 + copy(b[1:], protocolName)
	n += 8
	n += copy(b[n:], h.InfoHash[:])
	copy(b[n:], h.PeerID[:])
	return b, nil
}

// ReadHandshake reads a complete handshake from r.
// A protocol string other than "BitTorrent protocol" is reported as a *MalformedMessageError.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	var b [HandshakeLength]byte
	if _, err := io.ReadFull(r, b[:1]); err != nil {
		return nil, err
	}
	if int(b[0]) != len(protocolName) {
		return nil, malformed("invalid protocol string length: %d", b[0])
	}
	if _, err := io.ReadFull(r, b[1:]); err != nil {
		return nil, err
	}
	if !bytes.Equal(b[1:1+len(protocolName)], []byte(protocolName)) {
		return nil, malformed("invalid protocol string: %q", b[1:1+len(protocolName)])
	}
	var h Handshake
	n := 1 + len(protocolName) + 8
	n += copy(h.InfoHash[:], b[n:])
	copy(h.PeerID[:], b[n:])
	return &h, nil
}
