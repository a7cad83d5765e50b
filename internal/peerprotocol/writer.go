package peerprotocol

import (
	"encoding/binary"
	"io"
)

// Frame returns msg as it is sent on the wire: length, id and payload.
func Frame(msg Message) ([]byte, error) {
	payload, err := msg.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(b[0:4], uint32(1+len(payload)))
	b[4] = byte(msg.ID())
	copy(b[5:], payload)
	return b, nil
}

// KeepAliveFrame is the encoding of a keep-alive message.
var KeepAliveFrame = []byte{0, 0, 0, 0}

// WriteMessage writes a single framed message to w.
func WriteMessage(w io.Writer, msg Message) error {
	b, err := Frame(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
