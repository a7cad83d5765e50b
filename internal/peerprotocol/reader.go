package peerprotocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// MalformedMessageError is returned when bytes received from a peer cannot be decoded.
type MalformedMessageError struct {
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return "malformed message: " + e.Reason
}

func malformed(format string, args ...interface{}) error {
	return &MalformedMessageError{Reason: fmt.Sprintf(format, args...)}
}

// length + id + index + begin
const pieceHeaderLength = 1 + 4 + 4

// Reader decodes length prefixed messages from a stream.
type Reader struct {
	r         *bufio.Reader
	maxLength uint32
	buf       []byte
}

// NewReader returns a Reader for a torrent with numPieces pieces.
// Frames longer than the largest legal message are rejected.
func NewReader(r io.Reader, numPieces uint32) *Reader {
	maxLength := uint32(pieceHeaderLength + MaxBlockSize)
	if bf := 1 + (numPieces+7)/8; bf > maxLength {
		maxLength = bf
	}
	return &Reader{
		r:         bufio.NewReaderSize(r, 4096),
		maxLength: maxLength,
	}
}

// ReadMessage blocks until a complete frame is read and returns the decoded message.
// Keep-alive frames are returned as KeepAliveMessage.
// Returned messages do not alias the Reader's internal buffer.
func (r *Reader) ReadMessage() (interface{}, error) {
	var header [4]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return KeepAliveMessage{}, nil
	}
	if length > r.maxLength {
		return nil, malformed("frame too large: %d", length)
	}
	if uint32(cap(r.buf)) < length {
		r.buf = make([]byte, length)
	}
	frame := r.buf[:length]
	if _, err := io.ReadFull(r.r, frame); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return decode(MessageID(frame[0]), frame[1:])
}

// DecodeFrame decodes a single frame body consisting of the message id and payload.
func DecodeFrame(frame []byte) (interface{}, error) {
	if len(frame) == 0 {
		return KeepAliveMessage{}, nil
	}
	return decode(MessageID(frame[0]), frame[1:])
}

func decode(id MessageID, payload []byte) (interface{}, error) {
	if !id.valid() {
		return nil, malformed("unknown message id: %d", id)
	}
	expect := func(n int) error {
		if len(payload) != n {
			return malformed("%s payload length %d, expected %d", id, len(payload), n)
		}
		return nil
	}
	switch id {
	case Choke, Unchoke, Interested, NotInterested:
		if err := expect(0); err != nil {
			return nil, err
		}
	}
	switch id {
	case Choke:
		return ChokeMessage{}, nil
	case Unchoke:
		return UnchokeMessage{}, nil
	case Interested:
		return InterestedMessage{}, nil
	case NotInterested:
		return NotInterestedMessage{}, nil
	case Have:
		if err := expect(4); err != nil {
			return nil, err
		}
		return HaveMessage{Index: binary.BigEndian.Uint32(payload)}, nil
	case Bitfield:
		data := make([]byte, len(payload))
		copy(data, payload)
		return BitfieldMessage{Data: data}, nil
	case Request, Cancel:
		if err := expect(12); err != nil {
			return nil, err
		}
		rm := RequestMessage{
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}
		if id == Cancel {
			return CancelMessage{rm}, nil
		}
		return rm, nil
	default: // Piece
		if len(payload) < 8 {
			return nil, malformed("piece payload too short: %d", len(payload))
		}
		data := make([]byte, len(payload)-8)
		copy(data, payload[8:])
		return PieceMessage{
			Index: binary.BigEndian.Uint32(payload[0:4]),
			Begin: binary.BigEndian.Uint32(payload[4:8]),
			Data:  data,
		}, nil
	}
}
