// Package piecestore maps pieces of a torrent to a working data file and keeps their completion state.
package piecestore

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cascadebt/cascade/internal/bitfield"
	"github.com/cascadebt/cascade/internal/logger"
	"github.com/cascadebt/cascade/internal/metainfo"
	"github.com/cascadebt/cascade/internal/piece"
	"github.com/cascadebt/cascade/internal/storage"
	"github.com/cascadebt/cascade/internal/storage/filestorage"
	"github.com/hashicorp/go-multierror"
)

const (
	dataFileName  = "data"
	stateFileName = "state"
)

var (
	// ErrOutOfRange is returned for a piece index not in the torrent.
	ErrOutOfRange = errors.New("piece index out of range")
	// ErrIncomplete is returned when reading from a piece that is not fully written.
	ErrIncomplete = errors.New("piece is not complete")
	// ErrCorrupt is returned when a completed piece does not match its checksum.
	// The piece is reset and must be downloaded again.
	ErrCorrupt = errors.New("piece checksum mismatch")
)

// StorageError is returned when the working files cannot be read or written.
// The store should not be used after it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage " + e.Op + " failed: " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// PieceStore keeps torrent bytes in a single data file sized to the total length
// and a state file holding a 4 byte big-endian completion counter per piece.
type PieceStore struct {
	info   *metainfo.Info
	dir    string
	pieces []*piece.Piece
	data   storage.File
	state  storage.File
	log    logger.Logger

	// guards completion counters against readers outside of the owning goroutine
	mu        sync.Mutex
	committed bool
}

// Open creates or loads the working files in dir.
func Open(info *metainfo.Info, dir string) (*PieceStore, error) {
	st, err := filestorage.New(dir)
	if err != nil {
		return nil, err
	}
	s := &PieceStore{
		info:   info,
		dir:    st.Dir(),
		pieces: make([]*piece.Piece, info.NumPieces),
		log:    logger.New("piecestore " + info.Name),
	}
	for i := range s.pieces {
		idx := uint32(i)
		s.pieces[i] = piece.New(idx, info.PieceLen(idx), info.HashOf(idx))
	}
	s.data, _, err = st.Open(dataFileName, info.TotalLength)
	if err != nil {
		return nil, err
	}
	var exists bool
	s.state, exists, err = st.Open(stateFileName, int64(info.NumPieces)*4)
	if err != nil {
		_ = s.data.Close()
		return nil, err
	}
	if exists {
		if err = s.loadState(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *PieceStore) loadState() error {
	b := make([]byte, len(s.pieces)*4)
	if _, err := s.state.ReadAt(b, 0); err != nil && err != io.EOF {
		return fmt.Errorf("cannot read state: %w", err)
	}
	for i, p := range s.pieces {
		n := binary.BigEndian.Uint32(b[i*4:])
		if n > p.Length {
			s.log.Warningf("piece %d has invalid completion %d, resetting", i, n)
		}
		p.Reset(n)
	}
	return nil
}

// Dir returns the directory of the working files.
func (s *PieceStore) Dir() string { return s.dir }

// NumPieces returns the number of pieces in the torrent.
func (s *PieceStore) NumPieces() uint32 { return uint32(len(s.pieces)) }

// Piece returns the piece at index.
func (s *PieceStore) Piece(index uint32) (*piece.Piece, error) {
	if index >= uint32(len(s.pieces)) {
		return nil, ErrOutOfRange
	}
	return s.pieces[index], nil
}

// Lock marks the piece at index as owned by a download.
func (s *PieceStore) Lock(index uint32) error {
	p, err := s.Piece(index)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.Lock()
}

// Unlock releases the piece at index.
func (s *PieceStore) Unlock(index uint32) error {
	p, err := s.Piece(index)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.Unlock()
}

// Write stores a block of p at offset. Blocks may arrive out of order.
// When the write completes the piece its checksum is verified; on mismatch the piece is reset and ErrCorrupt is returned.
func (s *PieceStore) Write(p *piece.Piece, offset uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := p.Completion()
	base := int64(p.Index) * int64(s.info.PieceLength)
	flush := func(off uint32, b []byte) error {
		if _, err := s.data.WriteAt(b, base+int64(off)); err != nil {
			return &StorageError{Op: "write", Err: err}
		}
		return nil
	}
	onStale := func(off uint32) {
		s.log.Warningf("piece %d: dropped stale block at offset %d", p.Index, off)
	}
	if err := p.Accept(offset, data, flush, onStale); err != nil {
		return err
	}
	if p.Completion() == before {
		return nil
	}
	if p.Complete() {
		ok, err := s.verify(p)
		if err != nil {
			return &StorageError{Op: "verify", Err: err}
		}
		if !ok {
			p.Reset(0)
			_ = s.writeState(p)
			return ErrCorrupt
		}
	}
	return s.writeState(p)
}

func (s *PieceStore) writeState(p *piece.Piece) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], p.Completion())
	if _, err := s.state.WriteAt(b[:], int64(p.Index)*4); err != nil {
		return &StorageError{Op: "write state", Err: err}
	}
	return nil
}

// Read fills buf with bytes of p starting at offset. The piece must be complete.
func (s *PieceStore) Read(p *piece.Piece, buf []byte, offset uint32) error {
	if !s.isComplete(p) {
		return ErrIncomplete
	}
	if uint64(offset)+uint64(len(buf)) > uint64(p.Length) {
		return piece.ErrOutOfBounds
	}
	if _, err := s.data.ReadAt(buf, int64(p.Index)*int64(s.info.PieceLength)+int64(offset)); err != nil {
		return &StorageError{Op: "read", Err: err}
	}
	return nil
}

func (s *PieceStore) isComplete(p *piece.Piece) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.Complete()
}

// Verify hashes the persisted bytes of p and compares them with the expected checksum.
func (s *PieceStore) Verify(p *piece.Piece) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verify(p)
}

func (s *PieceStore) verify(p *piece.Piece) (bool, error) {
	h := sha1.New() // nolint: gosec
	r := io.NewSectionReader(s.data, int64(p.Index)*int64(s.info.PieceLength), int64(p.Length))
	if _, err := io.Copy(h, r); err != nil {
		return false, err
	}
	return bytes.Equal(h.Sum(nil), p.Hash), nil
}

// VerifyAll checks every complete piece and resets the ones that fail. It returns the number of pieces reset.
func (s *PieceStore) VerifyAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reset int
	for _, p := range s.pieces {
		if !p.Complete() {
			continue
		}
		ok, err := s.verify(p)
		if err != nil {
			return reset, err
		}
		if !ok {
			s.log.Warningf("piece %d failed verification", p.Index)
			p.Reset(0)
			reset++
		}
	}
	return reset, nil
}

// BitField returns a new bitfield with the bits of complete pieces set.
func (s *PieceStore) BitField() *bitfield.BitField {
	s.mu.Lock()
	defer s.mu.Unlock()
	bf := bitfield.New(uint32(len(s.pieces)))
	for i, p := range s.pieces {
		if p.Complete() {
			bf.Set(uint32(i))
		}
	}
	return bf
}

// BytesCompleted returns the number of persisted bytes.
func (s *PieceStore) BytesCompleted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.pieces {
		n += int64(p.Completion())
	}
	return n
}

// ForceSave writes every completion counter and flushes both files to disk.
func (s *PieceStore) ForceSave() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := make([]byte, len(s.pieces)*4)
	for i, p := range s.pieces {
		binary.BigEndian.PutUint32(b[i*4:], p.Completion())
	}
	if _, err := s.state.WriteAt(b, 0); err != nil {
		return err
	}
	if err := s.data.Sync(); err != nil {
		return err
	}
	return s.state.Sync()
}

// Close flushes and closes the working files.
func (s *PieceStore) Close() error {
	var result error
	if err := s.ForceSave(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.data.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.state.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}
