// Package piece tracks download progress of a single piece and reassembles its blocks in order.
package piece

import (
	"errors"

	"github.com/google/btree"
)

var (
	// ErrLocked is returned when locking a piece that is already locked.
	ErrLocked = errors.New("piece is locked")
	// ErrNotLocked is returned when unlocking a piece that is not locked.
	ErrNotLocked = errors.New("piece is not locked")
	// ErrStale is returned for a block that starts before the completion frontier.
	ErrStale = errors.New("block is behind completion")
	// ErrOutOfBounds is returned for a block that does not fit inside the piece.
	ErrOutOfBounds = errors.New("block is out of piece bounds")
)

// Piece of a torrent.
// Bytes [0, Completion()) are persisted. Blocks that arrive ahead of the frontier are kept in memory
// until the gap before them is filled.
type Piece struct {
	Index  uint32
	Length uint32
	Hash   []byte

	completion uint32
	locked     bool
	pending    *btree.BTree
}

// New returns an empty piece.
func New(index, length uint32, hash []byte) *Piece {
	return &Piece{
		Index:   index,
		Length:  length,
		Hash:    hash,
		pending: btree.New(2),
	}
}

// Completion returns the number of contiguous bytes written from the start of the piece.
func (p *Piece) Completion() uint32 { return p.completion }

// Remaining returns the number of bytes not yet written.
func (p *Piece) Remaining() uint32 { return p.Length - p.completion }

// Complete reports whether every byte of the piece is written.
func (p *Piece) Complete() bool { return p.completion == p.Length }

// Reset sets the completion counter and drops buffered blocks.
// Values larger than the piece length are treated as zero.
func (p *Piece) Reset(completion uint32) {
	if completion > p.Length {
		completion = 0
	}
	p.completion = completion
	p.pending.Clear(false)
}

// Pending returns the number of blocks buffered ahead of the frontier.
func (p *Piece) Pending() int { return p.pending.Len() }

// Locked reports whether a download owns the piece.
func (p *Piece) Locked() bool { return p.locked }

// Lock marks the piece as owned by a download.
func (p *Piece) Lock() error {
	if p.locked {
		return ErrLocked
	}
	p.locked = true
	return nil
}

// Unlock releases ownership.
func (p *Piece) Unlock() error {
	if !p.locked {
		return ErrNotLocked
	}
	p.locked = false
	return nil
}

type block struct {
	offset uint32
	data   []byte
}

var _ btree.Item = (*block)(nil)

func (b *block) Less(than btree.Item) bool {
	return b.offset < than.(*block).offset
}

// Accept adds a block of data at offset.
// A block at the frontier is passed to flush together with every buffered block that becomes contiguous.
// A block ahead of the frontier is buffered. A block behind the frontier is rejected with ErrStale.
// Buffered blocks that fall behind the frontier are dropped and reported to onStale.
func (p *Piece) Accept(offset uint32, data []byte, flush func(offset uint32, data []byte) error, onStale func(offset uint32)) error {
	if uint64(offset)+uint64(len(data)) > uint64(p.Length) {
		return ErrOutOfBounds
	}
	if offset < p.completion {
		return ErrStale
	}
	if offset > p.completion {
		p.pending.ReplaceOrInsert(&block{offset: offset, data: data})
		return nil
	}
	if err := flush(offset, data); err != nil {
		return err
	}
	p.completion += uint32(len(data))
	for p.pending.Len() > 0 {
		b := p.pending.Min().(*block)
		if b.offset > p.completion {
			break
		}
		p.pending.DeleteMin()
		if b.offset < p.completion {
			if onStale != nil {
				onStale(b.offset)
			}
			continue
		}
		if err := flush(b.offset, b.data); err != nil {
			return err
		}
		p.completion += uint32(len(b.data))
	}
	return nil
}
