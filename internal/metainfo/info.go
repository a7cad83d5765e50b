package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zeebo/bencode"
)

var errInvalidPieceData = errors.New("invalid piece data")

// Info is the immutable description of a torrent's content: its identity, piece layout and files.
type Info struct {
	PieceLength uint32     `bencode:"piece length"`
	Pieces      []byte     `bencode:"pieces"`
	Name        string     `bencode:"name"`
	Length      int64      `bencode:"length,omitempty"` // single file mode
	Files       []FileDict `bencode:"files,omitempty"`  // multiple file mode

	// Calculated fields
	Hash        [20]byte `bencode:"-"`
	TotalLength int64    `bencode:"-"`
	NumPieces   uint32   `bencode:"-"`
	Bytes       []byte   `bencode:"-"`
}

// FileDict is a file entry of a multi-file torrent.
type FileDict struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// NewInfo returns info from bencoded bytes in b.
func NewInfo(b []byte) (*Info, error) {
	var i Info
	if err := bencode.DecodeBytes(b, &i); err != nil {
		return nil, err
	}
	if i.PieceLength == 0 {
		return nil, errors.New("zero piece length")
	}
	if len(i.Pieces) == 0 || len(i.Pieces)%sha1.Size != 0 {
		return nil, errInvalidPieceData
	}
	if !ValidPathComponent(i.Name) {
		return nil, fmt.Errorf("invalid torrent name: %q", i.Name)
	}
	for _, file := range i.Files {
		if len(file.Path) == 0 {
			return nil, errors.New("empty file path")
		}
		for _, path := range file.Path {
			if !ValidPathComponent(path) {
				return nil, fmt.Errorf("invalid file name: %q", strings.Join(file.Path, "/"))
			}
		}
	}
	i.NumPieces = uint32(len(i.Pieces)) / sha1.Size
	if !i.MultiFile() {
		i.TotalLength = i.Length
	} else {
		for _, f := range i.Files {
			i.TotalLength += f.Length
		}
	}
	// The last piece may be short but never empty.
	delta := int64(i.PieceLength)*int64(i.NumPieces) - i.TotalLength
	if delta >= int64(i.PieceLength) || delta < 0 {
		return nil, errInvalidPieceData
	}
	i.Bytes = b
	i.Hash = sha1.Sum(b) // nolint: gosec
	return &i, nil
}

// ValidPathComponent reports whether s can be used as a single file or directory name under a destination directory.
func ValidPathComponent(s string) bool {
	switch strings.TrimSpace(s) {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00") && !filepath.IsAbs(s) && filepath.VolumeName(s) == ""
}

// MultiFile reports whether the torrent has a file list instead of a single file.
func (i *Info) MultiFile() bool {
	return len(i.Files) != 0
}

// HashOf returns the SHA-1 checksum of piece index.
func (i *Info) HashOf(index uint32) []byte {
	begin := index * sha1.Size
	return i.Pieces[begin : begin+sha1.Size]
}

// PieceLen returns the length of piece index.
// Every piece has PieceLength bytes except the last one, which holds the remainder.
func (i *Info) PieceLen(index uint32) uint32 {
	if index == i.NumPieces-1 {
		if mod := uint32(i.TotalLength % int64(i.PieceLength)); mod != 0 {
			return mod
		}
	}
	return i.PieceLength
}

// GetFiles returns the files in torrent as a slice, even if there is a single file.
func (i *Info) GetFiles() []FileDict {
	if i.MultiFile() {
		return i.Files
	}
	return []FileDict{{i.Length, []string{i.Name}}}
}
