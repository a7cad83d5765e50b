package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"

	"github.com/zeebo/bencode"
)

// NewInfoBytes hashes content into pieces and returns a bencoded info dictionary.
// If files is empty the torrent is a single file called name.
// Otherwise file lengths must add up to the length of content.
func NewInfoBytes(name string, pieceLength uint32, files []FileDict, content []byte) ([]byte, error) {
	if pieceLength == 0 {
		return nil, errors.New("zero piece length")
	}
	if len(content) == 0 {
		return nil, errors.New("no content")
	}
	info := Info{
		Name:        name,
		PieceLength: pieceLength,
	}
	if len(files) == 0 {
		info.Length = int64(len(content))
	} else {
		var total int64
		for _, f := range files {
			total += f.Length
		}
		if total != int64(len(content)) {
			return nil, errors.New("file lengths do not match content")
		}
		info.Files = files
	}
	for begin := 0; begin < len(content); begin += int(pieceLength) {
		end := begin + int(pieceLength)
		if end > len(content) {
			end = len(content)
		}
		sum := sha1.Sum(content[begin:end]) // nolint: gosec
		info.Pieces = append(info.Pieces, sum[:]...)
	}
	return bencode.EncodeBytes(info)
}
