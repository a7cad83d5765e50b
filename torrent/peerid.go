package torrent

import (
	"github.com/gofrs/uuid"
)

// generatePeerID returns a peer id starting with prefix and filled with random bytes from a version 4 UUID.
func generatePeerID(prefix string) ([20]byte, error) {
	var id [20]byte
	u, err := uuid.NewV4()
	if err != nil {
		return id, err
	}
	n := copy(id[:], prefix)
	copy(id[n:], u.Bytes())
	return id, nil
}
