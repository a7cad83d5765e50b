// Package storage defines where the piece store keeps its working files.
package storage

import "io"

// Storage opens named, fixed size files.
type Storage interface {
	// Open returns the file with the given name, creating it with size bytes if missing.
	// exists is true if the file was already present.
	Open(name string, size int64) (f File, exists bool, err error)
}

// File is random access storage for torrent bytes.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Sync() error
}
