// Package filestorage implements the Storage interface with files in a directory on disk.
package filestorage

import (
	"os"
	"path/filepath"

	"github.com/cascadebt/cascade/internal/storage"
)

// FileStorage keeps every file under a single directory.
type FileStorage struct {
	dir string
}

var _ storage.Storage = (*FileStorage)(nil)

// New returns a FileStorage rooted at dir. The directory is created lazily on first Open.
func New(dir string) (*FileStorage, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &FileStorage{dir: dir}, nil
}

// Dir returns the absolute path of the storage directory.
func (s *FileStorage) Dir() string { return s.dir }

// Open implements storage.Storage. Existing files are resized to size if their length differs.
func (s *FileStorage) Open(name string, size int64) (f storage.File, exists bool, err error) {
	name = filepath.Join(s.dir, filepath.Clean(name))

	err = os.MkdirAll(filepath.Dir(name), os.ModeDir|0750)
	if err != nil {
		return nil, false, err
	}

	const mode = 0640
	of, err := os.OpenFile(name, os.O_RDWR, mode) // nolint: gosec
	switch {
	case os.IsNotExist(err):
		of, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE, mode) // nolint: gosec
		if err != nil {
			return nil, false, err
		}
	case err != nil:
		return nil, false, err
	default:
		exists = true
	}

	fi, err := of.Stat()
	if err == nil && fi.Size() != size {
		err = of.Truncate(size)
	}
	if err == nil {
		err = adviseRandomAccess(of)
	}
	if err != nil {
		_ = of.Close()
		return nil, false, err
	}
	return of, exists, nil
}
