package piecestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cascadebt/cascade/internal/metainfo"
	"github.com/otiai10/copy"
)

var errNotComplete = errors.New("torrent is not complete")

// Committed reports whether Commit has finished successfully.
func (s *PieceStore) Committed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// Commit writes the downloaded content into its final layout under dest.
// A single file torrent is copied as dest/<name>. A multi file torrent is split into dest/<name>/<path...>.
// Calling Commit again after success is a no-op.
func (s *PieceStore) Commit(dest string) error {
	if s.Committed() {
		return nil
	}
	if !s.BitField().All() {
		return errNotComplete
	}
	if err := s.checkPaths(); err != nil {
		return err
	}
	if err := s.ForceSave(); err != nil {
		return err
	}
	var err error
	if s.info.MultiFile() {
		err = s.split(filepath.Join(dest, s.info.Name))
	} else {
		src := filepath.Join(s.dir, dataFileName)
		err = copy.Copy(src, filepath.Join(dest, s.info.Name), copy.Options{Sync: true})
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.committed = true
	s.mu.Unlock()
	s.log.Infof("committed to %s", dest)
	return nil
}

// checkPaths rejects names that would place files outside the destination directory.
func (s *PieceStore) checkPaths() error {
	if !metainfo.ValidPathComponent(s.info.Name) {
		return fmt.Errorf("unsafe torrent name: %q", s.info.Name)
	}
	for _, f := range s.info.Files {
		if len(f.Path) == 0 {
			return errors.New("empty file path")
		}
		for _, c := range f.Path {
			if !metainfo.ValidPathComponent(c) {
				return fmt.Errorf("unsafe file path: %q", f.Path)
			}
		}
	}
	return nil
}

func (s *PieceStore) split(root string) error {
	var offset int64
	for _, f := range s.info.Files {
		name := filepath.Join(append([]string{root}, f.Path...)...)
		if err := s.writeFile(name, offset, f.Length); err != nil {
			return err
		}
		offset += f.Length
	}
	return nil
}

func (s *PieceStore) writeFile(name string, offset, length int64) error {
	if err := os.MkdirAll(filepath.Dir(name), os.ModeDir|0750); err != nil {
		return err
	}
	f, err := os.Create(name) // nolint: gosec
	if err != nil {
		return err
	}
	if _, err = io.Copy(f, io.NewSectionReader(s.data, offset, length)); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
