package commitstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists the commit blob in a single file, replaced atomically
// on every commit via write-temp, fsync, rename.
type FileStore struct {
	path string
}

// OpenFileStore opens a file-backed commit store at path. The file need not
// exist yet; Latest returns ErrNoCommit until the first Persist.
func OpenFileStore(path string) (*FileStore, error) {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("commitstore: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the commit file location.
func (s *FileStore) Path() string { return s.path }

// Persist atomically replaces the stored blob.
func (s *FileStore) Persist(blob []byte) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(blob); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	// Make the rename itself durable.
	d, err := os.Open(filepath.Dir(s.path))
	if err != nil {
		return err
	}
	err = d.Sync()
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	return err
}

// Latest reads the stored blob.
func (s *FileStore) Latest() ([]byte, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNoCommit
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, ErrNoCommit
	}
	return b, nil
}

func (s *FileStore) Close() error { return nil }
