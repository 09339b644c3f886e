package marker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store defines the durable recovery-marker operations the install flow
// depends on. The marker is an existence-only flag: no content is read, only
// presence.
type Store interface {
	Exists() (bool, error)
	Set() error
	Clear() error
}

// FileStore keeps the marker as a well-known file on disk. Presence survives
// process restarts, which is the whole point: it tells a later install
// attempt that a previous one was interrupted mid-download.
type FileStore struct {
	// path is the filesystem location of the marker file.
	path string
}

// NewFileStore creates a store over the provided marker path.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: filepath.Clean(path),
	}
}

// Exists reports whether the marker is present.
func (s *FileStore) Exists() (bool, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("stat marker: %w", err)
	}

	return true, nil
}

// Set creates the marker. The exclusive create keeps a restart racing an
// already-set marker from failing the flow: an existing marker counts as set.
func (s *FileStore) Set() error {
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}

		return fmt.Errorf("create marker: %w", err)
	}

	if err = file.Close(); err != nil {
		return fmt.Errorf("close marker: %w", err)
	}

	return nil
}

// Clear removes the marker. A missing marker is a no-op.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove marker: %w", err)
	}

	return nil
}
