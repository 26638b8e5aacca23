// Package blob stores uploaded sample content outside the database,
// addressed by content digest.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when no content exists for the digest.
var ErrNotFound = errors.New("blob not found")

// Store persists raw sample content by digest.
type Store interface {
	// Put writes the content for the digest. Existing content is left
	// untouched; identical uploads are idempotent.
	Put(digest string, r io.Reader) error
	// Get opens the content for the digest. The caller closes the reader.
	Get(digest string) (io.ReadCloser, error)
}

// LocalStore keeps content under a directory, fanned out by digest prefix
// to keep directory sizes bounded.
type LocalStore struct {
	dir string
}

// NewLocalStore builds a store rooted at dir, creating it when missing.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) path(digest string) (string, error) {
	if len(digest) < 4 {
		return "", fmt.Errorf("digest %q too short", digest)
	}
	return filepath.Join(s.dir, digest[0:2], digest[2:4], digest), nil
}

// Put writes the content for the digest atomically via a temp file rename.
func (s *LocalStore) Put(digest string, r io.Reader) error {
	path, err := s.path(digest)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating fanout directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("placing content: %w", err)
	}
	return nil
}

// Get opens the content for the digest.
func (s *LocalStore) Get(digest string) (io.ReadCloser, error) {
	path, err := s.path(digest)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening content: %w", err)
	}
	return f, nil
}
