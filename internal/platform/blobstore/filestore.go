// Package blobstore stores content bytes on the local filesystem, addressed
// by their fingerprint.
package blobstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrBlobNotFound is returned when no blob exists for a reference.
var ErrBlobNotFound = errors.New("blob not found")

// ErrInvalidKey is returned for keys that are not lowercase hex.
var ErrInvalidKey = errors.New("invalid blob key")

// FileStore keeps one file per key under dataDir, sharded by the first two
// characters of the key. Writes go to a temp file that is fsynced and then
// renamed into place, so a reader never sees a partial blob.
type FileStore struct {
	dataDir string
}

// New creates a FileStore rooted at dataDir, creating the directory if needed.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// Put writes data under key and returns the storage reference. Writing the
// same key twice leaves one blob; content addressing makes that safe.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref, err := refFor(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.dataDir, ref)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create shard directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(fullPath), key+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to move blob into place: %w", err)
	}
	return ref, nil
}

// Get reads the blob for ref.
func (s *FileStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", ref, err)
	}
	return data, nil
}

// Delete removes the blob for ref. Deleting a missing blob is not an error.
func (s *FileStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob %s: %w", ref, err)
	}
	return nil
}

// path maps a reference back to a file, refusing anything that is not a
// reference this store produced.
func (s *FileStore) path(ref string) (string, error) {
	key := filepath.Base(ref)
	want, err := refFor(key)
	if err != nil || want != ref {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, ref)
	}
	return filepath.Join(s.dataDir, ref), nil
}

func refFor(key string) (string, error) {
	if len(key) < 4 {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if _, err := hex.DecodeString(key); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, c := range key {
		if c >= 'A' && c <= 'F' {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return filepath.Join(key[:2], key), nil
}
