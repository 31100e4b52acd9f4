package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultTokenFile is used when no token file is configured.
const DefaultTokenFile = ".envato.auth.json"

// FileStore persists a single Record as JSON with owner-only permissions.
// Writes go through a temp file and rename, serialised across processes by a
// lock file next to the token file.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore for path, creating missing parent
// directories with 0700 permissions.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("token file path cannot be empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create token directory: %w", err)
		}
	}

	return &FileStore{path: path}, nil
}

// Path returns the token file location.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the stored record. A missing file yields an error wrapping
// os.ErrNotExist.
func (f *FileStore) Load() (*Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	if rec.AccessToken == "" {
		return nil, errors.New("token file has no access_token")
	}

	return &rec, nil
}

// Save atomically replaces the token file with rec.
func (f *FileStore) Save(rec *Record) error {
	if rec == nil {
		return errors.New("nothing to save")
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}

	lock, err := acquireFileLock(f.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = lock.release() }()

	tempFile, err := os.CreateTemp(filepath.Dir(f.path), ".envato-auth-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempName := tempFile.Name()
	// no-op after a successful rename
	defer func() { _ = os.Remove(tempName) }()

	if err := tempFile.Chmod(0o600); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("failed to restrict temp file: %w", err)
	}
	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempName, f.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return os.Chmod(f.path, 0o600)
}

// Delete removes the token file. A missing file is not an error.
func (f *FileStore) Delete() error {
	lock, err := acquireFileLock(f.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = lock.release() }()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}
