// Package tokenfile persists the signed-in user's OAuth2 token together with
// the owner identity it belongs to. Files are written atomically with
// owner-only permissions.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// ErrNotFound means no token file exists at the path: nobody is signed in.
var ErrNotFound = errors.New("tokenfile: no token file")

// File is the on-disk format.
type File struct {
	Token   *oauth2.Token `json:"token"`
	OwnerID string        `json:"owner_id"`
	Email   string        `json:"email,omitempty"`
	SavedAt time.Time     `json:"saved_at"`
}

// Load reads and validates the token file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("tokenfile: %s: %w", path, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if f.Token == nil {
		return nil, fmt.Errorf("tokenfile: %s has no token (sign in again)", path)
	}

	if f.OwnerID == "" {
		return nil, fmt.Errorf("tokenfile: %s has no owner id (sign in again)", path)
	}

	return &f, nil
}

// Save writes f to path. Token values are never logged.
func Save(path string, f *File) error {
	if f == nil || f.Token == nil {
		return errors.New("tokenfile: refusing to save an empty token")
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	return writeAtomic(path, data)
}

// Remove deletes the token file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return nil
}

// writeAtomic writes data to a temp file in the target directory, fsyncs it
// and renames it over path, so readers see either the old or the new file.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err = tmp.Chmod(FilePerms); err != nil {
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	return nil
}
