// Package credstore handles reading and writing the credential file. The
// file stores an OAuth2 token alongside cached account metadata (user name,
// user id). This is a leaf package imported by both config/ and pan/ so
// neither has to depend on the other.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts the credential file to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the credentials directory.
const DirPerms = 0o700

// File is the on-disk format for the credential file. Includes the OAuth
// token and optional metadata cached from API responses.
type File struct {
	ClientID string            `json:"client_id"`
	Token    *oauth2.Token     `json:"token"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// Load reads a saved credential file from disk.
// Returns (nil, nil) if the file does not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("credstore: reading %s: %w", path, err)
	}

	var cf File
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("credstore: decoding %s: %w", path, err)
	}

	if cf.Token == nil {
		return nil, fmt.Errorf("credstore: %s missing token field (re-login required)", path)
	}

	return &cf, nil
}

// Save writes the credential file to disk atomically (write-to-temp +
// rename) with 0600 permissions. Never logs token values.
func Save(path string, cf *File) error {
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("credstore: creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".cred-*.tmp")
	if err != nil {
		return fmt.Errorf("credstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	// Clean up temp file on any error path.
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: writing: %w", err)
	}

	// Flush to stable storage before rename so a power loss between close and
	// rename cannot leave an empty or partial credential file behind.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("credstore: renaming: %w", err)
	}

	success = true

	return nil
}

// Delete removes the credential file. Returns nil if the file does not
// exist (already logged out).
func Delete(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}

// MergeMeta reads the current credential file, merges new metadata keys
// (new keys overwrite existing), and saves. Returns an error if the file
// does not exist.
func MergeMeta(path string, meta map[string]string) error {
	cf, err := Load(path)
	if err != nil {
		return fmt.Errorf("reading credentials for metadata update: %w", err)
	}

	if cf == nil {
		return fmt.Errorf("no credential file at %s", path)
	}

	if cf.Meta == nil {
		cf.Meta = make(map[string]string, len(meta))
	}

	maps.Copy(cf.Meta, meta)

	return Save(path, cf)
}
