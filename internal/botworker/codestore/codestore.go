// Package codestore persists uploaded bot source on local disk.
//
// Every bot gets its own directory <root>/<botID>/ holding a single entry
// file. The directory is what the sandbox mounts read-only, so nothing else
// may be written into it.
package codestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EntryFile is the name of the source file inside a bot directory.
const EntryFile = "code.py"

const stagingPrefix = ".staging-"

// ErrEmptyCode is returned by Write when no source was supplied.
var ErrEmptyCode = errors.New("no code supplied")

// Store writes and removes per-bot code directories under root.
type Store struct {
	root string
}

// New returns a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve code root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create code root %q: %w", abs, err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string { return s.root }

// Write stores code for botID and returns the absolute path of the entry
// file. Files are world-readable so a non-root sandbox user can load them.
// The bot directory is written once: it is assembled under a hidden staging
// name and renamed into place, so a failed Write leaves nothing behind.
func (s *Store) Write(botID string, code []byte) (string, error) {
	if len(code) == 0 {
		return "", ErrEmptyCode
	}
	dir, err := s.botDir(botID)
	if err != nil {
		return "", err
	}

	staging, err := os.MkdirTemp(s.root, stagingPrefix)
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)
	if err := os.Chmod(staging, 0o755); err != nil {
		return "", fmt.Errorf("chmod staging dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(staging, EntryFile), code, 0o644); err != nil {
		return "", fmt.Errorf("write code: %w", err)
	}
	// WriteFile honours the umask.
	if err := os.Chmod(filepath.Join(staging, EntryFile), 0o644); err != nil {
		return "", fmt.Errorf("chmod code: %w", err)
	}
	if err := os.Rename(staging, dir); err != nil {
		return "", fmt.Errorf("commit code: %w", err)
	}
	return filepath.Join(dir, EntryFile), nil
}

// Read returns the stored source at path.
func (s *Store) Read(path string) ([]byte, error) {
	if err := s.contains(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read code: %w", err)
	}
	return data, nil
}

// Delete removes the bot directory that holds path. Deleting something
// already gone is not an error.
func (s *Store) Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := s.contains(path); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Dir(path)); err != nil {
		return fmt.Errorf("remove bot dir: %w", err)
	}
	return nil
}

func (s *Store) botDir(botID string) (string, error) {
	if botID == "" || strings.ContainsAny(botID, `/\`) || strings.HasPrefix(botID, ".") {
		return "", fmt.Errorf("invalid bot id %q", botID)
	}
	return filepath.Join(s.root, botID), nil
}

// contains refuses paths outside a bot directory under root.
func (s *Store) contains(path string) error {
	rel, err := filepath.Rel(s.root, filepath.Dir(filepath.Clean(path)))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return fmt.Errorf("path %q is not inside the code store", path)
	}
	return nil
}
