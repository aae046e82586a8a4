// Package scriptstore persists generated programs as write-once files.
package scriptstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrExists is returned when a program with the same name was already written.
var ErrExists = errors.New("script file already exists")

// Store writes program files into a single output directory.
type Store struct {
	fs     afero.Fs
	dir    string
	logger *zap.Logger
}

// New returns a store rooted at dir, which may start with "~". The directory
// is created if missing.
func New(fsys afero.Fs, dir string, logger *zap.Logger) (*Store, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand output directory %q: %w", dir, err)
	}
	if abs, err := filepath.Abs(expanded); err == nil {
		expanded = abs
	}
	if err := fsys.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %q: %w", expanded, err)
	}
	return &Store{fs: fsys, dir: expanded, logger: logger.Named("scriptstore")}, nil
}

// Dir returns the absolute output directory.
func (s *Store) Dir() string { return s.dir }

// Fs exposes the underlying filesystem so readers share the same view.
func (s *Store) Fs() afero.Fs { return s.fs }

// Path returns where a file with the given name is (or would be) stored.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Write creates name exclusively and writes code to it, returning the path.
func (s *Store) Write(name, code string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("script file name must not be empty")
	}
	path := s.Path(name)

	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, path)
		}
		return "", fmt.Errorf("failed to create script file: %w", err)
	}

	if _, err := f.WriteString(code); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(path)
		return "", fmt.Errorf("failed to write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close script file: %w", err)
	}

	s.logger.Debug("Script written.", zap.String("path", path), zap.Int("bytes", len(code)))
	return path, nil
}

// Read returns the contents of a stored program.
func (s *Store) Read(path string) (string, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return "", fmt.Errorf("failed to read script file %s: %w", path, err)
	}
	return string(data), nil
}

// Remove deletes a stored program. Missing files are not an error.
func (s *Store) Remove(path string) error {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove script file %s: %w", path, err)
	}
	return nil
}
