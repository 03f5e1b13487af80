// Package local implements the on-disk artifact store rooted at the output
// directory. Writes are atomic: bytes land in a temp file first and are
// renamed into place, so a crash can never leave a partial file at a final
// artifact path.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store writes artifacts below a base directory.
type Store struct {
	baseDir string
}

// New validates that baseDir exists (creating it if needed) and is writable.
// Failures here are configuration errors and abort the run before any work.
func New(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}

	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create output directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat output directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("output path %s is not a directory", baseDir)
	}

	probe := filepath.Join(baseDir, ".writable_probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o600); err != nil {
		return nil, fmt.Errorf("output directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up write probe: %w", err)
	}

	return &Store{baseDir: baseDir}, nil
}

// Put writes data atomically at relPath and returns the absolute path.
func (s *Store) Put(ctx context.Context, relPath string, data []byte) (string, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename into place: %w", err)
	}
	return full, nil
}

// Open reads the artifact at relPath.
func (s *Store) Open(relPath string) ([]byte, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// Stat reports the artifact size at relPath when the file exists.
func (s *Store) Stat(relPath string) (int64, bool) {
	full, err := s.resolve(relPath)
	if err != nil {
		return 0, false
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return 0, false
	}
	return info.Size(), true
}

// Remove deletes the artifact at relPath; a missing file is not an error.
func (s *Store) Remove(relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// AbsPath returns the absolute path relPath resolves to.
func (s *Store) AbsPath(relPath string) string {
	full, err := s.resolve(relPath)
	if err != nil {
		return filepath.Join(s.baseDir, relPath)
	}
	return full
}

// resolve joins relPath under the base directory, rejecting traversal
// outside it.
func (s *Store) resolve(relPath string) (string, error) {
	if strings.TrimSpace(relPath) == "" {
		return "", fmt.Errorf("artifact path is required")
	}
	full := filepath.Clean(filepath.Join(s.baseDir, relPath))
	base := filepath.Clean(s.baseDir)
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path %q escapes output directory", relPath)
	}
	return full, nil
}
