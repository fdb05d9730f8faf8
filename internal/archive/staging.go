// Package archive handles intake of uploaded site bundles: staging the raw
// bytes to private scratch storage, extracting the zip, and validating that
// the result is a usable static bundle.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Staging owns per-request scratch directories under a common root. Every
// Stage call gets its own isolated directory so concurrent requests cannot
// interfere; callers are responsible for cleanup via Cleanup.
type Staging struct {
	root string
}

// NewStaging ensures the scratch root exists and is accessible.
func NewStaging(root string) (*Staging, error) {
	if root == "" {
		return nil, fmt.Errorf("scratch root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	return &Staging{root: root}, nil
}

// Stage writes the uploaded archive bytes into a fresh uniquely-named scratch
// directory and returns the archive path.
func (s *Staging) Stage(data []byte) (string, error) {
	dir, err := os.MkdirTemp(s.root, "stage-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	path := filepath.Join(dir, "bundle.zip")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("write staged archive: %w", err)
	}
	return path, nil
}

// ScratchDir creates a fresh empty scratch directory, used as an extraction
// target.
func (s *Staging) ScratchDir() (string, error) {
	dir, err := os.MkdirTemp(s.root, "extract-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

// Cleanup removes the scratch directory containing path. It refuses to touch
// anything outside the configured root.
func (s *Staging) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	dir := path
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		dir = filepath.Dir(path)
	}
	rel, err := filepath.Rel(s.root, dir)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to cleanup path outside scratch root")
	}
	return os.RemoveAll(dir)
}
