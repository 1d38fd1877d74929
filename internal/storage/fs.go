// Package storage persists rendered export artifacts on the local
// filesystem, keyed by tenant-scoped relative paths.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type FS struct {
	Root string
}

func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FS{Root: root}, nil
}

func (s *FS) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid artifact path %q", path)
	}
	return filepath.Join(s.Root, clean), nil
}

func (s *FS) Put(path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (s *FS) Get(path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}
