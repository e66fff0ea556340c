// Package local stores objects as files under a base directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/catalog-harvester/internal/storage"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root every object path is resolved against.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore reads and writes files below BaseDir.
type BlobStore struct {
	baseDir string
}

// New creates the base directory when needed and checks it is writable.
func New(cfg Config) (*BlobStore, error) {
	base := strings.TrimSpace(cfg.BaseDir)
	if base == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(base)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(base, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory %s is not a directory", base)
	}

	probe, err := os.CreateTemp(base, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("remove probe file: %w", err)
	}
	return &BlobStore{baseDir: base}, nil
}

// PutObject replaces the file at path. The content is written to a temporary
// file in the same directory and renamed into place, so readers never see a
// partial object.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, data); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", fmt.Errorf("rename into place: %w", err)
	}
	committed = true
	return "file://" + full, nil
}

// GetObject opens the file at path. Missing files return storage.ErrNotFound.
func (s *BlobStore) GetObject(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full) // #nosec G304 -- path is confined to baseDir by resolve.
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", full, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", full, err)
	}
	return f, nil
}

func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("path %s must be relative", path)
	}
	base := filepath.Clean(s.baseDir)
	full := filepath.Clean(filepath.Join(base, path))
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}
