// Package local persists entries as JSON files on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/creator-suite/internal/storage"
)

// Config captures the parameters for the file persister.
type Config struct {
	// BaseDir is the directory holding one file per key.
	BaseDir string `mapstructure:"base_dir"`
	// MaxBytes caps each entry; zero disables the quota.
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// Persister writes entries to BaseDir.
type Persister struct {
	baseDir  string
	maxBytes int64
}

// New creates the base directory if needed and verifies it is writable.
func New(cfg Config) (*Persister, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Persister{baseDir: cfg.BaseDir, maxBytes: cfg.MaxBytes}, nil
}

func (p *Persister) pathFor(key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	full := filepath.Join(p.baseDir, storage.ObjectName("", key))
	cleanBase := filepath.Clean(p.baseDir)
	if !strings.HasPrefix(filepath.Clean(full), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

// Put replaces the file for key. The write goes through a temp file and a
// rename, so readers never observe a partial entry.
func (p *Persister) Put(_ context.Context, key string, data []byte) error {
	full, err := p.pathFor(key)
	if err != nil {
		return err
	}
	if err := storage.CheckQuota(key, len(data), p.maxBytes); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(p.baseDir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", full, err)
	}
	return nil
}

// Get reads the file for key.
func (p *Persister) Get(_ context.Context, key string) ([]byte, error) {
	full, err := p.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full) // #nosec G304 -- path is validated against baseDir.
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", full, err)
	}
	return data, nil
}

// Delete removes the file for key; a missing file is not an error.
func (p *Persister) Delete(_ context.Context, key string) error {
	full, err := p.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", full, err)
	}
	return nil
}
