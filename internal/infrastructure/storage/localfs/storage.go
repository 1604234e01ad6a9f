// Package localfs stores pipeline artifacts on the local filesystem. Keys
// map to flat file names inside one working directory, the same directory
// stage processes read and write.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/avatarkit/vrmforge/internal/core/domain"
)

type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/artifacts"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{basePath: basePath}, nil
}

// Save writes to a temp file and renames it in, so a key never exposes a
// half-written artifact.
func (s *Storage) Save(_ context.Context, key string, data io.Reader) error {
	path := s.Path(key)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish file: %w", err)
	}
	return nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrArtifactNotFound, "open artifact", err)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (s *Storage) Stat(_ context.Context, key string) (int64, error) {
	info, err := os.Stat(s.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, domain.WrapError(domain.ErrArtifactNotFound, "stat artifact", err)
		}
		return 0, fmt.Errorf("stat file: %w", err)
	}
	return info.Size(), nil
}

// Path resolves a key inside the working directory. Keys are flat names;
// anything path-like is reduced to its base to keep artifacts inside.
func (s *Storage) Path(key string) string {
	return filepath.Join(s.basePath, filepath.Base(key))
}

func (s *Storage) RemoveMatching(_ context.Context, patterns []string) (int, error) {
	removed := 0
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(s.basePath, filepath.Base(pattern)))
		if err != nil {
			return removed, fmt.Errorf("bad artifact pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
				return removed, fmt.Errorf("remove artifact: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

// Sweep removes artifacts last modified before the cutoff. Stray temp
// files from interrupted writes age out with everything else.
func (s *Storage) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return 0, fmt.Errorf("read storage dir: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.basePath, entry.Name())); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("sweep artifact: %w", err)
		}
		removed++
	}
	return removed, nil
}
