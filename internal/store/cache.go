// Package store persists files the tool reuses between runs.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/naka-gawa/template-stats/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// CacheStore reads and writes the reviewer cache file.
type CacheStore struct {
	fs     afero.Fs
	path   string
	logger *logrus.Logger
}

// NewCacheStore creates a CacheStore for the file at path.
func NewCacheStore(fs afero.Fs, path string, logger *logrus.Logger) *CacheStore {
	return &CacheStore{fs: fs, path: path, logger: logger}
}

// Load returns the stored cache. A missing file is an empty cache.
func (s *CacheStore) Load() (domain.ReviewCache, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Infof("No reviewer cache at %s, starting empty.", s.path)
		return domain.ReviewCache{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reviewer cache %s: %w", s.path, err)
	}

	cache := domain.ReviewCache{}
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("decode reviewer cache %s: %w", s.path, err)
	}
	s.logger.Debugf("Loaded %d reviewer cache entries from %s.", len(cache), s.path)
	return cache, nil
}

// Save replaces the cache file with cache.
func (s *CacheStore) Save(cache domain.ReviewCache) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("encode reviewer cache: %w", err)
	}
	if err := WriteFileAtomic(s.fs, s.path, append(data, '\n')); err != nil {
		return fmt.Errorf("write reviewer cache: %w", err)
	}
	s.logger.Debugf("Saved %d reviewer cache entries to %s.", len(cache), s.path)
	return nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it over path, so readers never see a partial file.
func WriteFileAtomic(fsys afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(fsys, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fsys.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		fsys.Remove(tmpPath)
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		fsys.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := fsys.Chmod(tmpPath, filePerm); err != nil {
		fsys.Remove(tmpPath)
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := fsys.Rename(tmpPath, path); err != nil {
		fsys.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", tmpPath, err)
	}
	return nil
}
