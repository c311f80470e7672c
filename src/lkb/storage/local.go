package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bitswalk/lkb/src/common/paths"
)

// LocalConfig holds the local filesystem storage configuration
type LocalConfig struct {
	// BasePath is the root directory of the cache
	BasePath string
}

// LocalBackend stores objects as files under a base directory
type LocalBackend struct {
	basePath string
}

// NewLocal creates a new local filesystem storage backend
func NewLocal(cfg LocalConfig) (*LocalBackend, error) {
	basePath := paths.Expand(cfg.BasePath)
	if basePath == "" {
		return nil, fmt.Errorf("local cache path is empty")
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", basePath, err)
	}

	return &LocalBackend{basePath: basePath}, nil
}

// fullPath maps a key to a path that cannot escape basePath
func (b *LocalBackend) fullPath(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	full := filepath.Join(b.basePath, clean)
	if !paths.Within(b.basePath, full) || full == filepath.Clean(b.basePath) {
		return "", fmt.Errorf("invalid cache key %q", key)
	}
	return full, nil
}

// Upload writes the object through a temporary file renamed into place
func (b *LocalBackend) Upload(ctx context.Context, key string, reader io.Reader, size int64) error {
	full, err := b.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	written, err := io.Copy(tmp, reader)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if size > 0 && written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", size, written)
	}

	if err := os.Rename(tmpPath, full); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Download opens a stored file
func (b *LocalBackend) Download(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	full, err := b.fullPath(key)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("object not found: %s", key)
		}
		return nil, nil, fmt.Errorf("failed to open %s: %w", full, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return file, b.info(key, stat), nil
}

// Delete removes a stored file
func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	full, err := b.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", full, err)
	}
	return nil
}

// Exists checks if a file exists
func (b *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	full, err := b.fullPath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", full, err)
	}
	return true, nil
}

// List lists files whose key starts with prefix
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	prefix = strings.TrimPrefix(prefix, "/")

	err := filepath.WalkDir(b.basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.basePath, path)
		if err != nil || strings.HasPrefix(filepath.Base(rel), ".upload-") {
			return nil
		}
		if prefix != "" && !strings.HasPrefix(rel, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		objects = append(objects, *b.info(rel, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", b.basePath, err)
	}
	return objects, nil
}

func (b *LocalBackend) info(key string, stat os.FileInfo) *ObjectInfo {
	return &ObjectInfo{
		Key:          key,
		Size:         stat.Size(),
		ETag:         strconv.Quote(fmt.Sprintf("%x-%x", stat.Size(), stat.ModTime().UnixNano())),
		LastModified: stat.ModTime(),
	}
}

// Ping checks that the base directory is usable
func (b *LocalBackend) Ping(ctx context.Context) error {
	if !paths.IsDir(b.basePath) {
		return fmt.Errorf("cache directory %s is missing", b.basePath)
	}
	return nil
}

// Type returns the storage backend type
func (b *LocalBackend) Type() string {
	return TypeLocal
}

// Location returns the base directory
func (b *LocalBackend) Location() string {
	return b.basePath
}
