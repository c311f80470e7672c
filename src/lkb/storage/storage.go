// Package storage provides the backends of the kernel tarball cache.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bitswalk/lkb/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the storage package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Backend defines the interface for storage backends
type Backend interface {
	// Upload uploads data to storage
	Upload(ctx context.Context, key string, reader io.Reader, size int64) error

	// Download opens an object for reading
	Download(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)

	// Delete deletes an object; a missing object is not an error
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// List lists objects with the given prefix
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Ping checks if the storage is accessible
	Ping(ctx context.Context) error

	// Type returns the storage backend type
	Type() string

	// Location returns a human-readable location description
	Location() string
}

// ObjectInfo holds metadata about a stored object
type ObjectInfo struct {
	Key          string    `json:"key" yaml:"key"`
	Size         int64     `json:"size" yaml:"size"`
	ETag         string    `json:"etag,omitempty" yaml:"etag,omitempty"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
}

// Backend types
const (
	TypeNone  = "none"
	TypeLocal = "local"
	TypeS3    = "s3"
)

// Config holds the storage configuration
type Config struct {
	// Type is the backend type: "none", "local" or "s3"
	Type string

	Local LocalConfig
	S3    S3Config
}

// DefaultConfig returns a configuration with caching disabled
func DefaultConfig() Config {
	return Config{
		Type: TypeNone,
		Local: LocalConfig{
			BasePath: "~/.cache/lkb/tarballs",
		},
	}
}

// New creates a backend from configuration; TypeNone yields (nil, nil)
func New(cfg Config) (Backend, error) {
	switch cfg.Type {
	case TypeNone, "":
		return nil, nil
	case TypeLocal:
		return NewLocal(cfg.Local)
	case TypeS3:
		return NewS3(cfg.S3)
	default:
		return nil, fmt.Errorf("unknown cache type %q (want none, local or s3)", cfg.Type)
	}
}
