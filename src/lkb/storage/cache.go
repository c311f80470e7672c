package storage

import (
	"context"
	"fmt"
	"io"
	"os"
)

// TarballCache keeps downloaded kernel tarballs in a Backend so later
// builds, possibly on other machines, skip the network transfer
type TarballCache struct {
	backend Backend
}

// NewTarballCache wraps backend; a nil backend disables caching
func NewTarballCache(backend Backend) *TarballCache {
	return &TarballCache{backend: backend}
}

// Enabled reports whether a backend is configured
func (c *TarballCache) Enabled() bool {
	return c != nil && c.backend != nil
}

// Ping checks the backend once before a build. An unreachable backend is
// dropped so the build downloads from the network instead.
func (c *TarballCache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.backend.Ping(ctx); err != nil {
		log.Warn("Tarball cache unavailable, continuing without it",
			"backend", c.backend.Type(),
			"location", c.backend.Location(),
			"error", err,
		)
		c.backend = nil
		return err
	}
	return nil
}

// List returns the cached tarballs
func (c *TarballCache) List(ctx context.Context) ([]ObjectInfo, error) {
	if !c.Enabled() {
		return nil, nil
	}
	return c.backend.List(ctx, "linux-")
}

// Delete removes name from the cache; removing an absent tarball is not an error
func (c *TarballCache) Delete(ctx context.Context, name string) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.backend.Delete(ctx, name); err != nil {
		return err
	}
	log.Info("Removed tarball from cache", "name", name, "backend", c.backend.Type())
	return nil
}

// Location describes where the cache lives, empty when disabled
func (c *TarballCache) Location() string {
	if !c.Enabled() {
		return ""
	}
	return c.backend.Type() + ":" + c.backend.Location()
}

// Restore copies name from the cache to dest. It returns false when the
// cache does not hold name. dest only appears once the copy is complete.
func (c *TarballCache) Restore(ctx context.Context, name, dest string, progress func(received, total int64)) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}

	ok, err := c.backend.Exists(ctx, name)
	if err != nil || !ok {
		return false, err
	}

	body, info, err := c.backend.Download(ctx, name)
	if err != nil {
		return false, err
	}
	defer body.Close()

	part := dest + ".part"
	out, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return false, err
	}

	written, err := io.Copy(out, body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err == nil && info != nil && info.Size > 0 && written != info.Size {
		err = fmt.Errorf("cached %s is truncated: %d of %d bytes", name, written, info.Size)
	}
	if err != nil {
		_ = os.Remove(part)
		return false, err
	}

	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return false, err
	}
	if progress != nil {
		progress(written, written)
	}

	log.Info("Restored tarball from cache", "name", name, "backend", c.backend.Type(), "bytes", written)
	return true, nil
}

// Store uploads the file at path under name. Failures are returned but the
// caller treats them as warnings since the tarball is already on disk.
func (c *TarballCache) Store(ctx context.Context, name, path string) error {
	if !c.Enabled() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	if err := c.backend.Upload(ctx, name, f, stat.Size()); err != nil {
		return err
	}
	log.Debug("Stored tarball in cache", "name", name, "backend", c.backend.Type(), "location", c.backend.Location())
	return nil
}
