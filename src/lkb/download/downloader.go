// Package download fetches kernel tarballs over HTTP(S) with progress
// reporting, mirror and proxy resolution, rate limiting and bounded retry.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the download package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// PartSuffix marks a transfer that has not completed
const PartSuffix = ".part"

// ProgressCallback is called with download progress updates.
// totalBytes is -1 while the size is unknown.
type ProgressCallback func(bytesReceived, totalBytes int64)

// Config holds downloader settings
type Config struct {
	Retries     int           // Extra attempts for network errors and 5xx responses
	RetryDelay  time.Duration // Base delay, doubled after every attempt
	RateLimit   int64         // Bytes per second, 0 = unlimited
	UserAgent   string
	VerifyFirst bool // Issue a HEAD request before the transfer
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Retries:    2,
		RetryDelay: 2 * time.Second,
		UserAgent:  "lkb/1.0",
	}
}

// Downloader streams remote files to disk
type Downloader struct {
	httpClient *http.Client
	resolver   *MirrorResolver
	limiter    *rateLimiter
	config     Config
}

// NewDownloader creates a new downloader. A nil client gets one without a
// timeout, routed through the resolver's proxy when configured.
func NewDownloader(httpClient *http.Client, resolver *MirrorResolver, cfg Config) *Downloader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0}
		if t := resolver.HTTPTransport(); t != nil {
			httpClient.Transport = t
		}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Downloader{
		httpClient: httpClient,
		resolver:   resolver,
		limiter:    newRateLimiter(cfg.RateLimit),
		config:     cfg,
	}
}

// attemptError carries whether a failed attempt may be retried
type attemptError struct {
	err       error
	retryable bool
}

// Fetch downloads url to dest. The body is written to dest+".part" and
// renamed onto dest only after the whole body arrived, so dest existing
// always means a complete file.
//
// Progress never decreases, even across retries, and reports
// bytesReceived == totalBytes exactly once, after the transfer succeeded.
func (d *Downloader) Fetch(ctx context.Context, url, dest string, progress ProgressCallback) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.ErrDownloadFailed.WithCause(err)
	}

	mp := &monotonicProgress{cb: progress, last: -1}
	partPath := dest + PartSuffix

	if local := d.resolver.ResolveLocalPath(url); local != "" {
		log.Info("Using local mirror copy", "path", local)
		n, err := copyToPart(ctx, local, partPath)
		if err == nil {
			return d.commit(partPath, dest, n, mp)
		}
		log.Warn("Local mirror copy failed, downloading instead", "path", local, "error", err)
	}

	var lastErr error
	for _, candidate := range d.resolver.Candidates(url) {
		err := d.fetchWithRetry(ctx, candidate, partPath, mp)
		if err == nil {
			return d.commit(partPath, dest, mp.received, mp)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if candidate != url {
			log.Warn("Mirror download failed, trying next source", "url", candidate, "error", err)
		}
	}

	_ = os.Remove(partPath)
	return lastErr
}

// fetchWithRetry applies bounded exponential backoff to one URL
func (d *Downloader) fetchWithRetry(ctx context.Context, url, partPath string, mp *monotonicProgress) error {
	if d.config.VerifyFirst {
		// A failed HEAD falls through to the GET, which retries on its own
		p, err := d.probe(ctx, url)
		switch {
		case err != nil:
			log.Debug("HEAD request failed", "url", url, "error", err)
		case !p.Exists && p.StatusCode < 500:
			return errors.ErrDownloadFailed.WithDetail(p.StatusCode).
				WithMessagef("Kernel download failed: %s returned status %d", url, p.StatusCode)
		case p.Exists:
			log.Debug("Remote tarball found", "url", url, "bytes", p.ContentLength)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= d.config.Retries; attempt++ {
		if attempt > 0 {
			delay := d.config.RetryDelay * time.Duration(1<<uint(attempt-1))
			log.Info("Retrying download", "url", url, "attempt", attempt, "max_retries", d.config.Retries, "delay", delay)
			select {
			case <-ctx.Done():
				return errors.ErrDownloadFailed.WithCause(ctx.Err())
			case <-time.After(delay):
			}
		}

		aerr := d.fetchOnce(ctx, url, partPath, mp)
		if aerr == nil {
			return nil
		}
		lastErr = aerr.err
		if !aerr.retryable || ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

// fetchOnce performs a single GET into partPath
func (d *Downloader) fetchOnce(ctx context.Context, url, partPath string, mp *monotonicProgress) *attemptError {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &attemptError{err: errors.ErrDownloadFailed.WithCause(err)}
	}
	req.Header.Set("User-Agent", d.config.UserAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return &attemptError{
			err:       errors.ErrDownloadFailed.WithCause(fmt.Errorf("HTTP request failed: %w", err)),
			retryable: ctx.Err() == nil,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &attemptError{
			err: errors.ErrDownloadFailed.WithDetail(resp.StatusCode).
				WithMessagef("Kernel download failed: %s returned status %d", url, resp.StatusCode),
			retryable: resp.StatusCode >= 500,
		}
	}

	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return &attemptError{err: errors.ErrDownloadFailed.WithCause(err)}
	}
	defer file.Close()

	totalBytes := resp.ContentLength
	mp.total = totalBytes
	body := newThrottledReader(ctx, resp.Body, d.limiter)

	var bytesReceived int64
	buf := make([]byte, 32*1024)

	for {
		select {
		case <-ctx.Done():
			return &attemptError{err: errors.ErrDownloadFailed.WithCause(ctx.Err())}
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return &attemptError{err: errors.ErrDownloadFailed.WithCause(fmt.Errorf("failed to write %s: %w", partPath, writeErr))}
			}
			bytesReceived += int64(n)
			mp.update(bytesReceived)
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return &attemptError{
				err:       errors.ErrDownloadFailed.WithCause(fmt.Errorf("failed to read response body: %w", readErr)),
				retryable: ctx.Err() == nil,
			}
		}
	}

	if totalBytes > 0 && bytesReceived != totalBytes {
		return &attemptError{
			err:       errors.ErrDownloadFailed.WithCause(fmt.Errorf("short body: got %d of %d bytes", bytesReceived, totalBytes)),
			retryable: true,
		}
	}

	if err := file.Sync(); err != nil {
		return &attemptError{err: errors.ErrDownloadFailed.WithCause(err)}
	}

	mp.received = bytesReceived
	return nil
}

// commit renames the part file onto dest and emits the final progress
func (d *Downloader) commit(partPath, dest string, size int64, mp *monotonicProgress) error {
	if err := os.Rename(partPath, dest); err != nil {
		_ = os.Remove(partPath)
		return errors.ErrDownloadFailed.WithCause(fmt.Errorf("failed to finalize %s: %w", dest, err))
	}
	mp.complete(size)
	log.Debug("Download complete", "path", dest, "bytes", size)
	return nil
}

// copyToPart copies a local mirror file into partPath
func copyToPart(ctx context.Context, src, partPath string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, &contextReader{ctx: ctx, r: in})
	if err != nil {
		_ = os.Remove(partPath)
		return 0, err
	}
	return n, out.Sync()
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// monotonicProgress filters callbacks so reported values never go backwards
// and the completion value is delivered once
type monotonicProgress struct {
	cb       ProgressCallback
	last     int64
	total    int64
	received int64
	done     bool
}

func (m *monotonicProgress) update(received int64) {
	if m.cb == nil || m.done || received <= m.last {
		return
	}
	// Completion is reported by complete() after the rename
	if m.total > 0 && received >= m.total {
		return
	}
	m.last = received
	total := m.total
	if total <= 0 {
		total = -1
	}
	m.cb(received, total)
}

func (m *monotonicProgress) complete(size int64) {
	if m.cb == nil || m.done {
		return
	}
	m.done = true
	m.last = size
	m.cb(size, size)
}
