// Package release fetches the list of published kernel releases.
package release

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the release package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// DefaultURL is the kernel.org release feed
const DefaultURL = "https://www.kernel.org/releases.json"

// Catalog lists available kernel releases
type Catalog interface {
	Releases(ctx context.Context) ([]KernelVersion, error)
}

// Config holds configuration for the kernel.org catalog
type Config struct {
	URL        string
	Retries    int           // Extra attempts after the first one
	RetryDelay time.Duration // Base delay, doubled after every attempt
	Timeout    time.Duration
	UserAgent  string
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		URL:        DefaultURL,
		Retries:    2,
		RetryDelay: 2 * time.Second,
		Timeout:    30 * time.Second,
		UserAgent:  "lkb/1.0",
	}
}

// KernelOrgCatalog reads releases.json from kernel.org
type KernelOrgCatalog struct {
	httpClient *http.Client
	config     Config
}

// NewKernelOrgCatalog creates a catalog client
func NewKernelOrgCatalog(httpClient *http.Client, cfg Config) *KernelOrgCatalog {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &KernelOrgCatalog{httpClient: httpClient, config: cfg}
}

// releasesDocument mirrors the parts of releases.json we use
type releasesDocument struct {
	LatestStable struct {
		Version string `json:"version"`
	} `json:"latest_stable"`
	Releases []struct {
		Moniker  string `json:"moniker"`
		Version  string `json:"version"`
		IsEOL    bool   `json:"iseol"`
		Source   string `json:"source"`
		Released struct {
			ISODate string `json:"isodate"`
		} `json:"released"`
	} `json:"releases"`
}

// Releases fetches the published releases in feed order.
// An unreachable feed or an empty list yields ErrCatalogUnavailable.
func (c *KernelOrgCatalog) Releases(ctx context.Context) ([]KernelVersion, error) {
	doc, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	versions := make([]KernelVersion, 0, len(doc.Releases))
	for _, r := range doc.Releases {
		if r.Version == "" {
			continue
		}
		versions = append(versions, KernelVersion{
			Version:      r.Version,
			Moniker:      r.Moniker,
			ReleaseDate:  r.Released.ISODate,
			SourceURL:    r.Source,
			IsEOL:        r.IsEOL,
			LatestStable: r.Version == doc.LatestStable.Version,
		})
	}

	if len(versions) == 0 {
		return nil, errors.ErrCatalogUnavailable
	}

	log.Debug("Fetched kernel releases", "count", len(versions), "url", c.config.URL)
	return versions, nil
}

// fetch downloads and decodes the feed with bounded retry
func (c *KernelOrgCatalog) fetch(ctx context.Context) (*releasesDocument, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.Retries; attempt++ {
		if attempt > 0 {
			delay := c.config.RetryDelay * time.Duration(1<<uint(attempt-1))
			log.Info("Retrying release list fetch", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, errors.ErrCatalogUnavailable.WithCause(ctx.Err())
			case <-time.After(delay):
			}
		}

		doc, retryable, err := c.fetchOnce(ctx)
		if err == nil {
			return doc, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return nil, errors.ErrCatalogUnavailable.WithCause(lastErr)
}

func (c *KernelOrgCatalog) fetchOnce(ctx context.Context) (*releasesDocument, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("failed to fetch release list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode >= 500, fmt.Errorf("release list returned status %d", resp.StatusCode)
	}

	var doc releasesDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, false, fmt.Errorf("failed to decode release list: %w", err)
	}
	return &doc, false, nil
}

// Find returns the release matching version, or ErrNotFound
func Find(versions []KernelVersion, version string) (KernelVersion, error) {
	for _, v := range versions {
		if v.Version == version {
			return v, nil
		}
	}
	return KernelVersion{}, errors.ErrNotFound.WithMessagef("Kernel release %s is not in the catalog", version)
}

// Latest picks the release to build when none was named: the one the feed
// marks latest stable, otherwise the highest maintained final release,
// otherwise the highest release of any kind.
func Latest(versions []KernelVersion) (KernelVersion, error) {
	if len(versions) == 0 {
		return KernelVersion{}, errors.ErrCatalogUnavailable
	}
	for _, v := range versions {
		if v.LatestStable {
			return v, nil
		}
	}

	var best, bestFinal *KernelVersion
	for i := range versions {
		v := &versions[i]
		if best == nil || Compare(v.Version, best.Version) > 0 {
			best = v
		}
		if v.IsEOL || strings.Contains(v.Version, "-") {
			continue
		}
		if bestFinal == nil || Compare(v.Version, bestFinal.Version) > 0 {
			bestFinal = v
		}
	}
	if bestFinal != nil {
		return *bestFinal, nil
	}
	return *best, nil
}
