package build

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/lkb/download"
	"github.com/bitswalk/lkb/src/lkb/release"
	"github.com/bitswalk/lkb/src/lkb/storage"
)

// DefaultSourceBaseURL is the kernel.org tarball tree
const DefaultSourceBaseURL = "https://cdn.kernel.org/pub/linux/kernel"

// Fetcher transfers a URL to a local file
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string, progress download.ProgressCallback) error
}

// SourceURL returns <base>/v<major>.x/linux-<v>.tar.xz
func SourceURL(baseURL string, v release.KernelVersion) string {
	if baseURL == "" {
		baseURL = DefaultSourceBaseURL
	}
	return fmt.Sprintf("%s/v%s.x/%s", strings.TrimRight(baseURL, "/"), v.Major(), v.TarballName())
}

// DownloadStage fetches the source tarball into the base directory
type DownloadStage struct {
	fetcher   Fetcher
	artifacts ArtifactStore
	cache     *storage.TarballCache
	baseURL   string
}

// NewDownloadStage creates a new download stage; cache may be nil
func NewDownloadStage(fetcher Fetcher, artifacts ArtifactStore, cache *storage.TarballCache, baseURL string) *DownloadStage {
	return &DownloadStage{
		fetcher:   fetcher,
		artifacts: artifacts,
		cache:     cache,
		baseURL:   baseURL,
	}
}

// Name returns the stage name
func (s *DownloadStage) Name() StageName {
	return StageDownload
}

// Validate checks the version can name files safely
func (s *DownloadStage) Validate(ctx context.Context, bc *BuildContext) error {
	if err := bc.Version.Validate(); err != nil {
		return errors.ErrDownloadFailed.WithCause(err)
	}
	return nil
}

// Execute downloads the tarball unless a complete copy is already present
func (s *DownloadStage) Execute(ctx context.Context, bc *BuildContext, progress ProgressFunc) (Status, error) {
	dest := s.artifacts.TarballPath(bc.Version)
	if s.artifacts.TarballComplete(bc.Version) {
		progress(100, fmt.Sprintf("%s already downloaded", bc.Version.TarballName()))
		return StatusSkipped, nil
	}

	if err := os.MkdirAll(bc.BaseDirectory, 0755); err != nil {
		return StatusFailed, errors.ErrDownloadFailed.WithCause(err)
	}

	report := bytesProgress(progress, "Downloading "+bc.Version.TarballName())

	restored, err := s.cache.Restore(ctx, bc.Version.TarballName(), dest, report)
	if err != nil {
		log.Warn("Tarball cache restore failed, downloading", "error", err)
	}
	if restored {
		return StatusSucceeded, nil
	}

	url := SourceURL(s.baseURL, bc.Version)
	log.Info("Downloading kernel source", "url", url, "dest", dest)
	if err := s.fetcher.Fetch(ctx, url, dest, report); err != nil {
		return StatusFailed, err
	}

	if s.cache.Enabled() {
		if err := s.cache.Store(ctx, bc.Version.TarballName(), dest); err != nil {
			log.Warn("Failed to store tarball in cache", "error", err)
		}
	}
	return StatusSucceeded, nil
}

// bytesProgress adapts a byte counter to percent progress. With an
// unknown total the stage only reports completion.
func bytesProgress(progress ProgressFunc, message string) download.ProgressCallback {
	last := -1
	return func(received, total int64) {
		if total <= 0 {
			return
		}
		pct := int(received * 100 / total)
		if pct > 100 {
			pct = 100
		}
		if pct <= last {
			return
		}
		last = pct
		progress(pct, fmt.Sprintf("%s (%d/%d bytes)", message, received, total))
	}
}
