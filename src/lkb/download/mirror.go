package download

import (
	"net/http"
	"net/url"
	"os"
	urlpath "path"
	"path/filepath"
	"sort"
	"strings"
)

// Mirror rewrites URLs starting with URLPrefix to MirrorURL
type Mirror struct {
	Name      string `mapstructure:"name"`
	URLPrefix string `mapstructure:"url_prefix"`
	MirrorURL string `mapstructure:"mirror_url"`
	Priority  int    `mapstructure:"priority"`
	Enabled   bool   `mapstructure:"enabled"`
}

// MirrorConfig holds global mirror/proxy settings
type MirrorConfig struct {
	ProxyURL  string // HTTP(S) proxy URL for all downloads
	LocalPath string // Local directory holding pre-fetched tarballs
}

// MirrorResolver resolves download URLs through configured mirrors and proxies.
// The original URL stays the last candidate so a broken mirror never blocks a build.
type MirrorResolver struct {
	mirrors []Mirror
	config  MirrorConfig
}

// NewMirrorResolver creates a resolver; mirrors are tried in ascending priority
func NewMirrorResolver(mirrors []Mirror, cfg MirrorConfig) *MirrorResolver {
	sorted := make([]Mirror, len(mirrors))
	copy(sorted, mirrors)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	return &MirrorResolver{
		mirrors: sorted,
		config:  cfg,
	}
}

// ResolveURL returns the first matching mirror URL, or the original URL
func (r *MirrorResolver) ResolveURL(originalURL string) string {
	candidates := r.Candidates(originalURL)
	return candidates[0]
}

// Candidates returns every URL to try, mirrors first, original last
func (r *MirrorResolver) Candidates(originalURL string) []string {
	var out []string
	if r != nil {
		for _, m := range r.mirrors {
			if !m.Enabled || m.URLPrefix == "" {
				continue
			}
			if strings.HasPrefix(originalURL, m.URLPrefix) {
				mirrored := m.MirrorURL + strings.TrimPrefix(originalURL, m.URLPrefix)
				log.Debug("Mirror URL resolved", "original", originalURL, "mirror", m.Name, "resolved", mirrored)
				out = append(out, mirrored)
			}
		}
	}
	return append(out, originalURL)
}

// ResolveLocalPath returns the tarball's path in the local mirror directory,
// or "" when it is not there
func (r *MirrorResolver) ResolveLocalPath(originalURL string) string {
	if r == nil || r.config.LocalPath == "" {
		return ""
	}

	filename := urlpath.Base(originalURL)
	if filename == "" || filename == "." || filename == "/" {
		return ""
	}

	candidate := filepath.Join(r.config.LocalPath, filename)
	if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
		log.Debug("Local mirror hit", "path", candidate)
		return candidate
	}
	return ""
}

// HTTPTransport returns a transport using the configured proxy, or nil
func (r *MirrorResolver) HTTPTransport() *http.Transport {
	if r == nil || r.config.ProxyURL == "" {
		return nil
	}

	proxyURL, err := url.Parse(r.config.ProxyURL)
	if err != nil {
		log.Warn("Invalid proxy URL", "url", r.config.ProxyURL, "error", err)
		return nil
	}

	return &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
	}
}
