package download

import (
	"context"
	"net/http"
)

// Probe describes a remote tarball as reported by a HEAD request
type Probe struct {
	Exists        bool
	StatusCode    int
	ContentLength int64
}

// probe issues a HEAD request for url
func (d *Downloader) probe(ctx context.Context, url string) (*Probe, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.config.UserAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	p := &Probe{
		Exists:     resp.StatusCode == http.StatusOK,
		StatusCode: resp.StatusCode,
	}
	if p.Exists {
		p.ContentLength = resp.ContentLength
	}
	return p, nil
}
