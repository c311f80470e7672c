package build

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/lkb/download"
	"github.com/bitswalk/lkb/src/lkb/release"
	"github.com/bitswalk/lkb/src/lkb/storage"
)

func TestSourceURL(t *testing.T) {
	tests := []struct {
		base    string
		version string
		want    string
	}{
		{"", "6.10.3", "https://cdn.kernel.org/pub/linux/kernel/v6.x/linux-6.10.3.tar.xz"},
		{"http://mirror.local/kernel/", "5.15", "http://mirror.local/kernel/v5.x/linux-5.15.tar.xz"},
	}
	for _, tt := range tests {
		if got := SourceURL(tt.base, release.NewKernelVersion(tt.version)); got != tt.want {
			t.Errorf("SourceURL(%q, %q) = %q, want %q", tt.base, tt.version, got, tt.want)
		}
	}
}

func newKernelServer(t *testing.T, body []byte, status int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/v6.x/linux-6.10.tar.xz" || status != http.StatusOK {
			code := status
			if code == http.StatusOK {
				code = http.StatusNotFound
			}
			http.Error(w, "nope", code)
			return
		}
		http.ServeContent(w, r, "linux-6.10.tar.xz", time.Time{}, bytes.NewReader(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestDownloadStage_OverHTTP(t *testing.T) {
	body := bytes.Repeat([]byte("kernel"), 50000)
	srv, hits := newKernelServer(t, body, http.StatusOK)

	base := t.TempDir()
	artifacts := &FSArtifactStore{base: base, arch: "x86"}
	bc := NewBuildContext(release.NewKernelVersion("6.10"), base, t.TempDir())
	fetcher := download.NewDownloader(srv.Client(), nil, download.Config{RetryDelay: time.Millisecond})
	stage := NewDownloadStage(fetcher, artifacts, nil, srv.URL)

	var percents []int
	progress := func(pct int, msg string) { percents = append(percents, pct) }

	status, err := stage.Execute(context.Background(), bc, progress)
	if err != nil || status != StatusSucceeded {
		t.Fatalf("Execute() = %s, %v", status, err)
	}
	got, _ := os.ReadFile(artifacts.TarballPath(bc.Version))
	if !bytes.Equal(got, body) {
		t.Error("downloaded body differs")
	}
	if _, err := os.Stat(artifacts.PartialTarball(bc.Version)); !os.IsNotExist(err) {
		t.Error("part file left behind")
	}

	complete := 0
	for i, p := range percents {
		if i > 0 && p < percents[i-1] {
			t.Errorf("progress decreased: %v", percents)
		}
		if p == 100 {
			complete++
		}
	}
	if complete != 1 || percents[len(percents)-1] != 100 {
		t.Errorf("progress should reach 100 exactly once at the end: %v", percents)
	}

	before := atomic.LoadInt32(hits)
	status, err = stage.Execute(context.Background(), bc, progress)
	if err != nil || status != StatusSkipped {
		t.Fatalf("second Execute() = %s, %v", status, err)
	}
	if atomic.LoadInt32(hits) != before {
		t.Error("second download touched the network")
	}
}

func TestDownloadStage_HTTPErrorCarriesStatus(t *testing.T) {
	srv, _ := newKernelServer(t, nil, http.StatusForbidden)

	base := t.TempDir()
	artifacts := &FSArtifactStore{base: base, arch: "x86"}
	bc := NewBuildContext(release.NewKernelVersion("6.10"), base, t.TempDir())
	fetcher := download.NewDownloader(srv.Client(), nil, download.Config{RetryDelay: time.Millisecond})

	_, err := NewDownloadStage(fetcher, artifacts, nil, srv.URL).Execute(context.Background(), bc, func(int, string) {})
	if !errors.Is(err, errors.ErrDownloadFailed) || errors.GetDetail(err) != http.StatusForbidden {
		t.Fatalf("err = %v (detail %d), want DownloadFailed{403}", err, errors.GetDetail(err))
	}
	if artifacts.TarballComplete(bc.Version) {
		t.Error("failed download left a tarball")
	}
}

func TestDownloadStage_CacheRestoreAndStore(t *testing.T) {
	backend, err := storage.NewLocal(storage.LocalConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	cache := storage.NewTarballCache(backend)
	body := []byte("cached tarball")

	// First build stores what it downloaded
	env1 := newTestEnv(t, "6.10", 0)
	env1.fetcher.body = body
	stage := NewDownloadStage(env1.fetcher, env1.artifacts, cache, "")
	if _, err := stage.Execute(context.Background(), env1.bc, func(int, string) {}); err != nil {
		t.Fatal(err)
	}
	ok, err := backend.Exists(context.Background(), "linux-6.10.tar.xz")
	if err != nil || !ok {
		t.Fatalf("tarball not stored in cache: %v", err)
	}

	// A build in a fresh directory restores it without a transfer
	env2 := newTestEnv(t, "6.10", 0)
	stage = NewDownloadStage(env2.fetcher, env2.artifacts, cache, "")
	status, err := stage.Execute(context.Background(), env2.bc, func(int, string) {})
	if err != nil || status != StatusSucceeded {
		t.Fatalf("Execute() = %s, %v", status, err)
	}
	if env2.fetcher.calls != 0 {
		t.Errorf("fetcher called %d times despite a cache hit", env2.fetcher.calls)
	}
	got, _ := os.ReadFile(env2.artifacts.TarballPath(env2.bc.Version))
	if string(got) != string(body) {
		t.Errorf("restored %q", got)
	}
}

func TestDownloadStage_RejectsUnsafeVersion(t *testing.T) {
	env := newTestEnv(t, "6.10", 0)
	env.bc.Version = release.NewKernelVersion("../../etc")
	err := NewDownloadStage(env.fetcher, env.artifacts, nil, "").Validate(context.Background(), env.bc)
	if !errors.Is(err, errors.ErrDownloadFailed) {
		t.Errorf("err = %v", err)
	}
}
