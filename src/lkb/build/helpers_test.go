package build

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ulikunitz/xz"

	"github.com/bitswalk/lkb/src/common/logs"
	"github.com/bitswalk/lkb/src/lkb/bootloader"
	"github.com/bitswalk/lkb/src/lkb/distro"
	"github.com/bitswalk/lkb/src/lkb/download"
	"github.com/bitswalk/lkb/src/lkb/release"
	"github.com/bitswalk/lkb/src/lkb/runner"
)

func init() {
	SetLogger(logs.NewDiscard())
}

// staticCatalog is a fixed release list
type staticCatalog []release.KernelVersion

func (s staticCatalog) Releases(ctx context.Context) ([]release.KernelVersion, error) {
	return append([]release.KernelVersion(nil), s...), nil
}

type tarEntry struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

// makeTarXz writes an xz-compressed tar with the given entries
func makeTarXz(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(xw)
	for _, e := range entries {
		if e.typeflag == tar.TypeXGlobalHeader {
			// Only PAX records may be set on a global header
			hdr := &tar.Header{Name: e.name, Typeflag: e.typeflag, PAXRecords: map[string]string{"comment": "0123456789abcdef"}}
			if err := tw.WriteHeader(hdr); err != nil {
				t.Fatal(err)
			}
			continue
		}
		hdr := &tar.Header{Name: e.name, Mode: 0644, Typeflag: e.typeflag, Linkname: e.linkname}
		if hdr.Typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			hdr.Mode = 0755
		case tar.TypeReg:
			hdr.Size = int64(len(e.body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.WriteString(tw, e.body); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

// kernelTarball returns a minimal source archive for version
func kernelTarball(t *testing.T, version string) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.tar.xz")
	top := "linux-" + version + "/"
	makeTarXz(t, path, []tarEntry{
		{name: "pax_global_header", typeflag: tar.TypeXGlobalHeader},
		{name: top, typeflag: tar.TypeDir},
		{name: top + "Makefile", body: "VERSION = 6\n"},
		{name: top + "scripts/", typeflag: tar.TypeDir},
		{name: top + "init/main.c", body: "int main(void) { return 0; }\n"},
		{name: top + "COPYING", body: "GPL-2.0\n"},
	})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// stubFetcher serves one tarball body and counts transfers
type stubFetcher struct {
	mu    sync.Mutex
	body  []byte
	calls int
	urls  []string
	err   error
}

func (f *stubFetcher) Fetch(ctx context.Context, url, dest string, progress download.ProgressCallback) error {
	f.mu.Lock()
	f.calls++
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if err := os.WriteFile(dest, f.body, 0644); err != nil {
		return err
	}
	if progress != nil {
		progress(int64(len(f.body)), int64(len(f.body)))
	}
	return nil
}

// seedStrategy writes a fixed .config without invoking make
type seedStrategy struct {
	err error
}

func (s seedStrategy) Name() string { return "test-seed" }

func (s seedStrategy) Seed(ctx context.Context, r runner.Runner, srcDir string) error {
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(filepath.Join(srcDir, ".config"), []byte("CONFIG_SYSTEM_TRUSTED_KEYS=\"debian/certs.pem\"\n"), 0644)
}

// stubDetector returns a fixed boot loader
type stubDetector struct {
	bl  bootloader.Bootloader
	err error
}

func (d stubDetector) Detect(ctx context.Context) (bootloader.Bootloader, error) {
	return d.bl, d.err
}

type stubBootloader struct {
	refreshed int
	err       error
}

func (b *stubBootloader) Kind() bootloader.Kind { return bootloader.KindGrub }

func (b *stubBootloader) Refresh(ctx context.Context) error {
	b.refreshed++
	return b.err
}

// fakeToolchain answers make, install and dracut the way the real tools
// lay out files, with make's build exit code set by compileExit
func fakeToolchain(t *testing.T, compileExit int) *runner.Fake {
	t.Helper()
	return runner.NewFake().
		On("make", func(c runner.Command) (*runner.Result, error) {
			if len(c.Args) == 0 {
				return &runner.Result{}, nil
			}
			switch {
			case c.Args[0] == "-s" && len(c.Args) > 1 && c.Args[1] == "image_name":
				return &runner.Result{Stdout: "arch/x86/boot/bzImage\n"}, nil
			case len(c.Args[0]) > 2 && c.Args[0][:2] == "-j":
				if compileExit != 0 {
					return &runner.Result{ExitCode: compileExit, Stderr: "error: implicit declaration"}, nil
				}
				writeFile(t, filepath.Join(c.Dir, "arch/x86/boot/bzImage"), "kernel")
				writeFile(t, filepath.Join(c.Dir, "System.map"), "ffffffff81000000 T _text\n")
				if c.Stdout != nil {
					io.WriteString(c.Stdout, "  CC      init/main.o\n  LD      vmlinux\nKernel: arch/x86/boot/bzImage is ready  (#1)\n")
				}
			}
			return &runner.Result{}, nil
		}).
		On("install", func(c runner.Command) (*runner.Result, error) {
			src, dest := c.Args[len(c.Args)-2], c.Args[len(c.Args)-1]
			data, err := os.ReadFile(src)
			if err != nil {
				return &runner.Result{ExitCode: 1, Stderr: err.Error()}, nil
			}
			writeFile(t, dest, string(data))
			return &runner.Result{}, nil
		}).
		On("dracut", func(c runner.Command) (*runner.Result, error) {
			writeFile(t, c.Args[len(c.Args)-1], "initramfs")
			return &runner.Result{}, nil
		})
}

// testEnv wires the default stages against temp directories
type testEnv struct {
	bc        *BuildContext
	runner    *runner.Fake
	fetcher   *stubFetcher
	loader    *stubBootloader
	artifacts *FSArtifactStore
	deps      Deps
}

func newTestEnv(t *testing.T, version string, compileExit int) *testEnv {
	t.Helper()
	base := t.TempDir()
	boot := t.TempDir()
	v := release.NewKernelVersion(version)

	artifacts := &FSArtifactStore{base: base, arch: "x86"}
	fetcher := &stubFetcher{body: kernelTarball(t, version)}
	loader := &stubBootloader{}
	fake := fakeToolchain(t, compileExit)

	bc := NewBuildContext(v, base, boot)
	bc.Jobs = 4

	return &testEnv{
		bc:        bc,
		runner:    fake,
		fetcher:   fetcher,
		loader:    loader,
		artifacts: artifacts,
		deps: Deps{
			Runner:    fake,
			Fetcher:   fetcher,
			Artifacts: artifacts,
			Distro: &distro.Distro{
				ID:        distro.Generic,
				Name:      "Test Linux",
				Packages:  distro.NewManualPackages(),
				Configure: seedStrategy{},
				Initramfs: distro.NewDracut(),
			},
			Bootloader: stubDetector{bl: loader},
		},
	}
}

func (e *testEnv) pipeline(opts ...PipelineOption) *Pipeline {
	return NewPipeline(DefaultStages(e.deps), opts...)
}

func statuses(outcomes []StageOutcome) map[StageName]Status {
	m := make(map[StageName]Status, len(outcomes))
	for _, o := range outcomes {
		m[o.Stage] = o.Status
	}
	return m
}
