package download

import (
	"os"
	"path/filepath"
	"testing"
)

const kernelURL = "https://cdn.kernel.org/pub/linux/kernel/v6.x/linux-6.10.tar.xz"

func TestMirrorResolver_ResolveURL_NoMirrors(t *testing.T) {
	r := NewMirrorResolver(nil, MirrorConfig{})
	if got := r.ResolveURL(kernelURL); got != kernelURL {
		t.Errorf("expected original URL, got %q", got)
	}
}

func TestMirrorResolver_ResolveURL_PrefixMatch(t *testing.T) {
	r := NewMirrorResolver([]Mirror{{
		Name:      "local",
		URLPrefix: "https://cdn.kernel.org/pub/",
		MirrorURL: "https://mirror.local/kernel/",
		Enabled:   true,
	}}, MirrorConfig{})

	want := "https://mirror.local/kernel/linux/kernel/v6.x/linux-6.10.tar.xz"
	if got := r.ResolveURL(kernelURL); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestMirrorResolver_Candidates_PriorityAndFallback(t *testing.T) {
	r := NewMirrorResolver([]Mirror{
		{Name: "slow", URLPrefix: "https://cdn.kernel.org/", MirrorURL: "https://slow.example/", Priority: 10, Enabled: true},
		{Name: "off", URLPrefix: "https://cdn.kernel.org/", MirrorURL: "https://off.example/", Priority: 0, Enabled: false},
		{Name: "fast", URLPrefix: "https://cdn.kernel.org/", MirrorURL: "https://fast.example/", Priority: 1, Enabled: true},
	}, MirrorConfig{})

	got := r.Candidates(kernelURL)
	want := []string{
		"https://fast.example/pub/linux/kernel/v6.x/linux-6.10.tar.xz",
		"https://slow.example/pub/linux/kernel/v6.x/linux-6.10.tar.xz",
		kernelURL,
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMirrorResolver_ResolveLocalPath(t *testing.T) {
	dir := t.TempDir()
	r := NewMirrorResolver(nil, MirrorConfig{LocalPath: dir})

	if got := r.ResolveLocalPath(kernelURL); got != "" {
		t.Errorf("expected miss, got %q", got)
	}

	path := filepath.Join(dir, "linux-6.10.tar.xz")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := r.ResolveLocalPath(kernelURL); got != path {
		t.Errorf("got %q, want %q", got, path)
	}
}

func TestMirrorResolver_HTTPTransport(t *testing.T) {
	if NewMirrorResolver(nil, MirrorConfig{}).HTTPTransport() != nil {
		t.Error("expected nil transport without proxy")
	}
	tr := NewMirrorResolver(nil, MirrorConfig{ProxyURL: "http://proxy.local:3128"}).HTTPTransport()
	if tr == nil || tr.Proxy == nil {
		t.Fatal("expected proxy transport")
	}
}
