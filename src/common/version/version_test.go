package version

import (
	"strings"
	"testing"
)

func TestNew_Defaults(t *testing.T) {
	i := New()
	if i.Version != "dev" || i.GitCommit != "unknown" {
		t.Errorf("unexpected defaults %+v", i)
	}
	if got := i.Short(); got != "v0.0.0-unknown" {
		t.Errorf("Short() = %q", got)
	}
}

func TestFull_ContainsGoVersion(t *testing.T) {
	i := New()
	if !strings.Contains(i.Full(), GoVersion()) {
		t.Error("Full() should include the Go version")
	}
	if i.Map()["go_version"] != GoVersion() {
		t.Error("Map() should include the Go version")
	}
}

func TestUserAgent(t *testing.T) {
	i := New()
	i.ReleaseVersion = "0.3.0"
	if got := i.UserAgent(); !strings.HasPrefix(got, "lkb/0.3.0 (") {
		t.Errorf("UserAgent() = %q", got)
	}
}
