package release

import (
	"fmt"
	"strconv"
	"strings"
)

// KernelVersion identifies one upstream kernel release. It is immutable once
// selected and every pipeline stage derives its file names from it.
type KernelVersion struct {
	Version     string `json:"version" yaml:"version"`
	Moniker     string `json:"moniker,omitempty" yaml:"moniker,omitempty"`
	ReleaseDate string `json:"release_date,omitempty" yaml:"release_date,omitempty"`
	SourceURL   string `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	IsEOL       bool   `json:"eol" yaml:"eol"`

	// LatestStable is set on the release the feed names as latest stable
	LatestStable bool `json:"latest_stable,omitempty" yaml:"latest_stable,omitempty"`
}

// NewKernelVersion creates a KernelVersion without release metadata
func NewKernelVersion(version string) KernelVersion {
	return KernelVersion{Version: strings.TrimSpace(version)}
}

// String returns the version identifier
func (v KernelVersion) String() string {
	return v.Version
}

// Major returns the first dotted component ("6" for "6.10.3")
func (v KernelVersion) Major() string {
	major, _, _ := strings.Cut(v.Version, ".")
	return major
}

// Normalized returns the three-component kernel release form the kernel
// build system uses for module directories: "6.10" becomes "6.10.0" and
// "6.11-rc3" becomes "6.11.0-rc3".
func (v KernelVersion) Normalized() string {
	base, suffix, hasSuffix := strings.Cut(v.Version, "-")
	parts := strings.Split(base, ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	out := strings.Join(parts, ".")
	if hasSuffix {
		out += "-" + suffix
	}
	return out
}

// TarballName returns the upstream archive name, e.g. "linux-6.10.tar.xz"
func (v KernelVersion) TarballName() string {
	return fmt.Sprintf("linux-%s.tar.xz", v.Version)
}

// SourceDirName returns the directory the tarball extracts to, e.g. "linux-6.10"
func (v KernelVersion) SourceDirName() string {
	return fmt.Sprintf("linux-%s", v.Version)
}

// Validate checks that the identifier is usable in file names
func (v KernelVersion) Validate() error {
	if v.Version == "" {
		return fmt.Errorf("empty kernel version")
	}
	if strings.ContainsAny(v.Version, "/\\ \t") || strings.Contains(v.Version, "..") {
		return fmt.Errorf("invalid kernel version %q", v.Version)
	}
	if _, err := strconv.Atoi(v.Major()); err != nil {
		return fmt.Errorf("invalid kernel version %q: major component is not numeric", v.Version)
	}
	return nil
}

// Compare compares two version strings.
// Returns: >0 if a > b, <0 if a < b, 0 if equal.
// A release without suffix sorts after its release candidates.
func Compare(a, b string) int {
	baseA, sufA, _ := strings.Cut(a, "-")
	baseB, sufB, _ := strings.Cut(b, "-")

	partsA := strings.Split(baseA, ".")
	partsB := strings.Split(baseB, ".")
	n := len(partsA)
	if len(partsB) > n {
		n = len(partsB)
	}
	for i := 0; i < n; i++ {
		var pa, pb int
		if i < len(partsA) {
			pa, _ = strconv.Atoi(partsA[i])
		}
		if i < len(partsB) {
			pb, _ = strconv.Atoi(partsB[i])
		}
		if pa != pb {
			return pa - pb
		}
	}

	switch {
	case sufA == sufB:
		return 0
	case sufA == "":
		return 1
	case sufB == "":
		return -1
	default:
		return strings.Compare(sufA, sufB)
	}
}
