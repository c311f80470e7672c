package build

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/bitswalk/lkb/src/common/paths"
	"github.com/bitswalk/lkb/src/lkb/download"
	"github.com/bitswalk/lkb/src/lkb/release"
)

// StagingSuffix marks a source tree that is still being extracted
const StagingSuffix = ".extracting"

// ArtifactStore answers where each pipeline artifact lives and whether it
// is complete. A path only counts as complete once its producer committed
// it; interrupted work lives under a marker name.
type ArtifactStore interface {
	TarballPath(v release.KernelVersion) string
	SourceDir(v release.KernelVersion) string
	TarballComplete(v release.KernelVersion) bool
	SourceComplete(v release.KernelVersion) bool
	ConfigPath(srcDir string) string
	BootImagePath(srcDir string) string
}

// FSArtifactStore lays artifacts out under one base directory
type FSArtifactStore struct {
	base string
	arch string
}

// NewFSArtifactStore creates a store rooted at baseDir for the host architecture
func NewFSArtifactStore(baseDir string) *FSArtifactStore {
	return &FSArtifactStore{base: baseDir, arch: KernelArch(runtime.GOARCH)}
}

// TarballPath returns <base>/linux-<v>.tar.xz
func (s *FSArtifactStore) TarballPath(v release.KernelVersion) string {
	return filepath.Join(s.base, v.TarballName())
}

// SourceDir returns <base>/linux-<v>
func (s *FSArtifactStore) SourceDir(v release.KernelVersion) string {
	return filepath.Join(s.base, v.SourceDirName())
}

// TarballComplete reports whether the tarball was fully downloaded.
// The downloader only renames the part file once the body arrived.
func (s *FSArtifactStore) TarballComplete(v release.KernelVersion) bool {
	info, err := os.Stat(s.TarballPath(v))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// SourceComplete reports whether the source tree was fully extracted.
// Extraction happens in a staging directory renamed into place at the end.
func (s *FSArtifactStore) SourceComplete(v release.KernelVersion) bool {
	dir := s.SourceDir(v)
	return paths.IsDir(dir) && paths.IsFile(filepath.Join(dir, "Makefile"))
}

// PartialTarball returns the in-progress download path
func (s *FSArtifactStore) PartialTarball(v release.KernelVersion) string {
	return s.TarballPath(v) + download.PartSuffix
}

// ConfigPath returns <src>/.config
func (s *FSArtifactStore) ConfigPath(srcDir string) string {
	return filepath.Join(srcDir, ".config")
}

// BootImagePath returns the compiled boot image for the host architecture
func (s *FSArtifactStore) BootImagePath(srcDir string) string {
	return filepath.Join(srcDir, "arch", s.arch, "boot", BootImageName(s.arch))
}

// KernelArch maps a Go architecture to the kernel's arch/ directory name
func KernelArch(goarch string) string {
	switch goarch {
	case "amd64", "386":
		return "x86"
	case "arm64":
		return "arm64"
	case "arm":
		return "arm"
	case "riscv64":
		return "riscv"
	case "ppc64", "ppc64le":
		return "powerpc"
	case "s390x":
		return "s390"
	case "loong64":
		return "loongarch"
	default:
		return goarch
	}
}

// BootImageName returns the default boot image file for a kernel arch
func BootImageName(arch string) string {
	switch arch {
	case "x86", "s390", "loongarch":
		return "bzImage"
	case "arm", "powerpc":
		return "zImage"
	default:
		return "Image"
	}
}
