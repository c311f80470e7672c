package build

import (
	"context"
	"io"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/lkb/distro"
	"github.com/bitswalk/lkb/src/lkb/release"
	"github.com/bitswalk/lkb/src/lkb/runner"
	"github.com/bitswalk/lkb/src/lkb/storage"
)

// Deps holds the collaborators the default stages are built from
type Deps struct {
	Runner        runner.Runner
	Fetcher       Fetcher
	Artifacts     ArtifactStore
	Cache         *storage.TarballCache
	SourceBaseURL string
	Distro        *distro.Distro
	Bootloader    BootloaderDetector
	Terminal      Terminal
	// CompileOutput receives raw make output when set
	CompileOutput io.Writer
	// CompileRunner runs the main make invocation; nil uses Runner
	CompileRunner runner.Runner
}

// DefaultStages returns every stage in StageOrder
func DefaultStages(d Deps) []Stage {
	return []Stage{
		NewDownloadStage(d.Fetcher, d.Artifacts, d.Cache, d.SourceBaseURL),
		NewExtractStage(d.Artifacts),
		NewPatchStage(d.Runner),
		NewConfigureStage(d.Runner, d.Distro.Configure, d.Artifacts, d.Terminal),
		NewCompileStage(d.Runner, d.Artifacts, d.CompileOutput).WithMakeRunner(d.CompileRunner),
		NewInstallStage(d.Runner, d.Artifacts),
		NewInitramfsStage(d.Runner, d.Distro.Initramfs),
		NewBootloaderStage(d.Bootloader),
	}
}

// ChooseFunc picks a release, typically by prompting the operator
type ChooseFunc func(releases []release.KernelVersion) (release.KernelVersion, error)

// SelectVersion fetches the catalog and resolves the version to build.
// want selects a listed release by identifier; otherwise choose is asked,
// and without a chooser the latest stable release is taken.
// An empty catalog is ErrCatalogUnavailable and nothing is written.
func SelectVersion(ctx context.Context, catalog release.Catalog, want string, choose ChooseFunc) (release.KernelVersion, error) {
	releases, err := catalog.Releases(ctx)
	if err != nil {
		return release.KernelVersion{}, err
	}
	if len(releases) == 0 {
		return release.KernelVersion{}, errors.ErrCatalogUnavailable
	}

	var v release.KernelVersion
	switch {
	case want != "":
		v, err = release.Find(releases, want)
	case choose != nil:
		v, err = choose(releases)
	default:
		v, err = release.Latest(releases)
	}
	if err != nil {
		return release.KernelVersion{}, err
	}
	if err := v.Validate(); err != nil {
		return release.KernelVersion{}, errors.ErrNotFound.WithCause(err).WithMessagef("Invalid kernel version %q", v.Version)
	}
	return v, nil
}

// InstallPrerequisites installs the distribution's build dependencies
func InstallPrerequisites(ctx context.Context, r runner.Runner, d *distro.Distro) error {
	pm := d.Packages
	log.Info("Installing build prerequisites", "distro", d.String(), "package_manager", pm.Name())
	return pm.Install(ctx, r, pm.Prerequisites())
}
