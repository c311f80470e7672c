package build

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/paths"
	"github.com/bitswalk/lkb/src/lkb/runner"
)

// InstalledKernelPath returns <boot>/vmlinuz-<version>
func InstalledKernelPath(bc *BuildContext) string {
	return filepath.Join(bc.BootDirectory, "vmlinuz-"+bc.Version.Version)
}

// InstallStage installs modules and copies the kernel into the boot directory
type InstallStage struct {
	runner    runner.Runner
	artifacts ArtifactStore
}

// NewInstallStage creates a new install stage
func NewInstallStage(r runner.Runner, artifacts ArtifactStore) *InstallStage {
	return &InstallStage{runner: r, artifacts: artifacts}
}

// Name returns the stage name
func (s *InstallStage) Name() StageName {
	return StageInstall
}

// Validate checks the compiled image exists. Its absence is an install
// failure rather than a missing prerequisite: nothing may be installed
// from a tree that did not build.
func (s *InstallStage) Validate(ctx context.Context, bc *BuildContext) error {
	image := s.bootImage(bc)
	if !paths.IsFile(image) {
		return errors.ErrInstallFailed.WithMessagef("Kernel installation failed: compiled image not found at %s", image)
	}
	return nil
}

// Execute runs make modules_install, then installs the image, System.map
// and .config under version-qualified names
func (s *InstallStage) Execute(ctx context.Context, bc *BuildContext, progress ProgressFunc) (Status, error) {
	srcDir := bc.WorkingDirectory
	v := bc.Version.Version

	progress(0, "Installing modules")
	if err := s.run(ctx, runner.Command{
		Name:       "make",
		Args:       []string{"modules_install"},
		Dir:        srcDir,
		Privileged: true,
	}); err != nil {
		return StatusFailed, err
	}

	copies := []struct {
		src  string
		dest string
	}{
		{s.bootImage(bc), InstalledKernelPath(bc)},
		{filepath.Join(srcDir, "System.map"), filepath.Join(bc.BootDirectory, "System.map-"+v)},
		{s.artifacts.ConfigPath(srcDir), filepath.Join(bc.BootDirectory, "config-"+v)},
	}
	for i, c := range copies {
		progress(40+i*20, fmt.Sprintf("Installing %s", c.dest))
		if !paths.IsFile(c.src) {
			return StatusFailed, errors.ErrInstallFailed.WithMessagef("Kernel installation failed: %s not found", c.src)
		}
		if err := s.run(ctx, runner.Command{
			Name:       "install",
			Args:       []string{"-D", "-m", "0644", c.src, c.dest},
			Dir:        srcDir,
			Privileged: true,
		}); err != nil {
			return StatusFailed, err
		}
	}

	progress(100, fmt.Sprintf("Installed kernel %s", v))
	return StatusSucceeded, nil
}

func (s *InstallStage) bootImage(bc *BuildContext) string {
	if bc.BootImage != "" {
		return bc.BootImage
	}
	return s.artifacts.BootImagePath(bc.WorkingDirectory)
}

func (s *InstallStage) run(ctx context.Context, cmd runner.Command) error {
	res, err := s.runner.Run(ctx, cmd)
	if err != nil {
		return errors.ErrInstallFailed.WithCause(err)
	}
	if !res.Success() {
		return errors.ErrInstallFailed.WithDetail(res.ExitCode).
			WithMessagef("%s exited with status %d", cmd.String(), res.ExitCode)
	}
	return nil
}
