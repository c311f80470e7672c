package build

import (
	"context"
	"fmt"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/paths"
	"github.com/bitswalk/lkb/src/lkb/distro"
	"github.com/bitswalk/lkb/src/lkb/runner"
)

// InitramfsStage generates the initial ramdisk for the installed kernel
type InitramfsStage struct {
	runner runner.Runner
	tool   distro.InitramfsTool
}

// NewInitramfsStage creates a new initramfs stage using tool
func NewInitramfsStage(r runner.Runner, tool distro.InitramfsTool) *InitramfsStage {
	return &InitramfsStage{runner: r, tool: tool}
}

// Name returns the stage name
func (s *InitramfsStage) Name() StageName {
	return StageInitramfs
}

// Validate checks the kernel was installed
func (s *InitramfsStage) Validate(ctx context.Context, bc *BuildContext) error {
	kernel := InstalledKernelPath(bc)
	if !paths.IsFile(kernel) {
		return missing(StageInitramfs, "installed kernel", kernel)
	}
	return nil
}

// Execute runs the distribution's generator for the normalized release,
// which is the name modules_install used under /lib/modules
func (s *InitramfsStage) Execute(ctx context.Context, bc *BuildContext, progress ProgressFunc) (Status, error) {
	rel := bc.Version.Normalized()
	image := s.tool.ImagePath(bc.BootDirectory, rel)
	cmd := s.tool.Command(bc.BootDirectory, rel)

	progress(0, fmt.Sprintf("Generating %s with %s", image, s.tool.Name()))
	log.Info("Generating initramfs", "tool", s.tool.Name(), "release", rel, "image", image)

	res, err := s.runner.Run(ctx, cmd)
	if err != nil {
		return StatusFailed, errors.ErrInitramfsFailed.WithCause(err)
	}
	if !res.Success() {
		return StatusFailed, errors.ErrInitramfsFailed.WithDetail(res.ExitCode).
			WithMessagef("%s exited with status %d", s.tool.Name(), res.ExitCode)
	}
	if !paths.IsFile(image) {
		return StatusFailed, errors.ErrInitramfsFailed.WithMessagef("Initramfs generation failed: %s was not created", image)
	}

	progress(100, fmt.Sprintf("Created %s", image))
	return StatusSucceeded, nil
}
