package build

import (
	"context"
	"fmt"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/paths"
	"github.com/bitswalk/lkb/src/lkb/bootloader"
)

// BootloaderDetector finds the boot loader to refresh
type BootloaderDetector interface {
	Detect(ctx context.Context) (bootloader.Bootloader, error)
}

// BootloaderStage regenerates the boot menu
type BootloaderStage struct {
	detector BootloaderDetector
}

// NewBootloaderStage creates a new bootloader stage
func NewBootloaderStage(detector BootloaderDetector) *BootloaderStage {
	return &BootloaderStage{detector: detector}
}

// Name returns the stage name
func (s *BootloaderStage) Name() StageName {
	return StageBootloader
}

// Validate checks a kernel was installed to list in the menu
func (s *BootloaderStage) Validate(ctx context.Context, bc *BuildContext) error {
	if kernel := InstalledKernelPath(bc); !paths.IsFile(kernel) {
		return missing(StageBootloader, "installed kernel", kernel)
	}
	return nil
}

// Execute refreshes the detected boot loader. An undetected loader skips
// the stage with a warning; the kernel is installed either way.
func (s *BootloaderStage) Execute(ctx context.Context, bc *BuildContext, progress ProgressFunc) (Status, error) {
	bl, err := s.detector.Detect(ctx)
	if errors.Is(err, errors.ErrBootloaderUnsupported) {
		return StatusSkipped, err
	}
	if err != nil {
		return StatusFailed, errors.ErrBootloaderRefreshFailed.WithCause(err)
	}

	progress(10, fmt.Sprintf("Refreshing %s", bl.Kind()))
	if err := bl.Refresh(ctx); err != nil {
		return StatusFailed, err
	}
	progress(100, fmt.Sprintf("%s menu updated", bl.Kind()))
	return StatusSucceeded, nil
}
