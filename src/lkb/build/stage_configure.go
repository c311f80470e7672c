package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/paths"
	"github.com/bitswalk/lkb/src/lkb/distro"
	"github.com/bitswalk/lkb/src/lkb/runner"
)

// Terminal connects interactive tools such as menuconfig to the operator
type Terminal struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ConfigureStage produces the kernel .config
type ConfigureStage struct {
	runner    runner.Runner
	strategy  distro.ConfigureStrategy
	artifacts ArtifactStore
	terminal  Terminal
}

// NewConfigureStage creates a new configure stage seeding with strategy
func NewConfigureStage(r runner.Runner, strategy distro.ConfigureStrategy, artifacts ArtifactStore, terminal Terminal) *ConfigureStage {
	return &ConfigureStage{
		runner:    r,
		strategy:  strategy,
		artifacts: artifacts,
		terminal:  terminal,
	}
}

// Name returns the stage name
func (s *ConfigureStage) Name() StageName {
	return StageConfigure
}

// Validate checks the source tree exists
func (s *ConfigureStage) Validate(ctx context.Context, bc *BuildContext) error {
	return requireSourceTree(StageConfigure, bc)
}

// Execute configures the tree according to bc.ConfigChoice
func (s *ConfigureStage) Execute(ctx context.Context, bc *BuildContext, progress ProgressFunc) (Status, error) {
	srcDir := bc.WorkingDirectory
	configPath := s.artifacts.ConfigPath(srcDir)

	switch bc.ConfigChoice {
	case FromScratch:
		if paths.Exists(configPath) {
			log.Info("Discarding existing .config", "path", configPath)
			if err := os.Remove(configPath); err != nil {
				return StatusFailed, errors.ErrConfigureFailed.WithCause(err)
			}
		}
		progress(10, "Starting menuconfig")
		if err := s.menuconfig(ctx, srcDir); err != nil {
			return StatusFailed, err
		}

	case CustomizeFromDefault:
		progress(10, fmt.Sprintf("Seeding .config (%s)", s.strategy.Name()))
		if err := s.seed(ctx, srcDir); err != nil {
			return StatusFailed, err
		}
		progress(50, "Starting menuconfig")
		if err := s.menuconfig(ctx, srcDir); err != nil {
			return StatusFailed, err
		}

	default:
		progress(10, fmt.Sprintf("Seeding .config (%s)", s.strategy.Name()))
		if err := s.seed(ctx, srcDir); err != nil {
			return StatusFailed, err
		}
	}

	if !paths.IsFile(configPath) {
		return StatusFailed, errors.ErrConfigureFailed.WithMessagef("Kernel configuration failed: %s was not written", configPath)
	}

	if bc.DisableSigningKeys {
		progress(90, "Disabling trusted and revocation keys")
		if err := s.disableSigningKeys(ctx, srcDir, configPath); err != nil {
			return StatusFailed, err
		}
	}

	progress(100, "Kernel configured")
	return StatusSucceeded, nil
}

func (s *ConfigureStage) seed(ctx context.Context, srcDir string) error {
	if err := s.strategy.Seed(ctx, s.runner, srcDir); err != nil {
		return configureError(err)
	}
	return nil
}

func (s *ConfigureStage) menuconfig(ctx context.Context, srcDir string) error {
	cmd := runner.Command{
		Name:   "make",
		Args:   []string{"menuconfig"},
		Dir:    srcDir,
		Stdin:  s.terminal.Stdin,
		Stdout: s.terminal.Stdout,
		Stderr: s.terminal.Stderr,
	}
	res, err := s.runner.Run(ctx, cmd)
	if err != nil {
		return errors.ErrConfigureFailed.WithCause(err)
	}
	if !res.Success() {
		return errors.ErrConfigureFailed.WithDetail(res.ExitCode).
			WithMessagef("make menuconfig exited with status %d", res.ExitCode)
	}
	return nil
}

// disableSigningKeys uses the tree's scripts/config, or edits the file
// directly when the helper is missing
func (s *ConfigureStage) disableSigningKeys(ctx context.Context, srcDir, configPath string) error {
	script := filepath.Join(srcDir, "scripts", "config")
	if !paths.IsFile(script) {
		log.Debug("scripts/config not found, editing .config directly")
		if err := clearSigningKeys(configPath); err != nil {
			return errors.ErrConfigureFailed.WithCause(err)
		}
		return nil
	}

	args := []string{"--file", configPath}
	for _, key := range signingKeyOptions {
		args = append(args, "--disable", key[len("CONFIG_"):])
	}
	for _, key := range signingKeyOptions {
		args = append(args, "--set-str", key, "")
	}
	res, err := s.runner.Run(ctx, runner.Command{Name: script, Args: args, Dir: srcDir})
	if err != nil {
		return errors.ErrConfigureFailed.WithCause(err)
	}
	if !res.Success() {
		return errors.ErrConfigureFailed.WithDetail(res.ExitCode).
			WithMessagef("scripts/config exited with status %d", res.ExitCode)
	}
	return nil
}

func configureError(err error) error {
	if errors.Is(err, errors.ErrConfigureFailed) {
		return err
	}
	var exitErr *distro.ExitError
	if errors.As(err, &exitErr) {
		return errors.ErrConfigureFailed.WithDetail(exitErr.ExitCode).WithCause(err)
	}
	return errors.ErrConfigureFailed.WithCause(err)
}
