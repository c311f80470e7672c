package distro

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/bitswalk/lkb/src/common/paths"
	"github.com/bitswalk/lkb/src/lkb/runner"
)

// ConfigureStrategy seeds srcDir/.config from the running system
type ConfigureStrategy interface {
	Name() string
	Seed(ctx context.Context, r runner.Runner, srcDir string) error
}

// RunningRelease returns the release of the running kernel, as uname -r
func RunningRelease() (string, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", fmt.Errorf("uname failed: %w", err)
	}
	return unix.ByteSliceToString(u.Release[:]), nil
}

// ProcConfigSeed copies the running kernel's embedded config from /proc/config.gz
type ProcConfigSeed struct {
	path string
}

// NewProcConfigSeed creates the strategy; an empty path means /proc/config.gz
func NewProcConfigSeed(path string) *ProcConfigSeed {
	if path == "" {
		path = "/proc/config.gz"
	}
	return &ProcConfigSeed{path: path}
}

// Name returns the strategy name
func (s *ProcConfigSeed) Name() string {
	return "proc-config"
}

// Seed decompresses the running config and updates it for the new source
func (s *ProcConfigSeed) Seed(ctx context.Context, r runner.Runner, srcDir string) error {
	in, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("running kernel config not available: %w", err)
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	defer gz.Close()

	if err := writeConfig(filepath.Join(srcDir, ".config"), gz); err != nil {
		return err
	}
	return olddefconfig(ctx, r, srcDir)
}

// LocalModConfigSeed runs make localmodconfig, which trims the running
// config down to the loaded modules
type LocalModConfigSeed struct{}

// NewLocalModConfigSeed creates the strategy
func NewLocalModConfigSeed() *LocalModConfigSeed {
	return &LocalModConfigSeed{}
}

// Name returns the strategy name
func (s *LocalModConfigSeed) Name() string {
	return "localmodconfig"
}

// Seed answers every new-symbol prompt with its default
func (s *LocalModConfigSeed) Seed(ctx context.Context, r runner.Runner, srcDir string) error {
	return runMake(ctx, r, srcDir, runner.Command{Stdin: acceptDefaults{}}, "localmodconfig")
}

// BootConfigSeed copies /boot/config-<running release>, or falls back to defconfig
type BootConfigSeed struct {
	bootDir string
	release func() (string, error)
}

// NewBootConfigSeed creates the strategy reading from bootDir
func NewBootConfigSeed(bootDir string) *BootConfigSeed {
	return &BootConfigSeed{bootDir: bootDir, release: RunningRelease}
}

// Name returns the strategy name
func (s *BootConfigSeed) Name() string {
	return "boot-config"
}

// Seed copies the installed config of the running kernel
func (s *BootConfigSeed) Seed(ctx context.Context, r runner.Runner, srcDir string) error {
	rel, err := s.release()
	if err == nil {
		src := filepath.Join(s.bootDir, "config-"+rel)
		if paths.IsFile(src) {
			f, err := os.Open(src)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := writeConfig(filepath.Join(srcDir, ".config"), f); err != nil {
				return err
			}
			return olddefconfig(ctx, r, srcDir)
		}
	}
	log.Warn("No installed config for the running kernel, using defconfig", "boot_dir", s.bootDir)
	return runMake(ctx, r, srcDir, runner.Command{}, "defconfig")
}

func writeConfig(dest string, src io.Reader) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return out.Close()
}

func olddefconfig(ctx context.Context, r runner.Runner, srcDir string) error {
	return runMake(ctx, r, srcDir, runner.Command{}, "olddefconfig")
}

// runMake runs make with the given targets in srcDir
func runMake(ctx context.Context, r runner.Runner, srcDir string, base runner.Command, targets ...string) error {
	base.Name = "make"
	base.Args = targets
	base.Dir = srcDir
	res, err := r.Run(ctx, base)
	if err != nil {
		return err
	}
	if !res.Success() {
		return &ExitError{Command: base.String(), ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return nil
}

// ExitError reports a configuration command that exited non-zero
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
}

// acceptDefaults feeds newlines forever so kconfig prompts take their defaults
type acceptDefaults struct{}

func (acceptDefaults) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = '\n'
	}
	return len(p), nil
}
