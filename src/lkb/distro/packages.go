package distro

import (
	"context"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/lkb/runner"
)

// PackageManager installs the kernel build dependencies
type PackageManager interface {
	Name() string
	Prerequisites() []string
	Install(ctx context.Context, r runner.Runner, packages []string) error
}

// Pacman installs packages on Arch-based systems
type Pacman struct{}

// NewPacman creates the Arch package manager adapter
func NewPacman() *Pacman {
	return &Pacman{}
}

// Name returns the package manager name
func (p *Pacman) Name() string {
	return "pacman"
}

// Prerequisites returns the Arch kernel build dependencies
func (p *Pacman) Prerequisites() []string {
	return []string{"base-devel", "xmlto", "kmod", "inetutils", "bc", "libelf", "git", "cpio", "perl", "tar", "xz"}
}

// Install runs pacman non-interactively, skipping installed packages
func (p *Pacman) Install(ctx context.Context, r runner.Runner, packages []string) error {
	args := append([]string{"-S", "--needed", "--noconfirm"}, packages...)
	return runInstall(ctx, r, runner.Command{Name: "pacman", Args: args, Privileged: true})
}

// Apt installs packages on Debian and Ubuntu systems
type Apt struct{}

// NewApt creates the apt package manager adapter
func NewApt() *Apt {
	return &Apt{}
}

// Name returns the package manager name
func (a *Apt) Name() string {
	return "apt"
}

// Prerequisites returns the Ubuntu kernel build dependencies
func (a *Apt) Prerequisites() []string {
	return []string{"build-essential", "libncurses-dev", "bison", "flex", "libssl-dev", "libelf-dev", "fakeroot", "dwarves", "bc"}
}

// Install refreshes the package index, then installs
func (a *Apt) Install(ctx context.Context, r runner.Runner, packages []string) error {
	env := map[string]string{"DEBIAN_FRONTEND": "noninteractive"}
	if err := runInstall(ctx, r, runner.Command{Name: "apt-get", Args: []string{"update"}, Env: env, Privileged: true}); err != nil {
		return err
	}
	args := append([]string{"install", "-y"}, packages...)
	return runInstall(ctx, r, runner.Command{Name: "apt-get", Args: args, Env: env, Privileged: true})
}

// ManualPackages is used where lkb does not drive the package manager
type ManualPackages struct{}

// NewManualPackages creates the no-op adapter
func NewManualPackages() *ManualPackages {
	return &ManualPackages{}
}

// Name returns the package manager name
func (m *ManualPackages) Name() string {
	return "manual"
}

// Prerequisites lists the tools the build needs, for the operator to install
func (m *ManualPackages) Prerequisites() []string {
	return []string{"gcc", "make", "flex", "bison", "bc", "perl", "openssl", "libelf", "ncurses", "cpio", "xz"}
}

// Install refuses: the operator installs prerequisites themselves
func (m *ManualPackages) Install(ctx context.Context, r runner.Runner, packages []string) error {
	return errors.ErrUnsupportedEnvironment.WithMessage(
		"Automatic prerequisite installation is not supported on this distribution; install them manually")
}

func runInstall(ctx context.Context, r runner.Runner, cmd runner.Command) error {
	log.Info("Installing build prerequisites", "command", cmd.String())
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return errors.ErrPrerequisitesFailed.WithCause(err)
	}
	if !res.Success() {
		return errors.ErrPrerequisitesFailed.WithDetail(res.ExitCode).
			WithMessagef("%s exited with status %d", cmd.Name, res.ExitCode)
	}
	return nil
}
