// Package bootloader detects the installed boot loader and regenerates its
// menu after a kernel install.
package bootloader

import (
	"context"
	"os/exec"
	"strings"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/logs"
	"github.com/bitswalk/lkb/src/lkb/runner"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the bootloader package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Kind identifies a boot loader
type Kind string

const (
	KindGrub        Kind = "grub"
	KindSystemdBoot Kind = "systemd-boot"
	KindNone        Kind = "none"
)

// Defaults for the menu sources
const (
	DefaultGrubConfig = "/boot/grub/grub.cfg"
	DefaultEntriesDir = "/boot/loader/entries"
)

// Bootloader is a detected boot loader
type Bootloader interface {
	Kind() Kind
	// Refresh regenerates the boot menu so new kernels appear in it
	Refresh(ctx context.Context) error
}

// Config holds boot loader settings
type Config struct {
	// GrubConfig is the generated GRUB menu
	GrubConfig string `mapstructure:"grub_cfg"`
	// EntriesDir holds systemd-boot loader entries
	EntriesDir string `mapstructure:"entries_dir"`
	// GrubCommand forces "update-grub" or "grub-mkconfig"; empty picks
	// update-grub when installed
	GrubCommand string `mapstructure:"grub_command"`
}

// DefaultConfig returns the standard locations
func DefaultConfig() Config {
	return Config{
		GrubConfig: DefaultGrubConfig,
		EntriesDir: DefaultEntriesDir,
	}
}

// Detector probes the system for a supported boot loader
type Detector struct {
	runner   runner.Runner
	config   Config
	lookPath func(string) (string, error)
}

// NewDetector creates a detector running probes through r
func NewDetector(r runner.Runner, cfg Config) *Detector {
	if cfg.GrubConfig == "" {
		cfg.GrubConfig = DefaultGrubConfig
	}
	if cfg.EntriesDir == "" {
		cfg.EntriesDir = DefaultEntriesDir
	}
	return &Detector{runner: r, config: cfg, lookPath: exec.LookPath}
}

// Config returns the detector's settings
func (d *Detector) Config() Config {
	return d.config
}

// Detect returns the active boot loader. systemd-boot is checked first
// because GRUB tools are often installed alongside it, but only a machine
// whose current loader is systemd-boot counts. When neither is found the
// error is ErrBootloaderUnsupported.
func (d *Detector) Detect(ctx context.Context) (Bootloader, error) {
	if out, ok := d.probe(ctx, "bootctl", "status"); ok && bootedBySystemdBoot(out) {
		log.Debug("Detected systemd-boot")
		return &SystemdBoot{runner: d.runner, entriesDir: d.config.EntriesDir}, nil
	}
	if out, ok := d.probe(ctx, "grub-install", "--version"); ok && strings.Contains(out, "GRUB") {
		log.Debug("Detected GRUB", "config", d.config.GrubConfig)
		return &Grub{runner: d.runner, config: d.config.GrubConfig, command: d.grubCommand()}, nil
	}
	if out, ok := d.probe(ctx, "grub2-install", "--version"); ok && strings.Contains(out, "GRUB") {
		log.Debug("Detected GRUB 2", "config", d.config.GrubConfig)
		return &Grub{runner: d.runner, config: d.config.GrubConfig, command: "grub2-mkconfig"}, nil
	}
	return nil, errors.ErrBootloaderUnsupported
}

// probe runs a detection command, ignoring its exit status: bootctl status
// exits non-zero on some firmware but still names the loader
func (d *Detector) probe(ctx context.Context, name string, args ...string) (string, bool) {
	res, err := d.runner.Run(ctx, runner.Command{Name: name, Args: args})
	if err != nil || res == nil {
		return "", false
	}
	return res.Stdout + res.Stderr, true
}

// bootedBySystemdBoot reads the Product line of the "Current Boot Loader"
// section of bootctl status. bootctl mentions systemd-boot elsewhere even on
// GRUB machines ("systemd-boot not installed in ESP.").
func bootedBySystemdBoot(status string) bool {
	inCurrent := false
	for _, line := range strings.Split(status, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") && strings.HasSuffix(trimmed, ":") {
			inCurrent = trimmed == "Current Boot Loader:"
			continue
		}
		if inCurrent {
			if product, ok := strings.CutPrefix(trimmed, "Product:"); ok {
				return strings.Contains(strings.ToLower(product), "systemd-boot")
			}
		}
	}
	return false
}

func (d *Detector) grubCommand() string {
	switch d.config.GrubCommand {
	case "update-grub", "grub-mkconfig":
		return d.config.GrubCommand
	}
	if _, err := d.lookPath("update-grub"); err == nil {
		return "update-grub"
	}
	return "grub-mkconfig"
}

// Grub regenerates grub.cfg
type Grub struct {
	runner  runner.Runner
	config  string
	command string
}

// Kind returns KindGrub
func (g *Grub) Kind() Kind {
	return KindGrub
}

// ConfigPath returns the generated menu file
func (g *Grub) ConfigPath() string {
	return g.config
}

// Refresh runs update-grub or grub-mkconfig -o <config>
func (g *Grub) Refresh(ctx context.Context) error {
	cmd := runner.Command{Name: g.command, Privileged: true}
	if g.command != "update-grub" {
		cmd.Args = []string{"-o", g.config}
	}
	return refresh(ctx, g.runner, cmd)
}

// SystemdBoot updates the installed systemd-boot binaries
type SystemdBoot struct {
	runner     runner.Runner
	entriesDir string
}

// Kind returns KindSystemdBoot
func (s *SystemdBoot) Kind() Kind {
	return KindSystemdBoot
}

// EntriesDir returns the loader entries directory
func (s *SystemdBoot) EntriesDir() string {
	return s.entriesDir
}

// Refresh runs bootctl update, tolerating an already current loader
func (s *SystemdBoot) Refresh(ctx context.Context) error {
	return refresh(ctx, s.runner, runner.Command{Name: "bootctl", Args: []string{"update", "--graceful"}, Privileged: true})
}

func refresh(ctx context.Context, r runner.Runner, cmd runner.Command) error {
	log.Info("Refreshing boot loader", "command", cmd.String())
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return errors.ErrBootloaderRefreshFailed.WithCause(err)
	}
	if !res.Success() {
		return errors.ErrBootloaderRefreshFailed.WithDetail(res.ExitCode).
			WithMessagef("%s exited with status %d", cmd.Name, res.ExitCode)
	}
	return nil
}
