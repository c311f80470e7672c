package distro

import (
	"path/filepath"

	"github.com/bitswalk/lkb/src/lkb/runner"
)

// InitramfsTool generates the initial ramdisk for an installed kernel
type InitramfsTool interface {
	Name() string
	// ImagePath returns where the image for kernelRelease is written
	ImagePath(bootDir, kernelRelease string) string
	// Command returns the invocation producing ImagePath
	Command(bootDir, kernelRelease string) runner.Command
}

// Mkinitcpio is the Arch initramfs generator
type Mkinitcpio struct {
	config string
}

// NewMkinitcpio creates the tool; an empty config means /etc/mkinitcpio.conf
func NewMkinitcpio(config string) *Mkinitcpio {
	if config == "" {
		config = "/etc/mkinitcpio.conf"
	}
	return &Mkinitcpio{config: config}
}

// Name returns the tool name
func (m *Mkinitcpio) Name() string {
	return "mkinitcpio"
}

// ImagePath returns <boot>/initramfs-<release>.img
func (m *Mkinitcpio) ImagePath(bootDir, kernelRelease string) string {
	return filepath.Join(bootDir, "initramfs-"+kernelRelease+".img")
}

// Command returns mkinitcpio -k <release> -c <config> -g <image>
func (m *Mkinitcpio) Command(bootDir, kernelRelease string) runner.Command {
	return runner.Command{
		Name:       "mkinitcpio",
		Args:       []string{"-k", kernelRelease, "-c", m.config, "-g", m.ImagePath(bootDir, kernelRelease)},
		Privileged: true,
	}
}

// UpdateInitramfs is the Debian/Ubuntu initramfs generator
type UpdateInitramfs struct{}

// NewUpdateInitramfs creates the tool
func NewUpdateInitramfs() *UpdateInitramfs {
	return &UpdateInitramfs{}
}

// Name returns the tool name
func (u *UpdateInitramfs) Name() string {
	return "update-initramfs"
}

// ImagePath returns <boot>/initrd.img-<release>, the Debian naming
func (u *UpdateInitramfs) ImagePath(bootDir, kernelRelease string) string {
	return filepath.Join(bootDir, "initrd.img-"+kernelRelease)
}

// Command returns update-initramfs -c -k <release> -b <boot>
func (u *UpdateInitramfs) Command(bootDir, kernelRelease string) runner.Command {
	return runner.Command{
		Name:       "update-initramfs",
		Args:       []string{"-c", "-k", kernelRelease, "-b", bootDir},
		Privileged: true,
	}
}

// Dracut is the initramfs generator of Fedora, openSUSE and others
type Dracut struct{}

// NewDracut creates the tool
func NewDracut() *Dracut {
	return &Dracut{}
}

// Name returns the tool name
func (d *Dracut) Name() string {
	return "dracut"
}

// ImagePath returns <boot>/initramfs-<release>.img
func (d *Dracut) ImagePath(bootDir, kernelRelease string) string {
	return filepath.Join(bootDir, "initramfs-"+kernelRelease+".img")
}

// Command returns dracut --force --kver <release> <image>
func (d *Dracut) Command(bootDir, kernelRelease string) runner.Command {
	return runner.Command{
		Name:       "dracut",
		Args:       []string{"--force", "--kver", kernelRelease, d.ImagePath(bootDir, kernelRelease)},
		Privileged: true,
	}
}
