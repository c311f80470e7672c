// Package distro captures what differs between Linux distributions when
// building a kernel: how build dependencies are installed, how the initial
// kernel configuration is seeded and which tool generates the initramfs.
package distro

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the distro package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// ID identifies a supported distribution family
type ID string

const (
	Arch    ID = "arch"
	Ubuntu  ID = "ubuntu"
	Generic ID = "generic"
)

// DefaultOSRelease is the os-release file consulted by Detect
const DefaultOSRelease = "/etc/os-release"

// Distro bundles the per-distribution capabilities the pipeline needs
type Distro struct {
	ID        ID
	Name      string
	Packages  PackageManager
	Configure ConfigureStrategy
	Initramfs InitramfsTool
}

// ForID returns the capabilities of a distribution family
func ForID(id ID) (*Distro, error) {
	switch id {
	case Arch:
		return &Distro{
			ID:        Arch,
			Name:      "Arch Linux",
			Packages:  NewPacman(),
			Configure: NewProcConfigSeed(""),
			Initramfs: NewMkinitcpio(""),
		}, nil
	case Ubuntu:
		return &Distro{
			ID:        Ubuntu,
			Name:      "Ubuntu",
			Packages:  NewApt(),
			Configure: NewLocalModConfigSeed(),
			Initramfs: NewUpdateInitramfs(),
		}, nil
	case Generic:
		return &Distro{
			ID:        Generic,
			Name:      "Generic Linux",
			Packages:  NewManualPackages(),
			Configure: NewBootConfigSeed("/boot"),
			Initramfs: NewDracut(),
		}, nil
	default:
		return nil, errors.ErrUnsupportedEnvironment.WithMessagef("Unsupported distribution %q", id)
	}
}

// Detect identifies the running distribution from an os-release file.
// Derivatives are matched through ID_LIKE; distributions that ship dracut
// fall back to Generic.
func Detect(osReleasePath string) (*Distro, error) {
	if osReleasePath == "" {
		osReleasePath = DefaultOSRelease
	}

	f, err := os.Open(osReleasePath)
	if err != nil {
		return nil, errors.ErrUnsupportedEnvironment.WithCause(err).
			WithMessage("Cannot identify the distribution")
	}
	defer f.Close()

	fields := ParseOSRelease(f)
	id := strings.ToLower(fields["ID"])
	like := strings.Fields(strings.ToLower(fields["ID_LIKE"]))

	family := classify(id, like)
	if family == "" {
		return nil, errors.ErrUnsupportedEnvironment.WithMessagef("Unsupported distribution %q", id)
	}

	d, err := ForID(family)
	if err != nil {
		return nil, err
	}
	if name := fields["PRETTY_NAME"]; name != "" {
		d.Name = name
	}
	log.Debug("Detected distribution", "id", id, "family", family, "name", d.Name)
	return d, nil
}

func classify(id string, like []string) ID {
	candidates := append([]string{id}, like...)
	for _, c := range candidates {
		switch c {
		case "arch", "archarm", "manjaro", "endeavouros":
			return Arch
		case "ubuntu", "debian":
			return Ubuntu
		case "fedora", "rhel", "centos", "opensuse", "suse", "gentoo", "void":
			return Generic
		}
	}
	return ""
}

// ParseOSRelease reads KEY=value lines, unquoting values
func ParseOSRelease(r io.Reader) map[string]string {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		fields[strings.TrimSpace(key)] = value
	}
	return fields
}

// String returns a short description
func (d *Distro) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.ID)
}
