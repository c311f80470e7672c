// Package registry lists, renames and deletes the kernels installed in the
// boot directory. The boot loader configuration is the source of truth for
// which kernels exist; nothing is persisted here.
package registry

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/logs"
	"github.com/bitswalk/lkb/src/common/paths"
	"github.com/bitswalk/lkb/src/lkb/release"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the registry package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// ProtectedNames are the distribution's default kernel files. They are the
// system's known-good fallback and are never renamed or deleted.
var ProtectedNames = []string{"vmlinuz", "vmlinuz-linux", "initramfs-linux.img"}

var kernelRef = regexp.MustCompile(`vmlinuz-(\S+)`)

// Entry is one installed kernel, built fresh on every listing
type Entry struct {
	Label         string `json:"label" yaml:"label"`
	VmlinuzPath   string `json:"vmlinuz" yaml:"vmlinuz"`
	InitrdPath    string `json:"initrd,omitempty" yaml:"initrd,omitempty"`
	InitramfsPath string `json:"initramfs,omitempty" yaml:"initramfs,omitempty"`
	Protected     bool   `json:"protected" yaml:"protected"`
}

// Config holds where the registry looks
type Config struct {
	BootDir    string
	GrubConfig string
	EntriesDir string
}

// Registry manages installed kernel files
type Registry struct {
	config Config
}

// New creates a registry; an empty BootDir means /boot
func New(cfg Config) *Registry {
	if cfg.BootDir == "" {
		cfg.BootDir = "/boot"
	}
	return &Registry{config: cfg}
}

// IsProtected reports whether label names, or is backed by, a protected file
func IsProtected(label string) bool {
	for _, name := range ProtectedNames {
		if label == name || "vmlinuz-"+label == name || "initramfs-"+label+".img" == name {
			return true
		}
	}
	return false
}

func protectedFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range ProtectedNames {
		if base == name {
			return true
		}
	}
	return false
}

// List returns every distinct kernel referenced by the boot loader
// configuration, in first-appearance order. A missing configuration yields
// an empty list.
func (r *Registry) List() ([]Entry, error) {
	labels, err := r.labels()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(labels))
	for _, label := range labels {
		entries = append(entries, r.entry(label))
	}
	return entries, nil
}

func (r *Registry) entry(label string) Entry {
	e := Entry{
		Label:       label,
		VmlinuzPath: filepath.Join(r.config.BootDir, "vmlinuz-"+label),
		Protected:   IsProtected(label),
	}
	e.InitrdPath = r.companion(label, "initrd.img-%s")
	e.InitramfsPath = r.companion(label, "initramfs-%s.img")
	return e
}

// companion finds an image built for label. The initramfs stage names its
// image after the normalized release ("6.10.0" for kernel "6.10"), so that
// spelling is tried when the label's own is absent.
func (r *Registry) companion(label, pattern string) string {
	for _, l := range companionLabels(label) {
		if p := filepath.Join(r.config.BootDir, fmt.Sprintf(pattern, l)); paths.IsFile(p) {
			return p
		}
	}
	return ""
}

func companionLabels(label string) []string {
	normalized := release.NewKernelVersion(label).Normalized()
	if normalized == label || release.NewKernelVersion(label).Validate() != nil {
		return []string{label}
	}
	return []string{label, normalized}
}

// labels scans grub.cfg, then the systemd-boot entries, deduplicating
func (r *Registry) labels() ([]string, error) {
	seen := make(map[string]bool)
	var labels []string
	add := func(found []string) {
		for _, l := range found {
			if !seen[l] {
				seen[l] = true
				labels = append(labels, l)
			}
		}
	}

	if r.config.GrubConfig != "" {
		found, err := scanFile(r.config.GrubConfig)
		if err != nil {
			return nil, err
		}
		add(found)
	}

	if r.config.EntriesDir != "" {
		files, err := filepath.Glob(filepath.Join(r.config.EntriesDir, "*.conf"))
		if err != nil {
			return nil, err
		}
		sort.Strings(files)
		for _, f := range files {
			found, err := scanFile(f)
			if err != nil {
				return nil, err
			}
			add(found)
		}
	}
	return labels, nil
}

func scanFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		log.Debug("Boot loader configuration not found", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer f.Close()
	return ScanLabels(f)
}

// ScanLabels extracts the distinct vmlinuz-<label> references of a boot
// loader configuration in first-appearance order
func ScanLabels(r io.Reader) ([]string, error) {
	seen := make(map[string]bool)
	var labels []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m := kernelRef.FindStringSubmatch(scanner.Text())
		if len(m) < 2 {
			continue
		}
		label := strings.TrimRight(m[1], `'"`)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return labels, nil
}

// Rename moves vmlinuz-<label> and its initramfs images to newLabel.
// Protected entries are refused before anything is touched. When a move
// fails the ones already done are undone.
func (r *Registry) Rename(label, newLabel string) error {
	if err := validLabel(label); err != nil {
		return err
	}
	if err := validLabel(newLabel); err != nil {
		return err
	}
	if IsProtected(label) || IsProtected(newLabel) {
		return errors.ErrProtectedEntry.WithMessagef("Kernel entry %q is protected", label)
	}

	from := r.entry(label)
	if protectedFile(from.VmlinuzPath) {
		return errors.ErrProtectedEntry.WithMessagef("Kernel entry %q is protected", label)
	}
	if !paths.IsFile(from.VmlinuzPath) {
		return errors.ErrNotFound.WithMessagef("Kernel image %s not found", from.VmlinuzPath)
	}

	moves := []move{{from.VmlinuzPath, filepath.Join(r.config.BootDir, "vmlinuz-"+newLabel)}}
	if from.InitrdPath != "" {
		moves = append(moves, move{from.InitrdPath, filepath.Join(r.config.BootDir, "initrd.img-"+newLabel)})
	}
	if from.InitramfsPath != "" {
		moves = append(moves, move{from.InitramfsPath, filepath.Join(r.config.BootDir, "initramfs-"+newLabel+".img")})
	}
	for _, m := range moves {
		if _, err := os.Lstat(m.dest); err == nil {
			return errors.ErrAlreadyExists.WithMessagef("%s already exists", m.dest)
		}
	}

	for i, m := range moves {
		if err := rename(m.src, m.dest); err != nil {
			rollback(moves[:i])
			return errors.ErrInternal.WithCause(err).WithMessagef("Failed to rename %s", m.src)
		}
		log.Info("Renamed kernel file", "from", m.src, "to", m.dest)
	}
	return nil
}

type move struct{ src, dest string }

// rename is os.Rename; tests replace it to inject failures
var rename = os.Rename

// rollback reverses completed moves, newest first
func rollback(done []move) {
	for i := len(done) - 1; i >= 0; i-- {
		m := done[i]
		if err := rename(m.dest, m.src); err != nil {
			log.Error("Failed to restore kernel file", "path", m.dest, "original", m.src, "error", err)
			continue
		}
		log.Warn("Restored kernel file", "path", m.src)
	}
}

// ConfirmFunc asks the operator to approve deleting an entry
type ConfirmFunc func(e Entry) (bool, error)

// FileResult reports what happened to one file of a deleted entry
type FileResult struct {
	Path    string `json:"path" yaml:"path"`
	Removed bool   `json:"removed" yaml:"removed"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// DeleteReport lists the per-file results of a delete
type DeleteReport struct {
	Label string       `json:"label" yaml:"label"`
	Files []FileResult `json:"files" yaml:"files"`
}

// Delete removes vmlinuz-<label>, initrd.img-<label> and
// initramfs-<label>.img. confirm must approve before anything is removed.
// Each file is removed independently; a missing companion is reported in
// the result rather than failing the delete.
func (r *Registry) Delete(label string, confirm ConfirmFunc) (*DeleteReport, error) {
	if err := validLabel(label); err != nil {
		return nil, err
	}
	e := r.entry(label)
	if e.Protected || protectedFile(e.VmlinuzPath) {
		return nil, errors.ErrProtectedEntry.WithMessagef("Kernel entry %q is protected", label)
	}
	if !paths.IsFile(e.VmlinuzPath) {
		return nil, errors.ErrNotFound.WithMessagef("Kernel image %s not found", e.VmlinuzPath)
	}

	if confirm == nil {
		return nil, errors.ErrCancelled
	}
	ok, err := confirm(e)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.ErrCancelled.WithMessagef("Deletion of %s cancelled", label)
	}

	report := &DeleteReport{Label: label}
	initrd, initramfs := e.InitrdPath, e.InitramfsPath
	if initrd == "" {
		initrd = filepath.Join(r.config.BootDir, "initrd.img-"+label)
	}
	if initramfs == "" {
		initramfs = filepath.Join(r.config.BootDir, "initramfs-"+label+".img")
	}
	for _, path := range []string{e.VmlinuzPath, initrd, initramfs} {
		res := FileResult{Path: path}
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				res.Error = "not found"
			} else {
				res.Error = err.Error()
				log.Warn("Failed to remove kernel file", "path", path, "error", err)
			}
		} else {
			res.Removed = true
			log.Info("Removed kernel file", "path", path)
		}
		report.Files = append(report.Files, res)
	}
	return report, nil
}

func validLabel(label string) error {
	if label == "" || strings.ContainsAny(label, "/\\ \t") || label == "." || label == ".." {
		return errors.ErrInvalidLabel.WithMessagef("Invalid kernel label %q", label)
	}
	return nil
}
