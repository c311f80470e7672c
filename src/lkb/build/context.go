package build

import (
	"fmt"
	"runtime"

	"github.com/google/uuid"

	"github.com/bitswalk/lkb/src/lkb/release"
)

// ConfigChoice selects how the kernel .config is produced
type ConfigChoice string

const (
	// UseDefault seeds the config from the running system without prompting
	UseDefault ConfigChoice = "default"
	// FromScratch opens menuconfig on the tree's built-in defaults
	FromScratch ConfigChoice = "scratch"
	// CustomizeFromDefault seeds from the running system, then opens menuconfig
	CustomizeFromDefault ConfigChoice = "custom"
)

// ParseConfigChoice converts a flag or menu value to a ConfigChoice
func ParseConfigChoice(s string) (ConfigChoice, error) {
	switch ConfigChoice(s) {
	case UseDefault, FromScratch, CustomizeFromDefault:
		return ConfigChoice(s), nil
	case "":
		return UseDefault, nil
	default:
		return "", fmt.Errorf("unknown config choice %q (want default, scratch or custom)", s)
	}
}

// BuildContext holds the state shared by every stage of one run
type BuildContext struct {
	ID      string
	Version release.KernelVersion

	// BaseDirectory holds the tarball and the extracted tree
	BaseDirectory string
	// WorkingDirectory starts at BaseDirectory; Extract points it at the source tree
	WorkingDirectory string
	// BootDirectory receives the kernel image, System.map, config and initramfs
	BootDirectory string

	Debug              bool
	ConfigChoice       ConfigChoice
	DisableSigningKeys bool

	// ApplyPatch requests the patch stage; PatchPath is a directory or a
	// .patch file, empty meaning BaseDirectory
	ApplyPatch bool
	PatchPath  string

	Jobs int

	// BootImage is the compiled image, set by Compile
	BootImage string

	outcomes []StageOutcome
}

// NewBuildContext creates the context for building version in baseDir
func NewBuildContext(version release.KernelVersion, baseDir, bootDir string) *BuildContext {
	if bootDir == "" {
		bootDir = "/boot"
	}
	return &BuildContext{
		ID:               uuid.New().String(),
		Version:          version,
		BaseDirectory:    baseDir,
		WorkingDirectory: baseDir,
		BootDirectory:    bootDir,
		ConfigChoice:     UseDefault,
		Jobs:             runtime.NumCPU(),
	}
}

// record appends an outcome; outcomes are never modified afterwards
func (bc *BuildContext) record(o StageOutcome) {
	bc.outcomes = append(bc.outcomes, o)
}

// Outcomes returns a copy of the recorded stage outcomes, in run order
func (bc *BuildContext) Outcomes() []StageOutcome {
	return append([]StageOutcome(nil), bc.outcomes...)
}

// Outcome returns the outcome recorded for a stage
func (bc *BuildContext) Outcome(name StageName) (StageOutcome, bool) {
	for _, o := range bc.outcomes {
		if o.Stage == name {
			return o, true
		}
	}
	return StageOutcome{}, false
}
