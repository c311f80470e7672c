// Package build runs the kernel build pipeline: an ordered list of stages
// sharing one BuildContext, from downloading the source tarball to
// refreshing the bootloader.
package build

import (
	"context"
	"time"
)

// StageName identifies a pipeline stage
type StageName string

const (
	StageDownload   StageName = "download"
	StageExtract    StageName = "extract"
	StagePatch      StageName = "patch"
	StageConfigure  StageName = "configure"
	StageCompile    StageName = "compile"
	StageInstall    StageName = "install"
	StageInitramfs  StageName = "initramfs"
	StageBootloader StageName = "bootloader"
)

// StageOrder is the fixed order stages run in
var StageOrder = []StageName{
	StageDownload,
	StageExtract,
	StagePatch,
	StageConfigure,
	StageCompile,
	StageInstall,
	StageInitramfs,
	StageBootloader,
}

// Status is the terminal state of a stage
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Stage defines the interface for a single build pipeline stage
type Stage interface {
	// Name returns the stage name
	Name() StageName

	// Validate checks that the artifacts this stage consumes exist
	Validate(ctx context.Context, bc *BuildContext) error

	// Execute runs the stage, updating progress via the callback.
	// A nil error with StatusSkipped means the work was already done.
	Execute(ctx context.Context, bc *BuildContext, progress ProgressFunc) (Status, error)
}

// ProgressFunc reports stage progress (0-100) with an optional message
type ProgressFunc func(percent int, message string)

// StageOutcome records how one stage ended
type StageOutcome struct {
	Stage     StageName     `json:"stage" yaml:"stage"`
	Status    Status        `json:"status" yaml:"status"`
	Detail    string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Err       error         `json:"-" yaml:"-"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}
