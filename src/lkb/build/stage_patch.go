package build

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/paths"
	"github.com/bitswalk/lkb/src/lkb/runner"
)

// PatchStage applies an operator-supplied unified diff to the source tree
type PatchStage struct {
	runner runner.Runner
}

// NewPatchStage creates a new patch stage
func NewPatchStage(r runner.Runner) *PatchStage {
	return &PatchStage{runner: r}
}

// Name returns the stage name
func (s *PatchStage) Name() StageName {
	return StagePatch
}

// Validate checks the source tree exists
func (s *PatchStage) Validate(ctx context.Context, bc *BuildContext) error {
	return requireSourceTree(StagePatch, bc)
}

// Execute applies the first patch found; finding none is not a failure
func (s *PatchStage) Execute(ctx context.Context, bc *BuildContext, progress ProgressFunc) (Status, error) {
	if !bc.ApplyPatch {
		return StatusSkipped, nil
	}

	patch, err := FindPatch(bc.PatchPath, bc.BaseDirectory)
	if err != nil {
		return StatusFailed, errors.ErrPatchFailed.WithCause(err)
	}
	if patch == "" {
		log.Info("No patch file found, skipping", "search", patchSearchDir(bc.PatchPath, bc.BaseDirectory))
		progress(100, "No patch file found")
		return StatusSkipped, nil
	}

	progress(10, fmt.Sprintf("Checking %s", filepath.Base(patch)))
	if err := s.patch(ctx, bc.WorkingDirectory, patch, true); err != nil {
		return StatusFailed, err
	}

	progress(50, fmt.Sprintf("Applying %s", filepath.Base(patch)))
	if err := s.patch(ctx, bc.WorkingDirectory, patch, false); err != nil {
		return StatusFailed, err
	}

	progress(100, fmt.Sprintf("Applied %s", filepath.Base(patch)))
	return StatusSucceeded, nil
}

// patch runs patch -p1 in srcDir; a dry run leaves the tree untouched when
// hunks would be rejected
func (s *PatchStage) patch(ctx context.Context, srcDir, file string, dryRun bool) error {
	args := []string{"-p1", "--forward", "--batch"}
	if dryRun {
		args = append(args, "--dry-run")
	}
	args = append(args, "-i", file)

	res, err := s.runner.Run(ctx, runner.Command{Name: "patch", Args: args, Dir: srcDir})
	if err != nil {
		return errors.ErrPatchFailed.WithCause(err)
	}
	if !res.Success() {
		return errors.ErrPatchFailed.WithDetail(res.ExitCode).
			WithMessagef("%s does not apply cleanly (patch exited %d)", filepath.Base(file), res.ExitCode)
	}
	return nil
}

// FindPatch resolves the patch to apply. patchPath may name a file or a
// directory; empty means baseDir. In a directory the first *.patch in
// lexical order wins. An empty result means nothing was found.
func FindPatch(patchPath, baseDir string) (string, error) {
	dir := patchSearchDir(patchPath, baseDir)
	if paths.IsFile(dir) {
		return dir, nil
	}
	if !paths.IsDir(dir) {
		return "", nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.patch"))
	if err != nil {
		return "", err
	}
	sort.Strings(matches)
	for _, m := range matches {
		if paths.IsFile(m) {
			return m, nil
		}
	}
	return "", nil
}

func patchSearchDir(patchPath, baseDir string) string {
	if patchPath == "" {
		return baseDir
	}
	return paths.Resolve(baseDir, patchPath)
}

// requireSourceTree checks Extract pointed the context at a source tree
func requireSourceTree(stage StageName, bc *BuildContext) error {
	makefile := filepath.Join(bc.WorkingDirectory, "Makefile")
	if !paths.IsFile(makefile) {
		return missing(stage, "kernel source tree", bc.WorkingDirectory)
	}
	return nil
}
