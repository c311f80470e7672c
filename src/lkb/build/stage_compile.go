package build

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/paths"
	"github.com/bitswalk/lkb/src/lkb/runner"
)

// CompileStage builds the kernel image and modules with make
type CompileStage struct {
	runner    runner.Runner
	make      runner.Runner
	artifacts ArtifactStore
	output    io.Writer
}

// NewCompileStage creates a new compile stage; output, when set, receives
// the raw make output
func NewCompileStage(r runner.Runner, artifacts ArtifactStore, output io.Writer) *CompileStage {
	return &CompileStage{runner: r, make: r, artifacts: artifacts, output: output}
}

// WithMakeRunner runs the main make invocation on m. The build output is
// only streamed, so m need not keep a copy of it; a nil m is ignored.
func (s *CompileStage) WithMakeRunner(m runner.Runner) *CompileStage {
	if m != nil {
		s.make = m
	}
	return s
}

// Name returns the stage name
func (s *CompileStage) Name() StageName {
	return StageCompile
}

// Validate checks the tree was configured
func (s *CompileStage) Validate(ctx context.Context, bc *BuildContext) error {
	if err := requireSourceTree(StageCompile, bc); err != nil {
		return err
	}
	configPath := s.artifacts.ConfigPath(bc.WorkingDirectory)
	if !paths.IsFile(configPath) {
		return missing(StageCompile, "kernel config", configPath)
	}
	return nil
}

// Execute runs make -j<jobs> in the source tree
func (s *CompileStage) Execute(ctx context.Context, bc *BuildContext, progress ProgressFunc) (Status, error) {
	srcDir := bc.WorkingDirectory
	jobs := bc.Jobs
	if jobs <= 0 {
		jobs = 1
	}

	logPath := CompileLogPath(bc)
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return StatusFailed, errors.ErrCompileFailed.WithCause(err)
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return StatusFailed, errors.ErrCompileFailed.WithCause(fmt.Errorf("failed to create log file: %w", err))
	}
	defer logFile.Close()

	progressWriter := &buildProgressWriter{
		progress:    progress,
		basePercent: 5,
		maxPercent:  95,
		logFile:     logFile,
		logWriter:   s.output,
	}

	progress(0, fmt.Sprintf("Running make -j%d", jobs))
	log.Info("Compiling kernel", "dir", srcDir, "jobs", jobs, "log", logPath)

	res, err := s.make.Run(ctx, runner.Command{
		Name:   "make",
		Args:   []string{"-j" + strconv.Itoa(jobs)},
		Dir:    srcDir,
		Stdout: progressWriter,
		Stderr: progressWriter,
	})
	progressWriter.Flush()
	if err != nil {
		return StatusFailed, errors.ErrCompileFailed.WithCause(err)
	}
	if !res.Success() {
		return StatusFailed, errors.ErrCompileFailed.WithDetail(res.ExitCode).
			WithMessagef("make exited with status %d, see %s", res.ExitCode, logPath)
	}

	image := s.locateImage(ctx, srcDir)
	if !paths.IsFile(image) {
		return StatusFailed, errors.ErrCompileFailed.WithMessagef("Kernel compilation failed: boot image not found at %s", image)
	}
	bc.BootImage = image

	progress(100, fmt.Sprintf("Built %s", strings.TrimPrefix(image, srcDir+string(os.PathSeparator))))
	return StatusSucceeded, nil
}

// locateImage asks kbuild for the boot image path, falling back to the
// conventional one for the host architecture
func (s *CompileStage) locateImage(ctx context.Context, srcDir string) string {
	res, err := s.runner.Run(ctx, runner.Command{Name: "make", Args: []string{"-s", "image_name"}, Dir: srcDir})
	if err == nil && res.Success() {
		if name := strings.TrimSpace(res.Stdout); name != "" {
			return filepath.Join(srcDir, name)
		}
	}
	return s.artifacts.BootImagePath(srcDir)
}

// CompileLogPath returns where the make output of a run is kept
func CompileLogPath(bc *BuildContext) string {
	return filepath.Join(bc.BaseDirectory, "logs", fmt.Sprintf("compile-%s-%s.log", bc.Version.Version, bc.ID))
}

var makePercent = regexp.MustCompile(`\[\s*(\d+)%\]`)

// buildProgressWriter parses make output and updates progress. Kbuild
// prints no percentages, so compiled objects advance a counter and
// well-known link steps move it forward; progress never goes back.
type buildProgressWriter struct {
	progress    ProgressFunc
	basePercent int
	maxPercent  int
	logFile     io.Writer
	logWriter   io.Writer
	lastPercent int
	objects     int
	partial     []byte
}

// objectsPerPercent sets how many compiled objects advance progress by one
const objectsPerPercent = 150

func (w *buildProgressWriter) Write(p []byte) (int, error) {
	if w.logFile != nil {
		if _, err := w.logFile.Write(p); err != nil {
			log.Warn("Failed to write to build log file", "error", err)
		}
	}
	if w.logWriter != nil {
		if _, err := w.logWriter.Write(p); err != nil {
			log.Warn("Failed to write to build log writer", "error", err)
		}
	}

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.parseLine(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

// Flush parses a trailing line without newline
func (w *buildProgressWriter) Flush() {
	if len(w.partial) > 0 {
		w.parseLine(string(w.partial))
		w.partial = nil
	}
}

func (w *buildProgressWriter) parseLine(line string) {
	if m := makePercent.FindStringSubmatch(line); len(m) >= 2 {
		if pct, err := strconv.Atoi(m[1]); err == nil {
			w.advance(w.basePercent+pct*(w.maxPercent-w.basePercent)/100, fmt.Sprintf("Compiling kernel... %d%%", pct))
		}
		return
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch {
	case fields[0] == "CC" || fields[0] == "AS":
		w.objects++
		w.advance(w.basePercent+min(w.objects/objectsPerPercent, 60), "")
	case fields[0] == "LD" && len(fields) > 1 && fields[1] == "vmlinux":
		w.advance(w.basePercent+65, "Linking vmlinux")
	case strings.HasPrefix(line, "Kernel:") && strings.Contains(line, "is ready"):
		w.advance(w.basePercent+75, "Kernel image ready")
	case fields[0] == "MODPOST":
		w.advance(w.basePercent+80, "Building modules")
	case fields[0] == "LD" && len(fields) > 2 && fields[1] == "[M]":
		w.advance(w.basePercent+85, "Linking modules")
	}
}

func (w *buildProgressWriter) advance(pct int, message string) {
	if pct > w.maxPercent {
		pct = w.maxPercent
	}
	if pct <= w.lastPercent {
		return
	}
	w.lastPercent = pct
	if message == "" {
		message = fmt.Sprintf("Compiling kernel... %d objects", w.objects)
	}
	w.progress(pct, message)
}
