package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/lkb/release"
)

// scriptedStage returns a fixed result and counts its calls
type scriptedStage struct {
	name        StageName
	validateErr error
	status      Status
	err         error
	executed    int
}

func (s *scriptedStage) Name() StageName { return s.name }

func (s *scriptedStage) Validate(ctx context.Context, bc *BuildContext) error {
	return s.validateErr
}

func (s *scriptedStage) Execute(ctx context.Context, bc *BuildContext, progress ProgressFunc) (Status, error) {
	s.executed++
	progress(100, "done")
	return s.status, s.err
}

// recordingObserver captures observer callbacks
type recordingObserver struct {
	events []string
	runErr error
}

func (o *recordingObserver) RunStarted(bc *BuildContext) { o.events = append(o.events, "run") }

func (o *recordingObserver) StageStarted(bc *BuildContext, stage StageName) {
	o.events = append(o.events, "start:"+string(stage))
}

func (o *recordingObserver) StageFinished(bc *BuildContext, outcome StageOutcome) {
	o.events = append(o.events, fmt.Sprintf("finish:%s:%s", outcome.Stage, outcome.Status))
}

func (o *recordingObserver) RunFinished(bc *BuildContext, err error) {
	o.events = append(o.events, "done")
	o.runErr = err
}

func newScriptedContext(t *testing.T) *BuildContext {
	return NewBuildContext(release.NewKernelVersion("6.10"), t.TempDir(), t.TempDir())
}

func TestPipeline_FatalFailureStopsLaterStages(t *testing.T) {
	fatalKinds := []error{
		errors.ErrDownloadFailed,
		errors.ErrExtractFailed,
		errors.ErrMissingPrerequisite,
		errors.ErrConfigureFailed,
		errors.ErrCompileFailed.WithDetail(2),
		errors.ErrInstallFailed,
		errors.ErrInitramfsFailed,
	}
	for _, kind := range fatalKinds {
		for k := 0; k < 3; k++ {
			t.Run(fmt.Sprintf("%s/at-%d", errors.GetCode(kind), k), func(t *testing.T) {
				stages := make([]*scriptedStage, 4)
				list := make([]Stage, 4)
				for i := range stages {
					stages[i] = &scriptedStage{name: StageOrder[i], status: StatusSucceeded}
					list[i] = stages[i]
				}
				stages[k].status = StatusFailed
				stages[k].err = kind

				bc := newScriptedContext(t)
				err := NewPipeline(list).Run(context.Background(), bc)
				if !errors.Is(err, kind) {
					t.Fatalf("Run() error = %v, want %v", err, kind)
				}
				for i := k + 1; i < len(stages); i++ {
					if stages[i].executed != 0 {
						t.Errorf("stage %s ran after a fatal failure", stages[i].name)
					}
				}
				outcomes := bc.Outcomes()
				if len(outcomes) != k+1 {
					t.Fatalf("recorded %d outcomes, want %d", len(outcomes), k+1)
				}
				if outcomes[k].Status != StatusFailed {
					t.Errorf("last outcome = %s, want failed", outcomes[k].Status)
				}
			})
		}
	}
}

func TestPipeline_NonFatalFailureContinues(t *testing.T) {
	patch := &scriptedStage{name: StagePatch, status: StatusFailed, err: errors.ErrPatchFailed.WithDetail(1)}
	configure := &scriptedStage{name: StageConfigure, status: StatusSucceeded}

	bc := newScriptedContext(t)
	if err := NewPipeline([]Stage{patch, configure}).Run(context.Background(), bc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if configure.executed != 1 {
		t.Error("configure should run after a non-fatal patch failure")
	}
	got := statuses(bc.Outcomes())
	if got[StagePatch] != StatusFailed || got[StageConfigure] != StatusSucceeded {
		t.Errorf("unexpected outcomes %v", got)
	}

	patch.executed, configure.executed = 0, 0
	bc = newScriptedContext(t)
	err := NewPipeline([]Stage{patch, configure}, WithPolicy(Policy{PatchFatal: true})).Run(context.Background(), bc)
	if !errors.Is(err, errors.ErrPatchFailed) {
		t.Fatalf("with PatchFatal, Run() error = %v", err)
	}
	if configure.executed != 0 {
		t.Error("configure should not run when patch failures are fatal")
	}
}

func TestPipeline_ValidationFailureIsRecorded(t *testing.T) {
	extract := &scriptedStage{name: StageExtract, validateErr: missing(StageExtract, "kernel tarball", "/nowhere")}
	bc := newScriptedContext(t)
	err := NewPipeline([]Stage{extract}).Run(context.Background(), bc)
	if !errors.Is(err, errors.ErrMissingPrerequisite) {
		t.Fatalf("Run() error = %v", err)
	}
	if extract.executed != 0 {
		t.Error("a stage that fails validation must not execute")
	}
	if o, ok := bc.Outcome(StageExtract); !ok || o.Status != StatusFailed || !strings.Contains(o.Detail, "validation failed") {
		t.Errorf("outcome = %+v", o)
	}
	if errors.GetExitCode(err) != errors.ExitMissingPrerequisite {
		t.Errorf("exit code = %d", errors.GetExitCode(err))
	}
}

func TestPipeline_SkipWithReason(t *testing.T) {
	bl := &scriptedStage{name: StageBootloader, status: StatusSkipped, err: errors.ErrBootloaderUnsupported}
	bc := newScriptedContext(t)
	if err := NewPipeline([]Stage{bl}).Run(context.Background(), bc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	o, _ := bc.Outcome(StageBootloader)
	if o.Status != StatusSkipped || !errors.Is(o.Err, errors.ErrBootloaderUnsupported) {
		t.Errorf("outcome = %+v", o)
	}
}

func TestPipeline_Observers(t *testing.T) {
	obs := &recordingObserver{}
	var progressed []StageName
	stages := []Stage{
		&scriptedStage{name: StageDownload, status: StatusSkipped},
		&scriptedStage{name: StageExtract, status: StatusSucceeded},
	}
	p := NewPipeline(stages,
		WithObserver(obs),
		WithObserver(nil),
		WithProgress(func(stage StageName, percent int, message string) {
			progressed = append(progressed, stage)
		}),
	)
	if err := p.Run(context.Background(), newScriptedContext(t)); err != nil {
		t.Fatal(err)
	}
	want := []string{"run", "start:download", "finish:download:skipped", "start:extract", "finish:extract:succeeded", "done"}
	if strings.Join(obs.events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", obs.events, want)
	}
	if len(progressed) != 2 {
		t.Errorf("progress calls = %v", progressed)
	}
	if names := p.Stages(); len(names) != 2 || names[1] != StageExtract {
		t.Errorf("Stages() = %v", names)
	}
}

func TestPipeline_CancelledBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &scriptedStage{name: StageDownload, status: StatusSucceeded}
	second := &scriptedStage{name: StageExtract, status: StatusSucceeded}
	cancelling := &cancelStage{scriptedStage: first, cancel: cancel}

	err := NewPipeline([]Stage{cancelling, second}).Run(ctx, newScriptedContext(t))
	if err != context.Canceled {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if second.executed != 0 {
		t.Error("no stage should start after cancellation")
	}
}

type cancelStage struct {
	*scriptedStage
	cancel context.CancelFunc
}

func (s *cancelStage) Execute(ctx context.Context, bc *BuildContext, progress ProgressFunc) (Status, error) {
	defer s.cancel()
	return s.scriptedStage.Execute(ctx, bc, progress)
}

func TestRun_Success(t *testing.T) {
	env := newTestEnv(t, "6.10", 0)
	env.bc.DisableSigningKeys = true

	if err := env.pipeline().Run(context.Background(), env.bc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := statuses(env.bc.Outcomes())
	for _, name := range []StageName{StageDownload, StageExtract, StageConfigure, StageCompile, StageInstall, StageInitramfs, StageBootloader} {
		if got[name] != StatusSucceeded {
			t.Errorf("%s = %s, want succeeded", name, got[name])
		}
	}
	if got[StagePatch] != StatusSkipped {
		t.Errorf("patch = %s, want skipped when not requested", got[StagePatch])
	}

	srcDir := filepath.Join(env.bc.BaseDirectory, "linux-6.10")
	if env.bc.WorkingDirectory != srcDir {
		t.Errorf("WorkingDirectory = %q, want %q", env.bc.WorkingDirectory, srcDir)
	}
	for _, name := range []string{"vmlinuz-6.10", "System.map-6.10", "config-6.10", "initramfs-6.10.0.img"} {
		if _, err := os.Stat(filepath.Join(env.bc.BootDirectory, name)); err != nil {
			t.Errorf("expected %s in boot directory: %v", name, err)
		}
	}
	cfg, _ := os.ReadFile(filepath.Join(srcDir, ".config"))
	if !strings.Contains(string(cfg), `CONFIG_SYSTEM_TRUSTED_KEYS=""`) {
		t.Errorf("signing keys not cleared:\n%s", cfg)
	}
	if env.loader.refreshed != 1 {
		t.Errorf("boot loader refreshed %d times", env.loader.refreshed)
	}
	for _, c := range env.runner.Calls() {
		if c.Name != "install" && c.Name != "dracut" && c.Dir != srcDir {
			t.Errorf("%q ran in %q, want the source tree", c.String(), c.Dir)
		}
	}
	if !env.runner.Called("make -j4") {
		t.Error("expected make -j4")
	}
}

func TestRun_CompileFailureStopsBeforeInstall(t *testing.T) {
	env := newTestEnv(t, "6.10", 2)

	err := env.pipeline().Run(context.Background(), env.bc)
	if !errors.Is(err, errors.ErrCompileFailed) {
		t.Fatalf("Run() error = %v, want ErrCompileFailed", err)
	}
	if errors.GetDetail(err) != 2 {
		t.Errorf("detail = %d, want make's exit code 2", errors.GetDetail(err))
	}
	if errors.GetExitCode(err) != errors.ExitCompileFailed {
		t.Errorf("exit code = %d", errors.GetExitCode(err))
	}

	outcomes := env.bc.Outcomes()
	failed := 0
	for _, o := range outcomes {
		if o.Status == StatusFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("%d failed outcomes, want exactly 1", failed)
	}
	if last := outcomes[len(outcomes)-1]; last.Stage != StageCompile || last.Status != StatusFailed {
		t.Errorf("last outcome = %+v, want compile failed", last)
	}
	if env.runner.Called("make modules_install") || env.runner.Called("install") {
		t.Error("install ran after a compile failure")
	}
	if env.loader.refreshed != 0 {
		t.Error("boot loader refreshed after a compile failure")
	}
}

func TestRun_PatchRequestedButNoneFound(t *testing.T) {
	env := newTestEnv(t, "6.10", 0)
	env.bc.ApplyPatch = true

	if err := env.pipeline().Run(context.Background(), env.bc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	outcomes := env.bc.Outcomes()
	var patchIdx, configureIdx = -1, -1
	for i, o := range outcomes {
		switch o.Stage {
		case StagePatch:
			patchIdx = i
		case StageConfigure:
			configureIdx = i
		}
	}
	if patchIdx < 0 || outcomes[patchIdx].Status != StatusSkipped {
		t.Fatalf("patch outcome missing or not skipped: %+v", outcomes)
	}
	if configureIdx != patchIdx+1 || outcomes[configureIdx].Status != StatusSucceeded {
		t.Errorf("configure should follow the skipped patch: %+v", outcomes)
	}
	if env.runner.Called("patch") {
		t.Error("patch should not be invoked without a patch file")
	}
}

func TestRun_SecondDownloadSkipsNetwork(t *testing.T) {
	env := newTestEnv(t, "6.10", 0)
	stage := NewDownloadStage(env.fetcher, env.artifacts, nil, "")
	noop := func(int, string) {}

	for i, want := range []Status{StatusSucceeded, StatusSkipped} {
		status, err := stage.Execute(context.Background(), env.bc, noop)
		if err != nil {
			t.Fatalf("download #%d error = %v", i+1, err)
		}
		if status != want {
			t.Errorf("download #%d status = %s, want %s", i+1, status, want)
		}
	}
	if env.fetcher.calls != 1 {
		t.Errorf("network transfers = %d, want 1", env.fetcher.calls)
	}
}

func TestRun_BootloaderUnsupportedIsNotAFailure(t *testing.T) {
	env := newTestEnv(t, "6.10", 0)
	env.deps.Bootloader = stubDetector{err: errors.ErrBootloaderUnsupported}

	if err := env.pipeline().Run(context.Background(), env.bc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := statuses(env.bc.Outcomes())[StageBootloader]; got != StatusSkipped {
		t.Errorf("bootloader = %s, want skipped", got)
	}
}

func TestRun_BootloaderRefreshFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(t, "6.10", 0)
	env.loader.err = errors.ErrBootloaderRefreshFailed.WithDetail(1)

	if err := env.pipeline().Run(context.Background(), env.bc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := statuses(env.bc.Outcomes())[StageBootloader]; got != StatusFailed {
		t.Errorf("bootloader = %s, want failed", got)
	}
}

func TestSelectVersion_EmptyCatalog(t *testing.T) {
	base := t.TempDir()

	_, err := SelectVersion(context.Background(), staticCatalog{}, "", nil)
	if !errors.Is(err, errors.ErrCatalogUnavailable) {
		t.Fatalf("err = %v, want ErrCatalogUnavailable", err)
	}
	if errors.GetExitCode(err) != errors.ExitCatalogUnavailable {
		t.Errorf("exit code = %d", errors.GetExitCode(err))
	}
	entries, _ := os.ReadDir(base)
	if len(entries) != 0 {
		t.Errorf("base directory written: %v", entries)
	}
}

func TestSelectVersion(t *testing.T) {
	catalog := staticCatalog{
		release.NewKernelVersion("6.11"),
		release.NewKernelVersion("6.10.14"),
	}
	v, err := SelectVersion(context.Background(), catalog, "6.10.14", nil)
	if err != nil || v.Version != "6.10.14" {
		t.Errorf("want 6.10.14, got %v, %v", v, err)
	}

	if _, err := SelectVersion(context.Background(), catalog, "5.4", nil); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("unknown version err = %v", err)
	}

	v, err = SelectVersion(context.Background(), catalog, "", func(rs []release.KernelVersion) (release.KernelVersion, error) {
		return rs[1], nil
	})
	if err != nil || v.Version != "6.10.14" {
		t.Errorf("chooser result = %v, %v", v, err)
	}
}

func TestSelectVersion_DefaultsToLatestStable(t *testing.T) {
	stable := release.NewKernelVersion("6.10.14")
	stable.LatestStable = true
	catalog := staticCatalog{release.NewKernelVersion("6.12-rc1"), release.NewKernelVersion("6.11"), stable}

	v, err := SelectVersion(context.Background(), catalog, "", nil)
	if err != nil || v.Version != "6.10.14" {
		t.Errorf("want the marked release 6.10.14, got %v, %v", v, err)
	}

	v, err = SelectVersion(context.Background(), catalog[:2], "", nil)
	if err != nil || v.Version != "6.11" {
		t.Errorf("want the highest final release 6.11, got %v, %v", v, err)
	}
}
