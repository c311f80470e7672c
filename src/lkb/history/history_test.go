package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/logs"
	"github.com/bitswalk/lkb/src/lkb/build"
	"github.com/bitswalk/lkb/src/lkb/release"
)

func init() {
	SetLogger(logs.NewDiscard())
	build.SetLogger(logs.NewDiscard())
}

type fixedStage struct {
	name   build.StageName
	status build.Status
	err    error
}

func (s fixedStage) Name() build.StageName { return s.name }

func (s fixedStage) Validate(ctx context.Context, bc *build.BuildContext) error { return nil }

func (s fixedStage) Execute(ctx context.Context, bc *build.BuildContext, progress build.ProgressFunc) (build.Status, error) {
	return s.status, s.err
}

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "state", "history.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_AppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	db, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != 2 {
		t.Errorf("SchemaVersion() = %d, want 2", version)
	}
	db.Close()

	// Reopening must not re-run ALTER TABLE migrations
	db, err = Open(Config{Path: path})
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	db.Close()
}

func TestOpen_InMemory(t *testing.T) {
	db, err := Open(Config{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()
	if version, err := db.SchemaVersion(); err != nil || version != 2 {
		t.Errorf("SchemaVersion() = %d, %v, want 2", version, err)
	}
	runs, err := NewRunRepository(db).List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("List() = %d runs, want 0", len(runs))
	}
}

func TestRecorder_SuccessfulRun(t *testing.T) {
	repo := NewRunRepository(openTestDB(t))

	bc := build.NewBuildContext(release.NewKernelVersion("6.10.3"), t.TempDir(), t.TempDir())
	bc.ConfigChoice = build.CustomizeFromDefault
	pipeline := build.NewPipeline([]build.Stage{
		fixedStage{name: build.StageDownload, status: build.StatusSkipped},
		fixedStage{name: build.StageExtract, status: build.StatusSucceeded},
		fixedStage{name: build.StageBootloader, status: build.StatusSkipped, err: errors.ErrBootloaderUnsupported},
	}, build.WithObserver(NewRecorder(repo)))

	if err := pipeline.Run(context.Background(), bc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	run, err := repo.Get(bc.ID)
	if err != nil || run == nil {
		t.Fatalf("Get() = %v, %v", run, err)
	}
	if run.Status != RunSucceeded || run.KernelVersion != "6.10.3" || run.ConfigChoice != "custom" {
		t.Errorf("run = %+v", run)
	}
	if run.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if run.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", run.ExitCode)
	}

	stages, err := repo.GetStages(bc.ID)
	if err != nil {
		t.Fatalf("GetStages() error = %v", err)
	}
	want := []struct{ name, status string }{
		{"download", "skipped"},
		{"extract", "succeeded"},
		{"bootloader", "skipped"},
	}
	if len(stages) != len(want) {
		t.Fatalf("got %d stages, want %d", len(stages), len(want))
	}
	for i, w := range want {
		if stages[i].Name != w.name || stages[i].Status != w.status {
			t.Errorf("stage %d = %s/%s, want %s/%s", i, stages[i].Name, stages[i].Status, w.name, w.status)
		}
	}
	if stages[2].Detail == "" {
		t.Error("skip reason not recorded")
	}
}

func TestRecorder_FailedRun(t *testing.T) {
	repo := NewRunRepository(openTestDB(t))

	bc := build.NewBuildContext(release.NewKernelVersion("6.10"), t.TempDir(), t.TempDir())
	pipeline := build.NewPipeline([]build.Stage{
		fixedStage{name: build.StageConfigure, status: build.StatusSucceeded},
		fixedStage{name: build.StageCompile, status: build.StatusFailed, err: errors.ErrCompileFailed.WithDetail(2)},
		fixedStage{name: build.StageInstall, status: build.StatusSucceeded},
	}, build.WithObserver(NewRecorder(repo)))

	if err := pipeline.Run(context.Background(), bc); !errors.Is(err, errors.ErrCompileFailed) {
		t.Fatalf("Run() error = %v, want CompileFailed", err)
	}

	run, err := repo.Get(bc.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if run.Status != RunFailed {
		t.Errorf("Status = %s, want failed", run.Status)
	}
	if run.ErrorStage != "compile" {
		t.Errorf("ErrorStage = %q, want compile", run.ErrorStage)
	}
	if run.ExitCode != errors.ExitCompileFailed {
		t.Errorf("ExitCode = %d, want %d", run.ExitCode, errors.ExitCompileFailed)
	}

	stages, _ := repo.GetStages(bc.ID)
	if len(stages) != 2 {
		t.Fatalf("got %d stages, want 2 (install must not run)", len(stages))
	}
	if stages[1].ErrorMessage == "" {
		t.Error("compile error message not recorded")
	}
}

func TestRecorder_CancelledRun(t *testing.T) {
	repo := NewRunRepository(openTestDB(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bc := build.NewBuildContext(release.NewKernelVersion("6.10"), t.TempDir(), t.TempDir())
	pipeline := build.NewPipeline([]build.Stage{
		fixedStage{name: build.StageDownload, status: build.StatusSucceeded},
	}, build.WithObserver(NewRecorder(repo)))

	if err := pipeline.Run(ctx, bc); err == nil {
		t.Fatal("Run() succeeded with a cancelled context")
	}
	run, _ := repo.Get(bc.ID)
	if run == nil || run.Status != RunCancelled {
		t.Fatalf("run = %+v, want cancelled", run)
	}
}

func TestRunRepository_ListAndDelete(t *testing.T) {
	repo := NewRunRepository(openTestDB(t))

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		run := &Run{ID: id, KernelVersion: "6.1", StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := repo.Create(run); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}
	if err := repo.CreateStage(&Stage{RunID: "b", Name: "download"}); err != nil {
		t.Fatalf("CreateStage() error = %v", err)
	}

	runs, err := repo.List(2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("List(2) = %+v, want c then b", runs)
	}

	if err := repo.Delete("b"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if run, _ := repo.Get("b"); run != nil {
		t.Error("run b still present")
	}
	if stages, _ := repo.GetStages("b"); len(stages) != 0 {
		t.Errorf("stages of deleted run = %d, want 0", len(stages))
	}
}

func TestRunRepository_GetMissing(t *testing.T) {
	repo := NewRunRepository(openTestDB(t))
	run, err := repo.Get("nope")
	if err != nil || run != nil {
		t.Errorf("Get(missing) = %v, %v; want nil, nil", run, err)
	}
}
