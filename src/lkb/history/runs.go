package history

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/lkb/build"
)

// RunStatus is the state of a recorded run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is one recorded pipeline run
type Run struct {
	ID            string     `json:"id" yaml:"id"`
	KernelVersion string     `json:"kernel_version" yaml:"kernel_version"`
	Status        RunStatus  `json:"status" yaml:"status"`
	BaseDir       string     `json:"base_dir" yaml:"base_dir"`
	ConfigChoice  string     `json:"config_choice,omitempty" yaml:"config_choice,omitempty"`
	PatchPath     string     `json:"patch_path,omitempty" yaml:"patch_path,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	ErrorStage    string     `json:"error_stage,omitempty" yaml:"error_stage,omitempty"`
	ExitCode      int        `json:"exit_code" yaml:"exit_code"`
	StartedAt     time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// Stage is the recorded outcome of one stage within a run
type Stage struct {
	ID           int64     `json:"-" yaml:"-"`
	RunID        string    `json:"run_id" yaml:"run_id"`
	Name         string    `json:"name" yaml:"name"`
	Status       string    `json:"status" yaml:"status"`
	Detail       string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at" yaml:"started_at"`
	DurationMs   int64     `json:"duration_ms" yaml:"duration_ms"`
}

// RunRepository handles run and stage records
type RunRepository struct {
	db *Database
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *Database) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run in the running state
func (r *RunRepository) Create(run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}

	_, err := r.db.DB().Exec(`
		INSERT INTO runs (id, kernel_version, status, base_dir, config_choice, patch_path, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.KernelVersion, run.Status, run.BaseDir, run.ConfigChoice, run.PatchPath, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// MarkFinished records how a run ended
func (r *RunRepository) MarkFinished(id string, status RunStatus, errStage, errMsg string, exitCode int) error {
	_, err := r.db.DB().Exec(`
		UPDATE runs
		SET status = ?, error_stage = ?, error_message = ?, exit_code = ?, completed_at = ?
		WHERE id = ?
	`, status, errStage, errMsg, exitCode, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark run finished: %w", err)
	}
	return nil
}

// CreateStage inserts a running stage record
func (r *RunRepository) CreateStage(stage *Stage) error {
	if stage.StartedAt.IsZero() {
		stage.StartedAt = time.Now().UTC()
	}
	if stage.Status == "" {
		stage.Status = string(RunRunning)
	}

	result, err := r.db.DB().Exec(`
		INSERT INTO run_stages (run_id, name, status, started_at)
		VALUES (?, ?, ?, ?)
	`, stage.RunID, stage.Name, stage.Status, stage.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create run stage: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	stage.ID = id
	return nil
}

// FinishStage records the outcome of the running stage with the given name
func (r *RunRepository) FinishStage(runID string, outcome build.StageOutcome) error {
	errMsg := ""
	if outcome.Err != nil {
		errMsg = outcome.Err.Error()
	}

	result, err := r.db.DB().Exec(`
		UPDATE run_stages
		SET status = ?, detail = ?, error_message = ?, duration_ms = ?
		WHERE run_id = ? AND name = ? AND status = 'running'
	`, outcome.Status, outcome.Detail, errMsg, outcome.Duration.Milliseconds(), runID, outcome.Stage)
	if err != nil {
		return fmt.Errorf("failed to finish run stage: %w", err)
	}

	// An outcome with no matching running row is inserted whole
	if n, _ := result.RowsAffected(); n == 0 {
		started := outcome.StartedAt
		if started.IsZero() {
			started = time.Now().UTC()
		}
		_, err = r.db.DB().Exec(`
			INSERT INTO run_stages (run_id, name, status, detail, error_message, started_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, runID, outcome.Stage, outcome.Status, outcome.Detail, errMsg, started, outcome.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to insert run stage: %w", err)
		}
	}
	return nil
}

const selectRunsQuery = `
	SELECT id, kernel_version, status, base_dir, config_choice, patch_path,
		error_message, error_stage, exit_code, started_at, completed_at
	FROM runs
`

// Get retrieves a run by ID, returning nil if it does not exist
func (r *RunRepository) Get(id string) (*Run, error) {
	row := r.db.DB().QueryRow(selectRunsQuery+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// List returns the most recent runs first; limit <= 0 returns all
func (r *RunRepository) List(limit int) ([]Run, error) {
	query := selectRunsQuery + ` ORDER BY started_at DESC, rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetStages retrieves the stages of a run in the order they ran
func (r *RunRepository) GetStages(runID string) ([]Stage, error) {
	rows, err := r.db.DB().Query(`
		SELECT id, run_id, name, status, detail, error_message, started_at, duration_ms
		FROM run_stages
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run stages: %w", err)
	}
	defer rows.Close()

	var stages []Stage
	for rows.Next() {
		var s Stage
		var detail, errMsg sql.NullString
		if err := rows.Scan(&s.ID, &s.RunID, &s.Name, &s.Status, &detail, &errMsg, &s.StartedAt, &s.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan run stage: %w", err)
		}
		s.Detail = detail.String
		s.ErrorMessage = errMsg.String
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

// Delete removes a run and its stages
func (r *RunRepository) Delete(id string) error {
	_, err := r.db.DB().Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var errMsg, errStage sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID, &run.KernelVersion, &run.Status, &run.BaseDir, &run.ConfigChoice, &run.PatchPath,
		&errMsg, &errStage, &run.ExitCode, &run.StartedAt, &completedAt,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.ErrorMessage = errMsg.String
	run.ErrorStage = errStage.String
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// Recorder writes pipeline events to the history database.
// Recording failures are logged and never interrupt a build.
type Recorder struct {
	repo *RunRepository
}

// NewRecorder creates a build.Observer backed by repo
func NewRecorder(repo *RunRepository) *Recorder {
	return &Recorder{repo: repo}
}

var _ build.Observer = (*Recorder)(nil)

// RunStarted implements build.Observer
func (rec *Recorder) RunStarted(bc *build.BuildContext) {
	run := &Run{
		ID:            bc.ID,
		KernelVersion: bc.Version.Version,
		BaseDir:       bc.BaseDirectory,
		ConfigChoice:  string(bc.ConfigChoice),
	}
	if bc.ApplyPatch {
		run.PatchPath = bc.PatchPath
		if run.PatchPath == "" {
			run.PatchPath = bc.BaseDirectory
		}
	}
	if err := rec.repo.Create(run); err != nil {
		log.Warn("Failed to record run", "run", bc.ID, "error", err)
	}
}

// StageStarted implements build.Observer
func (rec *Recorder) StageStarted(bc *build.BuildContext, stage build.StageName) {
	if err := rec.repo.CreateStage(&Stage{RunID: bc.ID, Name: string(stage)}); err != nil {
		log.Warn("Failed to record stage start", "run", bc.ID, "stage", stage, "error", err)
	}
}

// StageFinished implements build.Observer
func (rec *Recorder) StageFinished(bc *build.BuildContext, outcome build.StageOutcome) {
	if err := rec.repo.FinishStage(bc.ID, outcome); err != nil {
		log.Warn("Failed to record stage outcome", "run", bc.ID, "stage", outcome.Stage, "error", err)
	}
}

// RunFinished implements build.Observer
func (rec *Recorder) RunFinished(bc *build.BuildContext, err error) {
	status, errStage, errMsg := RunSucceeded, "", ""
	if err != nil {
		status = RunFailed
		if stderrors.Is(err, context.Canceled) {
			status = RunCancelled
		}
		errMsg = err.Error()
		outcomes := bc.Outcomes()
		if n := len(outcomes); n > 0 && outcomes[n-1].Status == build.StatusFailed {
			errStage = string(outcomes[n-1].Stage)
		}
	}
	if rerr := rec.repo.MarkFinished(bc.ID, status, errStage, errMsg, errors.GetExitCode(err)); rerr != nil {
		log.Warn("Failed to record run result", "run", bc.ID, "error", rerr)
	}
}
