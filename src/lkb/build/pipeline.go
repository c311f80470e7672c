package build

import (
	"context"
	"fmt"
	"time"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the build package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Observer is notified as the pipeline moves through a run.
// History and metrics recorders implement it.
type Observer interface {
	RunStarted(bc *BuildContext)
	StageStarted(bc *BuildContext, stage StageName)
	StageFinished(bc *BuildContext, outcome StageOutcome)
	RunFinished(bc *BuildContext, err error)
}

// StageProgressFunc receives the progress of the running stage
type StageProgressFunc func(stage StageName, percent int, message string)

// Pipeline runs stages in order against one BuildContext
type Pipeline struct {
	stages    []Stage
	policy    Policy
	observers []Observer
	progress  StageProgressFunc
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithPolicy sets the failure policy
func WithPolicy(p Policy) PipelineOption {
	return func(pl *Pipeline) {
		pl.policy = p
	}
}

// WithObserver adds an observer; a nil observer is ignored
func WithObserver(o Observer) PipelineOption {
	return func(pl *Pipeline) {
		if o != nil {
			pl.observers = append(pl.observers, o)
		}
	}
}

// WithProgress sets the progress sink for all stages
func WithProgress(fn StageProgressFunc) PipelineOption {
	return func(pl *Pipeline) {
		pl.progress = fn
	}
}

// NewPipeline creates a pipeline running stages in the given order
func NewPipeline(stages []Stage, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{stages: stages}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stages returns the stage names in run order
func (p *Pipeline) Stages() []StageName {
	names := make([]StageName, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes every stage in order. The first fatal failure stops the
// run and is returned; later stages are neither validated nor executed.
// Non-fatal failures are recorded and logged, and the run continues.
func (p *Pipeline) Run(ctx context.Context, bc *BuildContext) (err error) {
	log.Info("Starting kernel build",
		"build_id", bc.ID,
		"version", bc.Version.Version,
		"base_dir", bc.BaseDirectory,
		"config", bc.ConfigChoice,
	)
	for _, o := range p.observers {
		o.RunStarted(bc)
	}
	defer func() {
		for _, o := range p.observers {
			o.RunFinished(bc, err)
		}
	}()

	for _, stage := range p.stages {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		outcome := p.runStage(ctx, bc, stage)
		bc.record(outcome)
		for _, o := range p.observers {
			o.StageFinished(bc, outcome)
		}

		if outcome.Status != StatusFailed {
			continue
		}
		if ctx.Err() != nil || p.policy.IsFatal(outcome.Err) {
			log.Error("Build stage failed",
				"build_id", bc.ID,
				"stage", outcome.Stage,
				"error", outcome.Err,
			)
			return outcome.Err
		}
		log.Warn("Build stage failed, continuing",
			"build_id", bc.ID,
			"stage", outcome.Stage,
			"error", outcome.Err,
		)
	}

	log.Info("Kernel build completed", "build_id", bc.ID, "version", bc.Version.Version)
	return nil
}

// runStage validates and executes one stage, converting the result to an outcome
func (p *Pipeline) runStage(ctx context.Context, bc *BuildContext, stage Stage) (outcome StageOutcome) {
	name := stage.Name()
	outcome = StageOutcome{Stage: name, StartedAt: time.Now()}
	defer func() {
		outcome.Duration = time.Since(outcome.StartedAt)
	}()

	for _, o := range p.observers {
		o.StageStarted(bc, name)
	}
	log.Debug("Starting stage", "build_id", bc.ID, "stage", name, "dir", bc.WorkingDirectory)

	if err := stage.Validate(ctx, bc); err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		outcome.Detail = fmt.Sprintf("validation failed: %v", err)
		return outcome
	}

	progress := func(percent int, message string) {
		if message != "" {
			log.Debug(message, "stage", name, "percent", percent)
		}
		if p.progress != nil {
			p.progress(name, percent, message)
		}
	}

	status, err := stage.Execute(ctx, bc, progress)
	switch {
	case err != nil && status == StatusSkipped:
		// Skipped with a reason, e.g. no bootloader detected
		outcome.Status = StatusSkipped
		outcome.Err = err
		outcome.Detail = err.Error()
		log.Warn("Stage skipped", "stage", name, "reason", err)
	case err != nil:
		outcome.Status = StatusFailed
		outcome.Err = err
		outcome.Detail = err.Error()
	case status == "":
		outcome.Status = StatusSucceeded
	default:
		outcome.Status = status
	}
	if outcome.Status == StatusSucceeded {
		log.Info("Stage completed", "stage", name, "duration", time.Since(outcome.StartedAt).Round(time.Millisecond))
	} else if outcome.Status == StatusSkipped && err == nil {
		log.Info("Stage skipped", "stage", name)
	}
	return outcome
}

// missing reports an absent input artifact of stage
func missing(stage StageName, what, path string) error {
	return errors.ErrMissingPrerequisite.WithMessagef("%s: %s not found at %s", stage, what, path)
}
