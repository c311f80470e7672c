// Package runner invokes external commands for the build pipeline.
// Every invocation carries its own working directory; the process working
// directory is never changed.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/bitswalk/lkb/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the runner package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Command describes one external program invocation
type Command struct {
	Name string
	Args []string

	// Dir is the directory the command runs in; empty means the current one
	Dir string

	// Env holds overrides appended to the inherited environment
	Env map[string]string

	// Stdin is connected to the child when set; interactive tools such as
	// menuconfig need the operator's terminal
	Stdin io.Reader

	// Stdout and Stderr receive the streamed output in addition to the
	// captured copy returned in Result
	Stdout io.Writer
	Stderr io.Writer

	// Privileged prefixes the command with the runner's privilege command
	Privileged bool
}

// String renders the command line for logs
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the outcome of a finished command
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the command exited zero
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Runner executes commands. A non-zero exit is reported through
// Result.ExitCode; the error is reserved for commands that could not be
// started or were cancelled.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands on the host with os/exec
type ExecRunner struct {
	privilege []string
	capture   bool
}

// Option configures an ExecRunner
type Option func(*ExecRunner)

// WithPrivilegeCommand sets the prefix used for privileged commands (e.g. "sudo")
func WithPrivilegeCommand(command string) Option {
	return func(r *ExecRunner) {
		r.privilege = strings.Fields(command)
	}
}

// WithoutCapture disables in-memory capture of stdout, for commands whose
// output is large and only streamed (make)
func WithoutCapture() Option {
	return func(r *ExecRunner) {
		r.capture = false
	}
}

// New creates a host command runner
func New(opts ...Option) *ExecRunner {
	r := &ExecRunner{capture: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the command and waits for it to finish
func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("no command specified")
	}

	argv := append([]string{c.Name}, c.Args...)
	if c.Privileged && len(r.privilege) > 0 && os.Geteuid() != 0 {
		argv = append(append([]string{}, r.privilege...), argv...)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}

	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	if c.Stdin != nil {
		cmd.Stdin = c.Stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = teeWriter(&stdout, c.Stdout, r.capture)
	cmd.Stderr = teeWriter(&stderr, c.Stderr, true)

	log.Debug("Running command", "command", strings.Join(argv, " "), "dir", c.Dir)

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			log.Debug("Command exited non-zero", "command", c.Name, "exit_code", result.ExitCode)
			return result, nil
		}
		return result, fmt.Errorf("failed to start %s: %w", c.Name, err)
	}

	return result, nil
}

// teeWriter combines the capture buffer with an optional stream
func teeWriter(buf *bytes.Buffer, stream io.Writer, capture bool) io.Writer {
	switch {
	case capture && stream != nil:
		return io.MultiWriter(buf, stream)
	case capture:
		return buf
	case stream != nil:
		return stream
	default:
		return io.Discard
	}
}
