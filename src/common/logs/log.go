// Package logs provides the common logging facility for lkb.
// It supports output to stderr, stdout or systemd journald based on configuration.
package logs

import (
	"io"
	"os"
	"os/exec"

	"github.com/charmbracelet/log"
)

// LogOutput defines the output destination for logs
type LogOutput string

const (
	// OutputStderr sends logs to standard error, keeping stdout for command output
	OutputStderr LogOutput = "stderr"
	// OutputStdout sends logs to standard output
	OutputStdout LogOutput = "stdout"
	// OutputJournald sends logs to systemd journald
	OutputJournald LogOutput = "journald"
	// OutputAuto selects journald when stderr is not a terminal and journald is available
	OutputAuto LogOutput = "auto"
)

// Logger wraps the charm log.Logger with additional configuration
type Logger struct {
	*log.Logger
	output LogOutput
}

// Config holds the configuration for the logger
type Config struct {
	// Output specifies where logs should be sent (stderr, stdout, journald, auto)
	Output LogOutput
	// Level sets the minimum log level (debug, info, warn, error)
	Level string
	// Prefix sets a prefix for all log messages
	Prefix string
	// Writer overrides the destination for stderr/stdout output, used by tests
	Writer io.Writer
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Output: OutputStderr,
		Level:  "info",
		Prefix: "",
	}
}

// journaldAvailable checks if systemd-journald is available on the system
func journaldAvailable() bool {
	if _, err := exec.LookPath("systemd-cat"); err != nil {
		return false
	}
	if _, err := os.Stat("/run/systemd/journal/socket"); err != nil {
		return false
	}
	return true
}

// stderrIsTerminal reports whether stderr is attached to a character device
func stderrIsTerminal() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// ParseLevel converts a string level to log.Level
func ParseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// New creates a new Logger with the given configuration
func New(cfg Config) *Logger {
	var writer io.Writer
	var output LogOutput

	switch cfg.Output {
	case OutputJournald:
		if journaldAvailable() {
			writer, output = newJournaldWriter(), OutputJournald
		} else {
			writer, output = os.Stderr, OutputStderr
		}
	case OutputAuto:
		// An operator at a terminal watches the build; journald only for unattended runs
		if !stderrIsTerminal() && journaldAvailable() {
			writer, output = newJournaldWriter(), OutputJournald
		} else {
			writer, output = os.Stderr, OutputStderr
		}
	case OutputStdout:
		writer, output = os.Stdout, OutputStdout
	default:
		writer, output = os.Stderr, OutputStderr
	}

	if cfg.Writer != nil && output != OutputJournald {
		writer = cfg.Writer
	}

	logger := log.NewWithOptions(writer, log.Options{
		Level:           ParseLevel(cfg.Level),
		Prefix:          cfg.Prefix,
		ReportTimestamp: true,
		ReportCaller:    false,
	})

	return &Logger{
		Logger: logger,
		output: output,
	}
}

// NewDefault creates a new Logger with default configuration
func NewDefault() *Logger {
	return New(DefaultConfig())
}

// NewDiscard creates a Logger that drops everything, for tests
func NewDiscard() *Logger {
	return New(Config{Output: OutputStderr, Level: "error", Writer: io.Discard})
}

// Output returns the current output destination
func (l *Logger) Output() LogOutput {
	return l.output
}

// journaldWriter implements io.Writer for journald
type journaldWriter struct {
	identifier string
}

// newJournaldWriter creates a writer that sends output to journald
func newJournaldWriter() *journaldWriter {
	return &journaldWriter{
		identifier: "lkb",
	}
}

// Write implements io.Writer for journald using systemd-cat
func (w *journaldWriter) Write(p []byte) (n int, err error) {
	cmd := exec.Command("systemd-cat", "-t", w.identifier)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return os.Stderr.Write(p)
	}

	if err := cmd.Start(); err != nil {
		return os.Stderr.Write(p)
	}

	n, _ = stdin.Write(p)
	stdin.Close()

	// The message was handed over; a non-zero systemd-cat exit is not a write failure
	_ = cmd.Wait()

	return n, nil
}
