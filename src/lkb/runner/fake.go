package runner

import (
	"context"
	"io"
	"strings"
	"sync"
)

// Handler produces the result for a recorded command
type Handler func(cmd Command) (*Result, error)

// Fake is an in-memory Runner that records invocations and answers them
// from handlers keyed by command name. Unmatched commands succeed.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Command
}

// NewFake creates an empty Fake runner
func NewFake() *Fake {
	return &Fake{handlers: make(map[string]Handler)}
}

// On registers a handler for a command name
func (f *Fake) On(name string, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
	return f
}

// ExitWith registers a handler that returns the given exit code and output
func (f *Fake) ExitWith(name string, code int, output string) *Fake {
	return f.On(name, func(Command) (*Result, error) {
		return &Result{ExitCode: code, Stdout: output}, nil
	})
}

// Run records the command and dispatches it to its handler
func (f *Fake) Run(ctx context.Context, c Command) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	h := f.handlers[c.Name]
	f.mu.Unlock()

	if h == nil {
		return &Result{}, nil
	}
	res, err := h(c)
	if res != nil && c.Stdout != nil && res.Stdout != "" {
		_, _ = io.WriteString(c.Stdout, res.Stdout)
	}
	return res, err
}

// Calls returns a copy of every recorded command
func (f *Fake) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.calls...)
}

// Called reports whether a command line starting with prefix was run
func (f *Fake) Called(prefix string) bool {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c.String(), prefix) {
			return true
		}
	}
	return false
}
