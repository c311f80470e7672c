package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/lkb/internal/output"
	"github.com/bitswalk/lkb/src/lkb/internal/ui"
)

// Prompter asks the operator line-oriented questions. Prompts go to
// stderr so structured output on stdout stays parseable.
type Prompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	assumeYes   bool
}

// newPrompter creates a prompter on the process terminal
func newPrompter() *Prompter {
	return &Prompter{
		in:          bufio.NewReader(stdin),
		out:         output.Stderr,
		interactive: stdinIsTerminal(),
		assumeYes:   assumeYes,
	}
}

// Interactive reports whether questions can be asked
func (p *Prompter) Interactive() bool {
	return p.interactive
}

// require fails when what would need an answer nobody can give
func (p *Prompter) require(what string) error {
	if p.interactive {
		return nil
	}
	return errors.ErrUnsupportedEnvironment.WithMessagef(
		"%s needs an interactive terminal; pass it on the command line", what)
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", errors.ErrCancelled
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Ask reads one answer; an empty answer yields def
func (p *Prompter) Ask(question, def string) (string, error) {
	if err := p.require(question); err != nil {
		return "", err
	}
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", ui.Warn(question), def)
	} else {
		fmt.Fprintf(p.out, "%s: ", ui.Warn(question))
	}
	answer, err := p.readLine()
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// Choose lists choices numbered from 1 and returns the zero-based index
// picked. Invalid input asks again.
func (p *Prompter) Choose(title string, choices []string) (int, error) {
	if err := p.require(title); err != nil {
		return 0, err
	}
	fmt.Fprint(p.out, ui.Menu(title, choices))
	for {
		fmt.Fprintf(p.out, "%s ", ui.Warn(fmt.Sprintf("Enter your choice (1-%d):", len(choices))))
		answer, err := p.readLine()
		if err != nil {
			return 0, err
		}
		n, convErr := strconv.Atoi(answer)
		if convErr == nil && n >= 1 && n <= len(choices) {
			return n - 1, nil
		}
		fmt.Fprintln(p.out, ui.Error("Invalid selection. Please enter a number from the list."))
	}
}

// Confirm asks a yes/no question; --yes answers yes without asking
func (p *Prompter) Confirm(question string, def bool) (bool, error) {
	if p.assumeYes {
		return true, nil
	}
	if err := p.require(question); err != nil {
		return false, err
	}
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		fmt.Fprintf(p.out, "%s (%s): ", ui.Warn(question), hint)
		answer, err := p.readLine()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}
