// Package ui holds the colored text styles and the progress line printer
// used by the interactive commands.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			PaddingBottom(1)

	SelectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	WarnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C"))
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true)
	FaintStyle   = lipgloss.NewStyle().Faint(true)
)

// Title renders a heading
func Title(s string) string {
	return TitleStyle.Render(s)
}

// Success renders a success line
func Success(s string) string {
	return SuccessStyle.Render(s)
}

// Warn renders a warning line
func Warn(s string) string {
	return WarnStyle.Render(s)
}

// Error renders an error line
func Error(s string) string {
	return ErrorStyle.Render(s)
}

// Faint renders secondary text
func Faint(s string) string {
	return FaintStyle.Render(s)
}

// Menu renders numbered choices, one per line
func Menu(title string, choices []string) string {
	var b strings.Builder
	b.WriteString(Title(title))
	b.WriteString("\n")
	for i, c := range choices {
		fmt.Fprintf(&b, "  %s %s\n", SelectedStyle.Render(fmt.Sprintf("%d.", i+1)), c)
	}
	return b.String()
}

// Progress prints stage progress. On a terminal it redraws one line per
// stage; otherwise it prints a line for every tenth percent.
type Progress struct {
	w       io.Writer
	tty     bool
	stage   string
	percent int
}

// NewProgress creates a progress printer writing to w
func NewProgress(w io.Writer, tty bool) *Progress {
	return &Progress{w: w, tty: tty, percent: -1}
}

// Update records the progress of stage
func (p *Progress) Update(stage string, percent int, message string) {
	if stage != p.stage {
		p.finishLine()
		p.stage = stage
		p.percent = -1
	}
	if percent <= p.percent {
		return
	}

	if p.tty {
		line := fmt.Sprintf("%-10s %3d%%", stage, percent)
		if message != "" {
			line += " " + Faint(truncate(message, 60))
		}
		fmt.Fprintf(p.w, "\r\033[K%s", line)
	} else if percent/10 > p.percent/10 || p.percent < 0 {
		fmt.Fprintf(p.w, "%s: %d%%\n", stage, percent)
	}
	p.percent = percent
}

// Done ends the current progress line
func (p *Progress) Done() {
	p.finishLine()
	p.stage = ""
	p.percent = -1
}

func (p *Progress) finishLine() {
	if p.tty && p.stage != "" {
		fmt.Fprintln(p.w)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
