// Package ui renders shuttle's terminal output. Styling degrades
// automatically on dumb terminals and pipes.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// Printer writes styled run output.
type Printer struct {
	out    io.Writer
	styled bool
}

// NewPrinter builds a Printer for the given stream. Styling is enabled
// only for real terminals with color support.
func NewPrinter(out *os.File) *Printer {
	styled := term.IsTerminal(int(out.Fd())) &&
		termenv.NewOutput(out).Profile != termenv.Ascii
	return &Printer{out: out, styled: styled}
}

// NewPlainPrinter builds an unstyled Printer, for tests and piped output.
func NewPlainPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) render(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

// Pass prints a success line.
func (p *Printer) Pass(format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", p.render(passStyle, "ok"), fmt.Sprintf(format, args...))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", p.render(warnStyle, "warning:"), fmt.Sprintf(format, args...))
}

// Fail prints a failure line.
func (p *Printer) Fail(format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", p.render(failStyle, "failed:"), fmt.Sprintf(format, args...))
}

// Info prints an unstyled detail line.
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.out, "%s\n", fmt.Sprintf(format, args...))
}

// Dim prints a de-emphasized line.
func (p *Printer) Dim(format string, args ...any) {
	fmt.Fprintf(p.out, "%s\n", p.render(dimStyle, fmt.Sprintf(format, args...)))
}

// Accent highlights an inline fragment, such as a target name.
func (p *Printer) Accent(s string) string {
	return p.render(accentStyle, s)
}

// Confirm asks a yes/no question. Without a terminal on stdin the prompt is
// skipped and the answer is yes, so scripted runs proceed without --yes.
func Confirm(title string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return true, nil
	}
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Sync").
		Negative("Cancel").
		Value(&ok).
		Run()
	if err != nil {
		return false, err
	}
	return ok, nil
}
