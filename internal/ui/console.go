package ui

import (
	"fmt"
	"io"
	"os"

	"charm.land/lipgloss/v2"
	"github.com/mattn/go-isatty"
)

// Console writes styled messages. Regular output goes to Out, errors and
// warnings to Err.
type Console struct {
	Out    io.Writer
	Err    io.Writer
	styled bool
}

// NewConsole returns a console writing to out and errw. Styling is enabled
// when out is a terminal.
func NewConsole(out, errw io.Writer) *Console {
	return &Console{Out: out, Err: errw, styled: isTerminal(out)}
}

// SetStyled forces styling on or off.
func (c *Console) SetStyled(on bool) {
	c.styled = on
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (c *Console) render(style lipgloss.Style, s string) string {
	if !c.styled {
		return s
	}
	return style.Render(s)
}

// Branch formats a branch name for inline use.
func (c *Console) Branch(name string) string {
	return c.render(BranchStyle, name)
}

// Heading prints a bold line.
func (c *Console) Heading(format string, args ...any) {
	fmt.Fprintln(c.Out, c.render(HeadingStyle, fmt.Sprintf(format, args...)))
}

// Println prints an unstyled line.
func (c *Console) Println(format string, args ...any) {
	fmt.Fprintf(c.Out, format+"\n", args...)
}

// Muted prints a de-emphasized line.
func (c *Console) Muted(format string, args ...any) {
	fmt.Fprintln(c.Out, c.render(MutedStyle, fmt.Sprintf(format, args...)))
}

// Success prints a highlighted success line.
func (c *Console) Success(format string, args ...any) {
	fmt.Fprintln(c.Out, c.render(SuccessStyle, fmt.Sprintf(format, args...)))
}

// Warn prints a warning to Err.
func (c *Console) Warn(format string, args ...any) {
	fmt.Fprintln(c.Err, c.render(WarningStyle, "Warning: "+fmt.Sprintf(format, args...)))
}

// Error prints an error to Err.
func (c *Console) Error(format string, args ...any) {
	fmt.Fprintln(c.Err, c.render(ErrorStyle, "Error: "+fmt.Sprintf(format, args...)))
}
