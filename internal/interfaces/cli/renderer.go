package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RenderMarkdown renders markdown for the terminal, degrading to plain text
// when not attached to a TTY or when the renderer fails.
func RenderMarkdown(md string) string {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return md
	}
	width := 100
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && w < width {
		width = w
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

// StatusLine renders a one-line run outcome.
func StatusLine(reason string, completed, failed, total int, cost float64) string {
	style := okStyle
	if failed > 0 || reason != "all_complete" {
		style = failStyle
	}
	return fmt.Sprintf("%s %s %s",
		style.Render(fmt.Sprintf("● %s", reason)),
		headerStyle.Render(fmt.Sprintf("%d/%d completed, %d failed", completed, total, failed)),
		dimStyle.Render(fmt.Sprintf("($%.4f)", cost)),
	)
}
