package commands

import (
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"golang.org/x/term"
)

const defaultWidth = 100

var (
	heading = color.New(color.FgMagenta, color.Bold)
	success = color.New(color.FgGreen)
	warning = color.New(color.FgYellow)
	failure = color.New(color.FgRed)
	muted   = color.New(color.FgHiBlack)
)

// isTerminal reports whether stdout is an interactive terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

// renderMarkdown styles content for the terminal. Piped output and render
// failures get the raw markdown.
func renderMarkdown(content string) string {
	if content == "" || !isTerminal() {
		return content
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(terminalWidth()-4),
		glamour.WithEmoji(),
	)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}

// statusColor picks the color for a task status.
func statusColor(status string) *color.Color {
	switch status {
	case "completed":
		return success
	case "failed":
		return failure
	case "running":
		return warning
	default:
		return muted
	}
}
