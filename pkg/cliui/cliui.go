// Package cliui provides reusable terminal UI helpers (spinners, step indicators,
// markdown rendering, live stream printing) for chatstream CLI commands.
package cliui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	SuccessMark  string
	FailMark     string
	StepStyle    lipgloss.Style
	DimStyle     lipgloss.Style
	KeyStyle     lipgloss.Style
	NameStyle    lipgloss.Style
	ValueStyle   lipgloss.Style
	WarnStyle    lipgloss.Style
	spinnerStyle lipgloss.Style

	// UserPrompt and AssistantPrompt prefix chat turns.
	UserPrompt      lipgloss.Style
	AssistantPrompt lipgloss.Style
)

func init() {
	buildStyles(lipgloss.DefaultRenderer())
}

func buildStyles(r *lipgloss.Renderer) {
	SuccessMark = r.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")
	FailMark = r.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	StepStyle = r.NewStyle().Foreground(lipgloss.Color("245"))
	DimStyle = r.NewStyle().Foreground(lipgloss.Color("240"))
	KeyStyle = r.NewStyle().Foreground(lipgloss.Color("246")).Bold(true)
	NameStyle = r.NewStyle().Foreground(lipgloss.Color("214"))
	ValueStyle = r.NewStyle().Foreground(lipgloss.Color("252"))
	WarnStyle = r.NewStyle().Foreground(lipgloss.Color("214"))
	spinnerStyle = r.NewStyle().Foreground(lipgloss.Color("82"))
	UserPrompt = r.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	AssistantPrompt = r.NewStyle().Foreground(lipgloss.Color("245"))
}

// SetColorProfile rebuilds the shared styles for output to w. With plain
// set, styles render as unstyled text.
func SetColorProfile(w io.Writer, plain bool) {
	profile := termenv.TrueColor
	if plain {
		profile = termenv.Ascii
	}
	renderer := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	renderer.SetColorProfile(profile)
	lipgloss.SetDefaultRenderer(renderer)
	buildStyles(renderer)
}

// spinnerFrames is the braille dot spinner.
var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// Step prints an animated spinner while fn runs, then replaces it with
// a ✓ or ✗ checkmark and elapsed time.
func Step(w io.Writer, msg string, fn func() error) error {
	done := make(chan struct{})
	stopped := make(chan struct{})
	var mu sync.Mutex

	// Run spinner animation in background
	go func() {
		defer close(stopped)
		frame := 0
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for {
			mu.Lock()
			fmt.Fprintf(w, "\r  %s %s",
				spinnerStyle.Render(spinnerFrames[frame%len(spinnerFrames)]),
				msg,
			)
			mu.Unlock()

			select {
			case <-done:
				return
			case <-ticker.C:
				frame++
			}
		}
	}()

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	close(done)
	<-stopped

	// Clear the spinner line and print final result
	mu.Lock()
	fmt.Fprintf(w, "\r  %s %s %s\n",
		Mark(err),
		msg,
		StepStyle.Render(fmt.Sprintf("(%s)", FormatDuration(elapsed))),
	)
	mu.Unlock()

	return err
}

// Mark returns a ✓ for nil errors or ✗ for non-nil errors.
func Mark(err error) string {
	if err != nil {
		return FailMark
	}
	return SuccessMark
}

// FormatDuration formats a duration for display (e.g. "12ms" or "3.2s").
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// RenderMarkdown renders markdown content for terminal display using glamour.
func RenderMarkdown(content string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return content, err
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content, err
	}

	return rendered, nil
}
