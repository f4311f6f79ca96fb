// Package display renders structured terminal output: phase banners,
// reviewer feedback panels, and the usage table. Output degrades to
// plain text when stdout is not a TTY or NO_COLOR is set.
package display

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/randalmurphal/waypoints/internal/state"
)

// Styles contains the visual styling for workflow output.
type Styles struct {
	Banner   lipgloss.Style
	Phase    lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Feedback lipgloss.Style
	Subtle   lipgloss.Style
}

// DefaultStyles returns the default styling.
func DefaultStyles() Styles {
	return Styles{
		Banner: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2),
		Phase: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")),
		Success: lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
		Feedback: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			PaddingLeft(1),
		Subtle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
	}
}

// Display writes workflow output to a terminal or plain stream.
type Display struct {
	out    io.Writer
	styles Styles
	plain  bool
}

// Option configures a Display.
type Option func(*Display)

// WithWriter redirects output (default os.Stdout).
func WithWriter(w io.Writer) Option {
	return func(d *Display) { d.out = w }
}

// WithPlain forces plain-text rendering.
func WithPlain() Option {
	return func(d *Display) { d.plain = true }
}

// New creates a display. Styling is disabled automatically when stdout
// is not a TTY or NO_COLOR is set.
func New(opts ...Option) *Display {
	d := &Display{
		out:    os.Stdout,
		styles: DefaultStyles(),
		plain:  !stdoutIsTTY() || os.Getenv("NO_COLOR") != "",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func stdoutIsTTY() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Banner prints the workflow-start banner.
func (d *Display) Banner(projectID, workflowID string) {
	text := fmt.Sprintf("Waypoints — %s\nWorkflow %s", projectID, workflowID)
	if d.plain {
		fmt.Fprintf(d.out, "=== %s (workflow %s) ===\n", projectID, workflowID)
		return
	}
	fmt.Fprintln(d.out, d.styles.Banner.Render(text))
}

// phaseTitle capitalizes a phase name for display.
func phaseTitle(phase int) string {
	name := state.PhaseName(phase)
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// PhaseStart announces a phase.
func (d *Display) PhaseStart(phase int) {
	label := fmt.Sprintf("Phase %d: %s", phase, phaseTitle(phase))
	if d.plain {
		fmt.Fprintf(d.out, "\n--- %s ---\n", label)
		return
	}
	fmt.Fprintf(d.out, "\n%s\n", d.styles.Phase.Render("▶ "+label))
}

// PhaseComplete announces phase completion.
func (d *Display) PhaseComplete(phase int) {
	label := fmt.Sprintf("Phase %d (%s) complete", phase, phaseTitle(phase))
	if d.plain {
		fmt.Fprintf(d.out, "\n%s\n", label)
		return
	}
	fmt.Fprintf(d.out, "\n%s\n", d.styles.Success.Render("✓ "+label))
}

// ReviewerFeedback renders reviewer findings as a panel (styled) or a
// bullet list (plain).
func (d *Display) ReviewerFeedback(feedback string) {
	if strings.TrimSpace(feedback) == "" {
		return
	}
	if d.plain {
		fmt.Fprintf(d.out, "\n[reviewer]\n%s\n", feedback)
		return
	}
	fmt.Fprintf(d.out, "\n%s\n", d.styles.Feedback.Render(feedback))
}

// Info prints a subtle status line.
func (d *Display) Info(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if d.plain {
		fmt.Fprintln(d.out, msg)
		return
	}
	fmt.Fprintln(d.out, d.styles.Subtle.Render(msg))
}

// Errorf prints an error line.
func (d *Display) Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if d.plain {
		fmt.Fprintln(d.out, "error: "+msg)
		return
	}
	fmt.Fprintln(d.out, d.styles.Error.Render("✗ "+msg))
}

// UsageTable prints the per-phase token/cost table and totals.
func (d *Display) UsageTable(usage map[string]state.PhaseUsage) {
	keys := make([]string, 0, len(usage))
	for k := range usage {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var total state.PhaseUsage
	var b strings.Builder
	fmt.Fprintf(&b, "%-22s %10s %10s %10s\n", "Phase", "Input", "Output", "Cost")
	for _, k := range keys {
		u := usage[k]
		total.Add(u)
		fmt.Fprintf(&b, "%-22s %10d %10d %9.4f$\n", phaseLabel(k), u.InputTokens, u.OutputTokens, u.CostUSD)
	}
	fmt.Fprintf(&b, "%-22s %10d %10d %9.4f$", "Total", total.InputTokens, total.OutputTokens, total.CostUSD)

	if d.plain {
		fmt.Fprintf(d.out, "\n%s\n", b.String())
		return
	}
	fmt.Fprintf(d.out, "\n%s\n", d.styles.Subtle.Render(b.String()))
}

// phaseLabel turns a usage key like "phase2" into "Phase 2 (Interfaces)".
func phaseLabel(key string) string {
	var n int
	if _, err := fmt.Sscanf(key, "phase%d", &n); err != nil || !state.ValidPhase(n) {
		return key
	}
	return fmt.Sprintf("Phase %d (%s)", n, phaseTitle(n))
}
