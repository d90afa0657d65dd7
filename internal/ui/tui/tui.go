package tui

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/castguard/castguard/internal/control/client"
)

const (
	defaultRefresh = 500 * time.Millisecond
	labelWidth     = 40
	historyRows    = 15
)

// Source is the subset of the control client the dashboard polls.
type Source interface {
	Status(ctx context.Context) (client.Status, error)
	History(ctx context.Context) ([]client.DecisionRecord, error)
}

// Renderer periodically polls the daemon and renders a textual dashboard.
type Renderer struct {
	Client  Source
	Writer  io.Writer
	Refresh time.Duration
	Now     func() time.Time
}

// New returns a renderer configured with sensible defaults.
func New(cli Source, w io.Writer) *Renderer {
	return &Renderer{Client: cli, Writer: w, Refresh: defaultRefresh, Now: time.Now}
}

// Run starts the render loop until the context is cancelled.
func (r *Renderer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.Writer == nil {
		r.Writer = os.Stdout
	}
	if r.Client == nil {
		return fmt.Errorf("tui renderer requires a control client")
	}

	refresh := r.Refresh
	if refresh <= 0 {
		refresh = defaultRefresh
	}

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	fmt.Fprint(r.Writer, "\033[?25l")
	defer fmt.Fprint(r.Writer, "\033[?25h")

	r.render(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.render(ctx)
		}
	}
}

func (r *Renderer) render(ctx context.Context) {
	fmt.Fprint(r.Writer, r.Frame(ctx))
}

// Frame renders a single dashboard frame, including the screen reset.
func (r *Renderer) Frame(ctx context.Context) string {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	var buf bytes.Buffer
	buf.WriteString("\033[H\033[2J")
	buf.WriteString("castguard watch (Ctrl+C to exit)\n")
	buf.WriteString(now().Format(time.RFC1123))
	buf.WriteString("\n\n")

	status, err := r.Client.Status(ctx)
	if err != nil {
		buf.WriteString(fmt.Sprintf("error: %v\n", err))
		return buf.String()
	}
	buf.WriteString(formatStatus(status))
	buf.WriteByte('\n')
	if !status.Running {
		buf.WriteString("Waiting for the engine to start...\n")
		return buf.String()
	}
	buf.WriteString(renderRules(status.Rules, status.Context))

	history, err := r.Client.History(ctx)
	if err != nil {
		buf.WriteString(fmt.Sprintf("history error: %v\n", err))
		return buf.String()
	}
	buf.WriteString(renderHistory(history))
	return buf.String()
}

func formatStatus(status client.Status) string {
	var b strings.Builder
	active := status.Context
	if active == "" {
		active = "(unknown)"
		if status.ContextError != "" {
			active += " - " + status.ContextError
		}
	}
	b.WriteString(fmt.Sprintf("Context: %s\n", active))

	guard := "disabled"
	if status.GuardEnabled {
		guard = fmt.Sprintf("hold %s", status.GuardKey)
	}
	b.WriteString(fmt.Sprintf("Guard: %s  [ctrl %s] [shift %s]\n", guard, keyState(status.Ctrl), keyState(status.Shift)))

	switch {
	case !status.Windowing:
		b.WriteString("Window: off\n")
	case status.Armed:
		b.WriteString(fmt.Sprintf("Window: armed, %ds left\n", status.Remaining))
	case !status.LastArmed.IsZero():
		b.WriteString(fmt.Sprintf("Window: idle (last armed %s)\n", status.LastArmed.Format(time.Kitchen)))
	default:
		b.WriteString("Window: idle\n")
	}
	if status.CustomWords {
		b.WriteString(fmt.Sprintf("Trigger words: %s\n", joinOrNone(status.Triggers)))
	}
	return b.String()
}

func keyState(held bool) string {
	if held {
		return "down"
	}
	return "up"
}

func renderRules(rules map[string][]string, active string) string {
	var b strings.Builder
	b.WriteString("Blocked:\n")
	if len(rules) == 0 {
		b.WriteString("  (none)\n\n")
		return b.String()
	}
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Context\tActions")
	for _, name := range names {
		label := name
		if name == active {
			label += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\n", label, joinOrNone(rules[name]))
	}
	tw.Flush()
	b.WriteByte('\n')
	return b.String()
}

func renderHistory(history []client.DecisionRecord) string {
	var b strings.Builder
	b.WriteString("Recent decisions:\n")
	if len(history) == 0 {
		b.WriteString("  (none)\n")
		return b.String()
	}
	if len(history) > historyRows {
		history = history[len(history)-historyRows:]
	}
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Time\tChannel\tLabel\tDecision\tReason")
	for i := len(history) - 1; i >= 0; i-- {
		rec := history[i]
		label := truncate(rec.Label, labelWidth)
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.Timestamp.Format("15:04:05"),
			rec.Channel,
			label,
			rec.Verdict.Decision,
			rec.Verdict.Reason,
		)
	}
	tw.Flush()
	return b.String()
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}
