package report

import (
	"fmt"
	"io"

	"github.com/pkoval/perch/internal/client"
	"github.com/pkoval/perch/internal/watch"
)

// TerminalFormatter formats a cycle report for terminal output.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

// Format writes the cycle to w, one section per watcher that produced
// deltas or failed.
func (f *TerminalFormatter) Format(w io.Writer, cycle *watch.CycleReport) error {
	header := fmt.Sprintf("perch cycle %s — %d watchers, %d due, %d deltas",
		shortID(cycle.ID), len(cycle.Results), cycle.Due(), cycle.Deltas())
	fmt.Fprintln(w, f.bold(header))
	fmt.Fprintln(w)

	quiet := true
	for _, res := range cycle.Results {
		if res.Deltas() == 0 && res.Err == nil {
			continue
		}
		quiet = false

		fmt.Fprintln(w, f.bold(fmt.Sprintf("--- %s ---", res.Key)))
		for _, item := range res.Added {
			fmt.Fprintf(w, "  %s %s\n", f.green("+"), itemLine(item))
		}
		for _, item := range res.Removed {
			fmt.Fprintf(w, "  %s %s\n", f.yellow("-"), itemLine(item))
		}
		if res.Err != nil {
			fmt.Fprintf(w, "  %s\n", f.dim(fmt.Sprintf("error: %v", res.Err)))
		}
		fmt.Fprintln(w)
	}

	if quiet {
		fmt.Fprintln(w, f.dim("Nothing new."))
	}

	return nil
}

// itemLine renders an item as its ID plus whatever readable fields the
// payload happens to carry.
func itemLine(item client.Item) string {
	line := item.ID
	if title, ok := item.Attrs["title"].(string); ok && title != "" {
		line += " — " + title
	} else if text, ok := item.Attrs["text"].(string); ok && text != "" {
		line += " — " + firstNRunes(text, 80)
	} else if name, ok := item.Attrs["name"].(string); ok && name != "" {
		line += " — " + name
	}
	if url, ok := item.Attrs["url"].(string); ok && url != "" {
		line += " (" + url + ")"
	}
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstNRunes(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// ANSI helpers — no-op when color=false.

func (f *TerminalFormatter) bold(s string) string {
	if !f.color {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func (f *TerminalFormatter) green(s string) string {
	if !f.color {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func (f *TerminalFormatter) yellow(s string) string {
	if !f.color {
		return s
	}
	return "\033[33m" + s + "\033[0m"
}

func (f *TerminalFormatter) dim(s string) string {
	if !f.color {
		return s
	}
	return "\033[2m" + s + "\033[0m"
}
