package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pkoval/perch/internal/config"
	"github.com/pkoval/perch/internal/state"
)

var (
	statusCycles int
	statusFormat string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted watcher state and recent cycles",
	RunE:  statusAction,
}

func init() {
	statusCmd.Flags().IntVar(&statusCycles, "cycles", 10, "number of recent cycles to show")
	statusCmd.Flags().StringVar(&statusFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(statusCmd)
}

func statusAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := state.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx := cmd.Context()

	watchers, err := db.WatcherStatuses(ctx)
	if err != nil {
		return fmt.Errorf("read watcher statuses: %w", err)
	}
	cycles, err := db.RecentCycles(ctx, statusCycles)
	if err != nil {
		return fmt.Errorf("read cycles: %w", err)
	}

	switch statusFormat {
	case "json":
		return printStatusJSON(os.Stdout, watchers, cycles)
	case "terminal", "":
		printStatus(os.Stdout, watchers, cycles)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", statusFormat)
	}
}

type jsonStatus struct {
	Watchers []jsonWatcherStatus `json:"watchers"`
	Cycles   []jsonCycleRecord   `json:"cycles"`
}

type jsonWatcherStatus struct {
	Key         string `json:"key"`
	LastChecked string `json:"last_checked,omitempty"`
	SeenItems   int    `json:"seen_items"`
	Members     int    `json:"members"`
}

type jsonCycleRecord struct {
	ID          string `json:"id"`
	StartedAt   string `json:"started_at"`
	WatchersDue int    `json:"watchers_due"`
	Deltas      int    `json:"deltas"`
}

func printStatusJSON(w io.Writer, watchers []state.WatcherStatus, cycles []state.CycleRecord) error {
	out := jsonStatus{
		Watchers: make([]jsonWatcherStatus, 0, len(watchers)),
		Cycles:   make([]jsonCycleRecord, 0, len(cycles)),
	}
	for _, ws := range watchers {
		jw := jsonWatcherStatus{
			Key:       ws.Key,
			SeenItems: ws.SeenItems,
			Members:   ws.Members,
		}
		if !ws.LastChecked.IsZero() {
			jw.LastChecked = ws.LastChecked.UTC().Format(time.RFC3339)
		}
		out.Watchers = append(out.Watchers, jw)
	}
	for _, rec := range cycles {
		out.Cycles = append(out.Cycles, jsonCycleRecord{
			ID:          rec.ID,
			StartedAt:   rec.StartedAt.UTC().Format(time.RFC3339),
			WatchersDue: rec.WatchersDue,
			Deltas:      rec.Deltas,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printStatus(w io.Writer, watchers []state.WatcherStatus, cycles []state.CycleRecord) {
	if len(watchers) == 0 {
		fmt.Fprintln(w, "No watcher state yet. Run 'perch run' first.")
		return
	}

	now := time.Now()

	fmt.Fprintln(w, "--- Watchers ---")
	fmt.Fprintln(w)

	maxKey := 7 // minimum "Watcher"
	for _, ws := range watchers {
		if len(ws.Key) > maxKey {
			maxKey = len(ws.Key)
		}
	}

	fmt.Fprintf(w, "  %-*s  %12s  %5s  %7s\n", maxKey, "Watcher", "Last check", "Seen", "Members")
	for _, ws := range watchers {
		last := "never"
		if !ws.LastChecked.IsZero() {
			last = formatAge(now.Sub(ws.LastChecked))
		}
		fmt.Fprintf(w, "  %-*s  %12s  %5d  %7d\n", maxKey, ws.Key, last, ws.SeenItems, ws.Members)
	}
	fmt.Fprintln(w)

	if len(cycles) > 0 {
		fmt.Fprintln(w, "--- Recent cycles ---")
		fmt.Fprintln(w)
		for _, rec := range cycles {
			id := rec.ID
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Fprintf(w, "  %s  %s  %d due, %d deltas\n",
				rec.StartedAt.UTC().Format("2006-01-02 15:04:05"), id, rec.WatchersDue, rec.Deltas)
		}
		fmt.Fprintln(w)
	}
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
