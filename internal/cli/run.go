package cli

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/pkoval/perch/internal/client"
	"github.com/pkoval/perch/internal/config"
	"github.com/pkoval/perch/internal/report"
	"github.com/pkoval/perch/internal/state"
	"github.com/pkoval/perch/internal/watch"
)

var (
	runFormat string
	runColor  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one dispatch cycle over all configured watches",
	Long: "run checks every configured watch that is due, announces new posts and " +
		"membership changes, and exits. Schedule it with cron; off-cadence invocations " +
		"cost one timestamp read per watch.",
	RunE: runAction,
}

func init() {
	runCmd.Flags().StringVar(&runFormat, "format", "terminal", "output format: terminal, json")
	runCmd.Flags().BoolVar(&runColor, "color", false, "use ANSI colors in terminal output")
	rootCmd.AddCommand(runCmd)
}

func runAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := state.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer func() { _ = db.Close() }()

	remote, err := buildClient(cfg)
	if err != nil {
		return err
	}

	reg := watch.NewRegistry(db, cfg.Identity, nil)
	if err := registerWatches(reg, cfg); err != nil {
		return err
	}

	cycle, runErr := reg.RunCycle(cmd.Context(), remote)

	var formatter report.Formatter
	switch runFormat {
	case "json":
		formatter = report.NewJSON()
	case "terminal", "":
		formatter = report.NewTerminal(runColor)
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", runFormat)
	}
	if err := formatter.Format(os.Stdout, cycle); err != nil {
		return fmt.Errorf("format report: %w", err)
	}

	return runErr
}

// buildClient picks the remote client: the JSON API when configured,
// otherwise the feed-backed client.
func buildClient(cfg *config.Config) (client.Client, error) {
	if cfg.API.BaseURL != "" {
		return client.NewHTTP(cfg.API.BaseURL, cfg.API.Token())
	}
	if len(cfg.Feeds) > 0 {
		return client.NewFeed(cfg.Feeds)
	}
	return nil, errors.New("no remote configured: set api.base_url or feeds")
}

// registerWatches binds every configured watch to an announcing handler.
// Announcements go to the log (stderr under cron, which mails it); the
// formatted report goes to stdout.
func registerWatches(reg *watch.Registry, cfg *config.Config) error {
	for _, tw := range cfg.Watches.Timelines {
		kind := client.TimelineKind(tw.Kind)
		key := tw.Kind + "/" + tw.User
		err := reg.WatchTimeline(kind, tw.User, tw.Interval.Duration, func(item client.Item) error {
			log.Printf("new post [%s]: %s", key, item.ID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("watch timeline %s: %w", key, err)
		}
	}

	for _, lw := range cfg.Watches.Links {
		key := lw.Direction + "/" + lw.User

		var onAdded, onRemoved watch.LinkHandler
		if notifyEnabled(lw.Notify, "added") {
			onAdded = func(member client.Item) error {
				log.Printf("link added [%s]: %s", key, member.ID)
				return nil
			}
		}
		if notifyEnabled(lw.Notify, "removed") {
			onRemoved = func(member client.Item) error {
				log.Printf("link removed [%s]: %s", key, member.ID)
				return nil
			}
		}

		err := reg.WatchLinks(lw.Direction, lw.User, lw.Interval.Duration, onAdded, onRemoved)
		if err != nil {
			return fmt.Errorf("watch links %s: %w", key, err)
		}
	}

	return nil
}

// notifyEnabled reports whether the given delta side is announced. An empty
// notify list enables both sides.
func notifyEnabled(notify []string, side string) bool {
	if len(notify) == 0 {
		return true
	}
	for _, n := range notify {
		if n == side {
			return true
		}
	}
	return false
}
