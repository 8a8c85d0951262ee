// Package cli provides the command-line interface for perch.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "perch",
	Short: "Poll social timelines and link sets for changes",
	Long: "perch re-reads remote timelines and friend/follower sets on a schedule, " +
		"diffs them against persisted state, and announces whatever is new. " +
		"It is built to be invoked repeatedly by cron and to cost nothing when nothing is due.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("perch %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", defaultConfigDir(), "directory holding config.yaml and state")
	rootCmd.AddCommand(versionCmd)
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".perch"
	}
	return filepath.Join(home, ".perch")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
