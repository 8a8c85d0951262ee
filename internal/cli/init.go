package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pkoval/perch/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

const starterConfig = `# perch configuration
identity: your-username

storage:
  path: ~/.perch/perch.db

# Either a JSON social API...
api:
  base_url: ""
  token_env: PERCH_API_TOKEN

# ...or per-user RSS/Atom feeds (user -> feed URL).
feeds: {}

watches:
  timelines:
    # - kind: user        # user, home, or public
    #   user: someone
    #   interval: 10m
  links:
    # - direction: followers   # followers or following (friends)
    #   user: your-username
    #   interval: 1h
    #   notify: [added, removed]
`

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	path := filepath.Join(configDir, config.DefaultConfigFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Wrote %s — edit it, then schedule 'perch run' with cron.\n", path)
	return nil
}
