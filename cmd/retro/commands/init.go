package commands

import (
	"github.com/dyluth/retro/internal/printer"
	"github.com/dyluth/retro/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit     bool
	initDir       string
	initInstance  string
	initRedisURL  string
	initIndexPath string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter retro.yml",
	Long: `Write a retro.yml with default settings and the built-in board templates.

Without --redis-url the configuration keeps boards in memory, which is
enough for 'retro serve' but not for the board, node and watch commands.

Use --force to replace an existing retro.yml.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Replace an existing retro.yml")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write retro.yml into")
	initCmd.Flags().StringVar(&initInstance, "instance", "", "Instance name for Redis keys (default \"default\")")
	initCmd.Flags().StringVar(&initRedisURL, "redis-url", "", "Redis URL, e.g. redis://localhost:6379/0")
	initCmd.Flags().StringVar(&initIndexPath, "index-path", "", "SQLite index file (default retro-index.db)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !forceInit {
		if err := scaffold.CheckExisting(initDir); err != nil {
			return printer.Error("already initialized", err.Error(), nil)
		}
	}

	opts := scaffold.Options{
		Instance:  initInstance,
		RedisURL:  initRedisURL,
		IndexPath: initIndexPath,
	}
	path, err := scaffold.Initialize(initDir, opts, forceInit)
	if err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}

	scaffold.PrintSuccess(path, opts)
	return nil
}
