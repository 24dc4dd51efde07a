package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/retro/internal/printer"
	"github.com/dyluth/retro/internal/watch"
	"github.com/spf13/cobra"
)

var watchOutputFormat string

var watchCmd = &cobra.Command{
	Use:   "watch [BOARD]",
	Short: "Stream board changes as they happen",
	Long: `Stream the change events of one board, or of every board when BOARD
is omitted, until interrupted.

Watching a single board ends when the board is deleted.

Output Formats:
  default - One human-readable line per change
  json    - One {"board_id", "type", "data"} object per event

Examples:
  retro watch 550e84
  retro watch -o json | jq 'select(.type=="node_lock")'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format: default or json")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openCLIBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	var boardID string
	if len(args) == 1 {
		if boardID, err = resolveBoard(ctx, b, args[0]); err != nil {
			return err
		}
	}

	if format == watch.OutputFormatDefault {
		target := "all boards"
		if boardID != "" {
			target = "board " + boardID
		}
		printer.Info("Watching %s (Ctrl+C to stop)...\n", target)
	}

	if err := watch.StreamEvents(ctx, b.store, boardID, format, cmd.OutOrStdout()); err != nil && ctx.Err() == nil {
		return printer.Error("watch failed", err.Error(),
			[]string{"Check the Redis server is reachable"})
	}
	return nil
}

