package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dyluth/retro/internal/engine"
	"github.com/dyluth/retro/internal/filter"
	"github.com/dyluth/retro/internal/index"
	"github.com/dyluth/retro/internal/printer"
	"github.com/dyluth/retro/internal/resolver"
	"github.com/dyluth/retro/internal/timespec"
	"github.com/dyluth/retro/internal/view"
	"github.com/dyluth/retro/pkg/board"
	"github.com/spf13/cobra"
)

var (
	boardCreateTemplate string
	boardCreator        string
	boardOutputFormat   string

	boardListSince   string
	boardListFilters map[string]string
	boardListSearch  map[string]string
	boardListSort    string
	boardListOrder   string
	boardListStart   int
	boardListRows    int

	boardGetSince   string
	boardGetUntil   string
	boardGetType    string
	boardGetColumn  string
	boardGetCreator string
	boardGetText    string

	boardExportFile  string
	boardImportCopy  bool
	boardImportForce bool
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Create, inspect and remove boards",
}

var boardCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a board, optionally from a template",
	Long: `Create a board called NAME.

With --template the template's columns are added in order. Templates are
configured under 'templates' in retro.yml; 'retro board templates' lists them.

Examples:
  retro board create "Sprint 12"
  retro board create "Sprint 12" --template start-stop-continue`,
	Args: cobra.ExactArgs(1),
	RunE: runBoardCreate,
}

var boardTemplatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List configured board templates",
	Args:  cobra.NoArgs,
	RunE:  runBoardTemplates,
}

var boardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List boards",
	Long: `List boards, oldest first.

With index.path configured the listing comes from the SQLite index and
supports every filter, search term and sort key. Without it the store is
scanned, and only creator, id and content.<field> keys are honoured.

Examples:
  retro board list --since 24h
  retro board list --filter creator=ana --search content.name=sprint
  retro board list --sort last_update_time --order desc --rows 5 -o jsonl`,
	Args: cobra.NoArgs,
	RunE: runBoardList,
}

var boardGetCmd = &cobra.Command{
	Use:   "get BOARD",
	Short: "Show the nodes of a board",
	Long: `Show every node of a board.

BOARD may be a unique prefix of at least 6 characters. The node filters are
ANDed; the board node itself is always shown.

Output Formats:
  default - Table of nodes
  jsonl   - Line-delimited JSON, one node per line
  tree    - Columns with their cards in board order

Examples:
  retro board get 550e84 -o tree
  retro board get 550e84 --type Content --creator ana
  retro board get 550e84 --column 7a1b2c --since 1h`,
	Args: cobra.ExactArgs(1),
	RunE: runBoardGet,
}

var boardDeleteCmd = &cobra.Command{
	Use:   "delete BOARD",
	Short: "Delete a board and all of its nodes",
	Args:  cobra.ExactArgs(1),
	RunE:  runBoardDelete,
}

var boardExportCmd = &cobra.Command{
	Use:   "export BOARD",
	Short: "Write a board as JSON",
	Long: `Write a board as {"board_node": ..., "child_nodes": [...]}.

The document can be loaded again with 'retro board import'.`,
	Args: cobra.ExactArgs(1),
	RunE: runBoardExport,
}

var boardImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Load a board from an export document",
	Long: `Load a board written by 'retro board export' ("-" reads stdin).

By default ids are kept and the import fails if any of them already exist.
--copy loads the board under fresh ids; --force overwrites existing nodes.`,
	Args: cobra.ExactArgs(1),
	RunE: runBoardImport,
}

func init() {
	boardCmd.PersistentFlags().StringVar(&boardCreator, "creator", defaultCreator(), "Creator recorded on new nodes")

	boardCreateCmd.Flags().StringVarP(&boardCreateTemplate, "template", "t", "", "Template to create columns from")
	boardCreateCmd.Flags().StringVarP(&boardOutputFormat, "output", "o", "default", "Output format: default, jsonl or tree")

	boardListCmd.Flags().StringVar(&boardListSince, "since", "", "Only boards created after time (duration or RFC3339)")
	boardListCmd.Flags().StringToStringVar(&boardListFilters, "filter", nil, "Exact match on a field, e.g. creator=ana (repeatable)")
	boardListCmd.Flags().StringToStringVar(&boardListSearch, "search", nil, "Case-insensitive substring match, e.g. content.name=retro (repeatable)")
	boardListCmd.Flags().StringVar(&boardListSort, "sort", "", "Sort key (default create_time)")
	boardListCmd.Flags().StringVar(&boardListOrder, "order", "", "Sort order: asc or desc")
	boardListCmd.Flags().IntVar(&boardListStart, "start", 0, "Number of boards to skip")
	boardListCmd.Flags().IntVar(&boardListRows, "rows", index.DefaultCount, "Maximum number of boards")
	boardListCmd.Flags().StringVarP(&boardOutputFormat, "output", "o", "default", "Output format: default or jsonl")

	boardGetCmd.Flags().StringVarP(&boardOutputFormat, "output", "o", "default", "Output format: default, jsonl or tree")
	boardGetCmd.Flags().StringVar(&boardGetSince, "since", "", "Show nodes created after time (duration or RFC3339)")
	boardGetCmd.Flags().StringVar(&boardGetUntil, "until", "", "Show nodes created before time (duration or RFC3339)")
	boardGetCmd.Flags().StringVar(&boardGetType, "type", "", "Filter by node type (glob pattern)")
	boardGetCmd.Flags().StringVar(&boardGetColumn, "column", "", "Only this column and its cards")
	boardGetCmd.Flags().StringVar(&boardGetCreator, "by", "", "Filter by creator (exact match)")
	boardGetCmd.Flags().StringVar(&boardGetText, "text", "", "Filter by content text (case-insensitive)")

	boardExportCmd.Flags().StringVarP(&boardExportFile, "file", "f", "", "Write to file instead of stdout")

	boardImportCmd.Flags().BoolVar(&boardImportCopy, "copy", false, "Import under fresh ids")
	boardImportCmd.Flags().BoolVar(&boardImportForce, "force", false, "Overwrite nodes that already exist")

	boardCmd.AddCommand(boardCreateCmd, boardTemplatesCmd, boardListCmd, boardGetCmd, boardDeleteCmd, boardExportCmd, boardImportCmd)
	rootCmd.AddCommand(boardCmd)
}

func defaultCreator() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func parseViewFormat() (view.OutputFormat, error) {
	format, err := view.ParseOutputFormat(boardOutputFormat)
	if err != nil {
		return "", printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", boardOutputFormat),
			[]string{"Valid formats: default, jsonl, tree"},
		)
	}
	return format, nil
}

func resolveBoard(ctx context.Context, b *backend, ref string) (string, error) {
	id, err := resolver.ResolveBoardID(ctx, b.store, ref)
	if err != nil {
		return "", resolveError("board", ref, err)
	}
	return id, nil
}

func runBoardCreate(cmd *cobra.Command, args []string) error {
	format, err := parseViewFormat()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	b, err := openCLIBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	nodes, err := b.engine.CreateBoard(ctx, args[0], boardCreateTemplate, boardCreator)
	if err != nil {
		return operationError("create board", err)
	}

	if format == view.OutputFormatDefault {
		printer.Success("Created board %s\n", nodes[0].ID)
	}
	return writeNodes(cmd.OutOrStdout(), nodes, format)
}

func writeNodes(w io.Writer, nodes []*board.Node, format view.OutputFormat) error {
	switch format {
	case view.OutputFormatJSONL:
		return view.FormatJSONL(w, nodes)
	case view.OutputFormatTree:
		return view.FormatTree(w, nodes, nil)
	default:
		view.FormatNodes(w, nodes)
		return nil
	}
}

func runBoardTemplates(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.Templates))
	for name := range cfg.Templates {
		names = append(names, name)
	}
	sort.Strings(names)

	w := cmd.OutOrStdout()
	for _, name := range names {
		fmt.Fprintf(w, "%s\n", name)
		for _, column := range cfg.Templates[name] {
			fmt.Fprintf(w, "  - %s\n", column)
		}
	}
	return nil
}

func runBoardList(cmd *cobra.Command, args []string) error {
	format, err := parseViewFormat()
	if err != nil {
		return err
	}
	if format == view.OutputFormatTree {
		return printer.Error("invalid output format", "The tree format shows a single board.",
			[]string{"Valid formats: default, jsonl"})
	}

	var since int64
	if boardListSince != "" {
		if since, err = timespec.Parse(boardListSince); err != nil {
			return printer.Error(
				"invalid time filter",
				err.Error(),
				[]string{"Use duration format like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z'"},
			)
		}
	}

	ctx := cmd.Context()
	b, err := openCLIBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	q := index.Query{
		Filters:      boardListFilters,
		SearchTerms:  boardListSearch,
		CreatedSince: since,
		Start:        boardListStart,
		Count:        boardListRows,
		SortKey:      boardListSort,
		SortOrder:    boardListOrder,
	}
	if err := view.ListBoards(ctx, b.engine, q, format, cmd.OutOrStdout()); err != nil {
		return printer.Error("failed to list boards", err.Error(),
			[]string{"Sort keys: id, creator, create_time, last_update_time, version, content.<field>"})
	}
	return nil
}

func runBoardGet(cmd *cobra.Command, args []string) error {
	format, err := parseViewFormat()
	if err != nil {
		return err
	}

	sinceMS, untilMS, err := timespec.ParseRange(boardGetSince, boardGetUntil)
	if err != nil {
		return printer.Error(
			"invalid time filter",
			err.Error(),
			[]string{"Use duration format like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z'"},
		)
	}

	ctx := cmd.Context()
	b, err := openCLIBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	boardID, err := resolveBoard(ctx, b, args[0])
	if err != nil {
		return err
	}

	criteria := &filter.Criteria{
		SinceTimestampMs: sinceMS,
		UntilTimestampMs: untilMS,
		TypeGlob:         boardGetType,
		Creator:          boardGetCreator,
		Text:             boardGetText,
	}
	if boardGetColumn != "" {
		if criteria.ColumnID, err = resolveNode(ctx, b, boardID, boardGetColumn); err != nil {
			return err
		}
	}

	err = view.ShowBoard(ctx, b.engine, boardID, criteria, format, cmd.OutOrStdout())
	if view.IsNotFound(err) {
		return printer.Error(
			fmt.Sprintf("board with ID '%s' not found", boardID),
			"The board was resolved but could not be fetched.",
			[]string{"It may have just been deleted. List boards:\n  retro board list"},
		)
	}
	return err
}

func runBoardDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b, err := openCLIBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	boardID, err := resolveBoard(ctx, b, args[0])
	if err != nil {
		return err
	}

	deleted, err := b.engine.DeleteBoard(ctx, boardID)
	if err != nil {
		return operationError("delete board", err)
	}
	printer.Success("Deleted %d nodes\n", len(deleted))
	return nil
}

func runBoardExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b, err := openCLIBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	boardID, err := resolveBoard(ctx, b, args[0])
	if err != nil {
		return err
	}

	exp, err := b.engine.ExportBoard(ctx, boardID)
	if err != nil {
		return operationError("export board", err)
	}

	if boardExportFile == "" {
		return view.FormatSingleJSON(cmd.OutOrStdout(), exp)
	}

	f, err := os.Create(boardExportFile)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()
	if err := view.FormatSingleJSON(f, exp); err != nil {
		return err
	}
	printer.Success("Exported %d nodes to %s\n", len(exp.Children)+1, boardExportFile)
	return nil
}

func runBoardImport(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read export: %w", err)
	}

	var exp engine.Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return printer.Error("invalid export document", err.Error(),
			[]string{"Create one with:\n  retro board export <board> -f board.json"})
	}

	ctx := cmd.Context()
	b, err := openCLIBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	nodes, err := b.engine.ImportBoard(ctx, &exp, boardImportCopy, boardImportForce)
	if err != nil {
		return operationError("import board", err)
	}
	printer.Success("Imported board %s (%d nodes)\n", nodes[0].ID, len(nodes))
	return nil
}
