package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/retro/internal/printer"
	"github.com/dyluth/retro/internal/resolver"
	"github.com/dyluth/retro/internal/view"
	"github.com/dyluth/retro/internal/watch"
	"github.com/dyluth/retro/pkg/board"
	"github.com/spf13/cobra"
)

var (
	nodeSet     []string
	nodeIncr    []string
	nodeDelete  []string
	nodeLock    string
	nodeUnlock  string
	nodeCascade bool
	nodeWait    time.Duration
	nodeOutput  bool
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Add, move, edit, remove and lock board nodes",
	Long: `Work with the columns and cards of a board.

BOARD and NODE may be unique prefixes of at least 6 characters; a node
prefix matches the part of its id after the board id. The board id itself
names the board node.`,
}

var nodeAddCmd = &cobra.Command{
	Use:   "add BOARD PARENT",
	Short: "Add a column or card",
	Long: `Add a node below PARENT.

Under the board node the new node is a column; below a column or card it
is a card placed directly after PARENT.

Examples:
  # Add a column
  retro node add 550e84 550e84 --set name="Went well"

  # Add a card at the top of a column
  retro node add 550e84 7a1b2c --set text="Fast reviews" --set votes=0`,
	Args: cobra.ExactArgs(2),
	RunE: runNodeAdd,
}

var nodeMoveCmd = &cobra.Command{
	Use:   "move BOARD NODE NEW_PARENT",
	Short: "Move a card after another node",
	Args:  cobra.ExactArgs(3),
	RunE:  runNodeMove,
}

var nodeEditCmd = &cobra.Command{
	Use:   "edit BOARD NODE",
	Short: "Edit the content of a node",
	Long: `Apply content operations to a node in one transaction.

Operations run in the order SET, INCR, DELETE. A locked node can only be
edited with --unlock and the matching token, which also releases the lock.

Examples:
  retro node edit 550e84 c0ffee --set text="Faster reviews"
  retro node edit 550e84 c0ffee --incr votes=1
  retro node edit 550e84 c0ffee --delete draft --unlock my-token`,
	Args: cobra.ExactArgs(2),
	RunE: runNodeEdit,
}

var nodeRemoveCmd = &cobra.Command{
	Use:     "rm BOARD NODE",
	Aliases: []string{"remove"},
	Short:   "Remove a card or column",
	Long: `Remove a node. A card is spliced out of its column. A column can only
be removed while it is empty unless --cascade is given, which removes its
cards too.`,
	Args: cobra.ExactArgs(2),
	RunE: runNodeRemove,
}

var nodeLockCmd = &cobra.Command{
	Use:   "lock BOARD NODE TOKEN",
	Short: "Take the editing lock on a node",
	Long: `Lock a node for editing with TOKEN. Locks expire after locks.ttl.

With --wait, an existing lock is waited out before locking.`,
	Args: cobra.ExactArgs(3),
	RunE: runNodeLock,
}

var nodeUnlockCmd = &cobra.Command{
	Use:   "unlock BOARD NODE TOKEN",
	Short: "Release the editing lock on a node",
	Args:  cobra.ExactArgs(3),
	RunE:  runNodeUnlock,
}

func init() {
	nodeCmd.PersistentFlags().StringVar(&boardCreator, "creator", defaultCreator(), "Creator recorded on new nodes")
	nodeCmd.PersistentFlags().BoolVar(&nodeOutput, "json", false, "Print affected nodes as JSONL")

	nodeAddCmd.Flags().StringArrayVar(&nodeSet, "set", nil, "Content field as key=value (repeatable)")

	nodeEditCmd.Flags().StringArrayVar(&nodeSet, "set", nil, "Set a field: key=value (repeatable)")
	nodeEditCmd.Flags().StringArrayVar(&nodeIncr, "incr", nil, "Add to a numeric field: key=n (repeatable)")
	nodeEditCmd.Flags().StringArrayVar(&nodeDelete, "delete", nil, "Delete a field (repeatable)")
	nodeEditCmd.Flags().StringVar(&nodeLock, "lock", "", "Lock the node with this token after editing")
	nodeEditCmd.Flags().StringVar(&nodeUnlock, "unlock", "", "Edit a locked node and release its lock")

	nodeRemoveCmd.Flags().BoolVar(&nodeCascade, "cascade", false, "Also remove the cards of a column")

	nodeLockCmd.Flags().DurationVar(&nodeWait, "wait", 0, "Wait up to this long for an existing lock to be released")

	nodeCmd.AddCommand(nodeAddCmd, nodeMoveCmd, nodeEditCmd, nodeRemoveCmd, nodeLockCmd, nodeUnlockCmd)
	rootCmd.AddCommand(nodeCmd)
}

// parseValue reads a command line value as JSON when it is a number, bool,
// null, array or object, and as a plain string otherwise.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		if _, isString := v.(string); !isString {
			return v
		}
	}
	return raw
}

func parseAssignments(flag string, values []string) (board.Content, []string, error) {
	content := board.Content{}
	var order []string
	for _, kv := range values {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, nil, printer.Error(
				fmt.Sprintf("invalid --%s value '%s'", flag, kv),
				"Values must be given as key=value.",
				[]string{fmt.Sprintf("Example:\n  --%s text=\"Fast reviews\"", flag)},
			)
		}
		if _, seen := content[key]; !seen {
			order = append(order, key)
		}
		content[key] = parseValue(value)
	}
	return content, order, nil
}

func resolveNode(ctx context.Context, b *backend, boardID, ref string) (string, error) {
	nodes, err := b.engine.GetBoard(ctx, boardID)
	if err != nil {
		return "", operationError("read board", err)
	}
	id, err := resolver.ResolveNodeID(nodes, ref)
	if err != nil {
		return "", resolveError("node", ref, err)
	}
	return id, nil
}

// openNodeTarget opens the backend and resolves BOARD and the given node
// references, in order.
func openNodeTarget(cmd *cobra.Command, boardRef string, nodeRefs ...string) (*backend, string, []string, error) {
	ctx := cmd.Context()
	b, err := openCLIBackend(ctx)
	if err != nil {
		return nil, "", nil, err
	}

	boardID, err := resolveBoard(ctx, b, boardRef)
	if err != nil {
		b.Close()
		return nil, "", nil, err
	}

	ids := make([]string, 0, len(nodeRefs))
	for _, ref := range nodeRefs {
		id, err := resolveNode(ctx, b, boardID, ref)
		if err != nil {
			b.Close()
			return nil, "", nil, err
		}
		ids = append(ids, id)
	}
	return b, boardID, ids, nil
}

func reportNodes(cmd *cobra.Command, nodes []*board.Node, format string, a ...any) error {
	if nodeOutput {
		return view.FormatJSONL(cmd.OutOrStdout(), nodes)
	}
	printer.Success(format, a...)
	return nil
}

func runNodeAdd(cmd *cobra.Command, args []string) error {
	content, _, err := parseAssignments("set", nodeSet)
	if err != nil {
		return err
	}

	b, boardID, ids, err := openNodeTarget(cmd, args[0], args[1])
	if err != nil {
		return err
	}
	defer b.Close()

	node, err := b.engine.AddNode(cmd.Context(), boardID, ids[0], content, boardCreator)
	if err != nil {
		return operationError("add node", err)
	}
	return reportNodes(cmd, []*board.Node{node}, "Added %s %s\n", nodeKind(node), node.ID)
}

func nodeKind(n *board.Node) string {
	if n.Type == board.TypeColumnHeader {
		return "column"
	}
	return "card"
}

func runNodeMove(cmd *cobra.Command, args []string) error {
	b, boardID, ids, err := openNodeTarget(cmd, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	defer b.Close()

	touched, err := b.engine.MoveNode(cmd.Context(), boardID, ids[0], ids[1])
	if err != nil {
		return operationError("move node", err)
	}
	return reportNodes(cmd, touched, "Moved %s after %s (%d nodes updated)\n", ids[0], ids[1], len(touched))
}

func runNodeEdit(cmd *cobra.Command, args []string) error {
	ops, err := buildOperations()
	if err != nil {
		return err
	}
	if len(ops) == 0 && nodeLock == "" && nodeUnlock == "" {
		return printer.Error("nothing to edit", "No operations were given.",
			[]string{"Use --set, --incr, --delete, --lock or --unlock"})
	}

	b, boardID, ids, err := openNodeTarget(cmd, args[0], args[1])
	if err != nil {
		return err
	}
	defer b.Close()

	node, err := b.engine.EditNode(cmd.Context(), boardID, ids[0], ops, nodeLock, nodeUnlock)
	if err != nil {
		return operationError("edit node", err)
	}
	return reportNodes(cmd, []*board.Node{node}, "Edited %s (version %d)\n", node.ID, node.Version)
}

func buildOperations() ([]board.Operation, error) {
	var ops []board.Operation

	groups := []struct {
		flag   string
		op     string
		values []string
	}{
		{"set", "SET", nodeSet},
		{"incr", "INCR", nodeIncr},
	}
	for _, g := range groups {
		content, order, err := parseAssignments(g.flag, g.values)
		if err != nil {
			return nil, err
		}
		for _, key := range order {
			op, err := board.ParseOperation(g.op, key, content[key])
			if err != nil {
				return nil, printer.Error(fmt.Sprintf("invalid --%s value for '%s'", g.flag, key), err.Error(), nil)
			}
			ops = append(ops, op)
		}
	}

	for _, key := range nodeDelete {
		op, err := board.ParseOperation("DELETE", key, nil)
		if err != nil {
			return nil, printer.Error(fmt.Sprintf("invalid --delete value '%s'", key), err.Error(), nil)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func runNodeRemove(cmd *cobra.Command, args []string) error {
	b, boardID, ids, err := openNodeTarget(cmd, args[0], args[1])
	if err != nil {
		return err
	}
	defer b.Close()

	deleted, err := b.engine.RemoveNode(cmd.Context(), boardID, ids[0], nodeCascade)
	if err != nil {
		return operationError("remove node", err)
	}
	return reportNodes(cmd, deleted, "Deleted %d nodes\n", len(deleted))
}

func runNodeLock(cmd *cobra.Command, args []string) error {
	b, boardID, ids, err := openNodeTarget(cmd, args[0], args[1])
	if err != nil {
		return err
	}
	defer b.Close()
	ctx := cmd.Context()

	if nodeWait > 0 {
		if err := watch.WaitForUnlock(ctx, b.store, ids[0], nodeWait); err != nil {
			return printer.Error(
				"node is still locked",
				err.Error(),
				[]string{"Try again later, or wait longer with --wait"},
			)
		}
	}

	if err := b.engine.LockNode(ctx, boardID, ids[0], args[2]); err != nil {
		return operationError("lock node", err)
	}
	printer.Success("Locked %s\n", ids[0])
	return nil
}

func runNodeUnlock(cmd *cobra.Command, args []string) error {
	b, boardID, ids, err := openNodeTarget(cmd, args[0], args[1])
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.engine.UnlockNode(cmd.Context(), boardID, ids[0], args[2]); err != nil {
		return operationError("unlock node", err)
	}
	printer.Success("Unlocked %s\n", ids[0])
	return nil
}
