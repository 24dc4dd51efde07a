package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/retro/internal/printer"
	"github.com/dyluth/retro/pkg/board"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag to its default so commands can run more
// than once in one process.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		switch v := f.Value.(type) {
		case pflag.SliceValue:
			_ = v.Replace(nil)
		default:
			if f.Value.Type() != "stringToString" {
				_ = f.Value.Set(f.DefValue)
			}
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
	boardListFilters = map[string]string{}
	boardListSearch = map[string]string{}
}

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func runCLI(t *testing.T, args ...string) cliResult {
	t.Helper()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	prevOut, prevErr := printer.Stdout, printer.Stderr
	printer.Stdout, printer.Stderr = &stdout, &stderr
	defer func() { printer.Stdout, printer.Stderr = prevOut, prevErr }()

	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	rootCmd.SetContext(context.Background())

	err := Execute()
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "retro.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func setupRedisConfig(t *testing.T) string {
	t.Helper()
	mr := miniredis.RunT(t)
	return writeConfig(t, fmt.Sprintf(`version: "1.0"
instance: cli-test
redis:
  url: redis://%s/0
index:
  path: %s
`, mr.Addr(), filepath.Join(t.TempDir(), "index.db")))
}

func decodeNodes(t *testing.T, out string) []*board.Node {
	t.Helper()
	var nodes []*board.Node
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		n, err := board.DecodeNode([]byte(line))
		require.NoError(t, err, line)
		nodes = append(nodes, n)
	}
	return nodes
}

func localID(id string) string {
	_, local, _ := strings.Cut(id, board.IDSeparator)
	return local[:8]
}

func TestRootCommand_ShowsHelp(t *testing.T) {
	res := runCLI(t)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Usage:")
	assert.Contains(t, res.stdout, "board")
	assert.Contains(t, res.stdout, "serve")
}

func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	res := runCLI(t, "--goal", "test")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "unknown flag")
}

func TestBoardTemplates(t *testing.T) {
	cfg := writeConfig(t, `version: "1.0"
templates:
  plus-minus: [Plus, Minus]
`)
	res := runCLI(t, "board", "templates", "--config", cfg)
	require.NoError(t, res.err)
	assert.Equal(t, "plus-minus\n  - Plus\n  - Minus\n", res.stdout)
}

func TestCommandsRequireRedis(t *testing.T) {
	cfg := writeConfig(t, "version: \"1.0\"\n")
	t.Setenv("RETRO_REDIS_URL", "")

	res := runCLI(t, "board", "list", "--config", cfg)
	require.Error(t, res.err)
	assert.Contains(t, res.stderr, "no shared store configured")
	assert.Contains(t, res.stderr, "RETRO_REDIS_URL")
}

func TestInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "version: \"2.0\"\n")
	res := runCLI(t, "board", "list", "--config", cfg)
	require.Error(t, res.err)
	assert.Contains(t, res.stderr, "unsupported version")
}

func TestBoardAndNodeCommands(t *testing.T) {
	cfg := setupRedisConfig(t)

	res := runCLI(t, "board", "create", "Sprint 12", "--template", "start-stop-continue", "-o", "jsonl", "--creator", "ana", "--config", cfg)
	require.NoError(t, res.err, res.stderr)
	nodes := decodeNodes(t, res.stdout)
	require.Len(t, nodes, 4)
	root := nodes[0]
	require.Equal(t, board.TypeBoard, root.Type)
	assert.Equal(t, "ana", root.Creator)
	short := root.ID[:8]

	var start string
	for _, n := range nodes {
		if n.Content["name"] == "Start" {
			start = n.ID
		}
	}
	require.NotEmpty(t, start)

	t.Run("list", func(t *testing.T) {
		res := runCLI(t, "board", "list", "--config", cfg)
		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, "Sprint 12")
		assert.Contains(t, res.stdout, "1 board found")

		res = runCLI(t, "board", "list", "--filter", "creator=bo", "-o", "jsonl", "--config", cfg)
		require.NoError(t, res.err, res.stderr)
		assert.Empty(t, strings.TrimSpace(res.stdout))

		res = runCLI(t, "board", "list", "--order", "sideways", "--config", cfg)
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "failed to list boards")

		res = runCLI(t, "board", "list", "--since", "yesterday", "--config", cfg)
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "invalid time filter")
	})

	var card string
	t.Run("add and edit", func(t *testing.T) {
		res := runCLI(t, "node", "add", short, localID(start), "--set", "text=Fast reviews", "--set", "votes=1", "--json", "--config", cfg)
		require.NoError(t, res.err, res.stderr)
		added := decodeNodes(t, res.stdout)
		require.Len(t, added, 1)
		assert.Equal(t, board.TypeContent, added[0].Type)
		assert.Equal(t, start, added[0].ColumnHeaderID)
		card = added[0].ID

		res = runCLI(t, "node", "edit", short, localID(card), "--incr", "votes=2", "--set", "text=Faster reviews", "--json", "--config", cfg)
		require.NoError(t, res.err, res.stderr)
		edited := decodeNodes(t, res.stdout)
		require.Len(t, edited, 1)
		assert.EqualValues(t, 3, edited[0].Content["votes"])
		assert.Equal(t, "Faster reviews", edited[0].Content["text"])

		res = runCLI(t, "node", "edit", short, localID(card), "--config", cfg)
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "nothing to edit")

		res = runCLI(t, "node", "add", short, localID(start), "--set", "novalue", "--config", cfg)
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "invalid --set value 'novalue'")
	})

	t.Run("locking", func(t *testing.T) {
		res := runCLI(t, "node", "lock", short, localID(card), "tok", "--config", cfg)
		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, "Locked "+card)

		res = runCLI(t, "node", "edit", short, localID(card), "--set", "text=Mine", "--config", cfg)
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "node is locked")

		res = runCLI(t, "node", "lock", short, localID(card), "other", "--wait", "300ms", "--config", cfg)
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "node is still locked")

		res = runCLI(t, "node", "unlock", short, localID(card), "wrong", "--config", cfg)
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "failed to unlock node")

		res = runCLI(t, "node", "unlock", short, localID(card), "tok", "--config", cfg)
		require.NoError(t, res.err, res.stderr)
	})

	t.Run("move and tree", func(t *testing.T) {
		res := runCLI(t, "node", "add", short, localID(card), "--set", "text=Good demos", "--json", "--config", cfg)
		require.NoError(t, res.err, res.stderr)
		second := decodeNodes(t, res.stdout)[0]

		res = runCLI(t, "board", "get", short, "-o", "tree", "--config", cfg)
		require.NoError(t, res.err, res.stderr)
		assert.Less(t, strings.Index(res.stdout, "Faster reviews"), strings.Index(res.stdout, "Good demos"))

		res = runCLI(t, "node", "move", short, localID(card), localID(second.ID), "--config", cfg)
		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, "Moved")

		res = runCLI(t, "board", "get", short, "-o", "tree", "--config", cfg)
		require.NoError(t, res.err, res.stderr)
		assert.Less(t, strings.Index(res.stdout, "Good demos"), strings.Index(res.stdout, "Faster reviews"))

		res = runCLI(t, "board", "get", short, "--column", localID(start), "--type", "Content", "-o", "jsonl", "--config", cfg)
		require.NoError(t, res.err, res.stderr)
		assert.Len(t, decodeNodes(t, res.stdout), 3)
	})

	t.Run("remove column", func(t *testing.T) {
		res := runCLI(t, "node", "rm", short, localID(start), "--config", cfg)
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "column is not empty")

		res = runCLI(t, "node", "rm", short, localID(start), "--cascade", "--config", cfg)
		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, "Deleted 3 nodes")
	})

	t.Run("export and import", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "board.json")
		res := runCLI(t, "board", "export", short, "-f", file, "--config", cfg)
		require.NoError(t, res.err, res.stderr)

		var exp map[string]json.RawMessage
		data, err := os.ReadFile(file)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &exp))
		assert.Contains(t, exp, "board_node")
		assert.Contains(t, exp, "child_nodes")

		res = runCLI(t, "board", "import", file, "--config", cfg)
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "ids already exist")

		res = runCLI(t, "board", "import", file, "--copy", "--config", cfg)
		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, "Imported board")

		res = runCLI(t, "board", "list", "-o", "jsonl", "--config", cfg)
		require.NoError(t, res.err, res.stderr)
		assert.Len(t, decodeNodes(t, res.stdout), 2)
	})

	t.Run("delete", func(t *testing.T) {
		res := runCLI(t, "board", "delete", short, "--config", cfg)
		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, "Deleted 3 nodes")

		res = runCLI(t, "board", "get", short, "--config", cfg)
		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "not found")
	})
}

func TestWatch_InvalidFormat(t *testing.T) {
	res := runCLI(t, "watch", "-o", "xml")
	require.Error(t, res.err)
	assert.Contains(t, res.stderr, "Valid formats: default, json")
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()

	res := runCLI(t, "init", "--dir", dir, "--instance", "team-a")
	require.NoError(t, res.err)
	assert.FileExists(t, filepath.Join(dir, "retro.yml"))

	res = runCLI(t, "init", "--dir", dir)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "already initialized")

	res = runCLI(t, "board", "templates", "--config", filepath.Join(dir, "retro.yml"))
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "start-stop-continue")
}
