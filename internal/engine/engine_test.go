package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/retro/internal/index"
	"github.com/dyluth/retro/pkg/board"
	"github.com/dyluth/retro/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testTemplates = map[string][]string{
	"retro": {"What went well?", "What could have gone better?", "How can we improve?"},
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func sequentialIDs() board.IDGenerator {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		i++
		return "id" + strconv.Itoa(i)
	}
}

func setupTestEngine(t *testing.T, opts ...Option) (*Engine, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore(store.Options{})
	t.Cleanup(func() { st.Close() })
	clock := &testClock{now: time.UnixMilli(1_000_000)}
	base := []Option{
		WithTemplates(testTemplates),
		WithClock(clock.Now),
		WithIDGenerator(sequentialIDs()),
		WithLogger(zap.NewNop()),
	}
	return New(st, append(base, opts...)...), st
}

func loadExport(t *testing.T) *Export {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "board_export.json"))
	require.NoError(t, err)
	var exp Export
	require.NoError(t, json.Unmarshal(data, &exp))
	return &exp
}

func TestCreateBoard(t *testing.T) {
	ctx := context.Background()
	e, st := setupTestEngine(t)

	t.Run("plain board", func(t *testing.T) {
		nodes, err := e.CreateBoard(ctx, "  Sprint 1  ", "", "ana")
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, board.TypeBoard, nodes[0].Type)
		assert.Equal(t, "Sprint 1", nodes[0].Content["name"])
		assert.Equal(t, "ana", nodes[0].Creator)
	})

	t.Run("from template", func(t *testing.T) {
		nodes, err := e.CreateBoard(ctx, "Sprint 2", "retro", "ana")
		require.NoError(t, err)
		require.Len(t, nodes, 4)
		root := nodes[0]
		assert.Len(t, root.Children, 3)
		assert.Equal(t, int64(4), root.Version)

		var names []string
		for _, n := range nodes[1:] {
			assert.Equal(t, board.TypeColumnHeader, n.Type)
			names = append(names, n.Content["name"].(string))
		}
		assert.ElementsMatch(t, testTemplates["retro"], names)

		ids, err := st.BoardIDs(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, root.ID)
	})

	t.Run("name required", func(t *testing.T) {
		_, err := e.CreateBoard(ctx, " ", "", "ana")
		assert.ErrorIs(t, err, ErrBoardNameRequired)
	})

	t.Run("unknown template", func(t *testing.T) {
		_, err := e.CreateBoard(ctx, "x", "nope", "ana")
		assert.ErrorIs(t, err, ErrUnknownTemplate)
	})

	templates := e.Templates()
	templates["retro"][0] = "mutated"
	assert.Equal(t, "What went well?", e.Templates()["retro"][0])
}

func TestNodeOperations(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)

	nodes, err := e.CreateBoard(ctx, "Board", "", "ana")
	require.NoError(t, err)
	boardID := nodes[0].ID

	col, err := e.AddNode(ctx, boardID, boardID, board.Content{"name": "Went well"}, "ana")
	require.NoError(t, err)
	c1, err := e.AddNode(ctx, boardID, col.ID, nil, "bo")
	require.NoError(t, err)
	assert.Equal(t, board.Content{}, c1.Content)
	c2, err := e.AddNode(ctx, boardID, c1.ID, board.Content{"text": "second"}, "bo")
	require.NoError(t, err)

	t.Run("move returns touched nodes", func(t *testing.T) {
		moved, err := e.MoveNode(ctx, boardID, c2.ID, col.ID)
		require.NoError(t, err)
		assert.Len(t, moved, 3)

		moved, err = e.MoveNode(ctx, boardID, c2.ID, col.ID)
		require.NoError(t, err)
		require.Len(t, moved, 1)
		assert.Equal(t, c2.ID, moved[0].ID)
	})

	t.Run("edit", func(t *testing.T) {
		n, err := e.EditNode(ctx, boardID, c1.ID, []board.Operation{
			{Op: board.OpSet, Field: "text", Value: "first"},
			{Op: board.OpIncr, Field: "votes", Value: 2},
		}, "", "")
		require.NoError(t, err)
		assert.Equal(t, "first", n.Content["text"])
		assert.EqualValues(t, 2, n.Content["votes"])
	})

	t.Run("lock only edit returns the node", func(t *testing.T) {
		n, err := e.EditNode(ctx, boardID, c1.ID, nil, "tok", "")
		require.NoError(t, err)
		assert.Equal(t, c1.ID, n.ID)

		_, err = e.EditNode(ctx, boardID, c1.ID, []board.Operation{{Op: board.OpDelete, Field: "votes"}}, "", "")
		assert.ErrorIs(t, err, board.ErrNodeLocked)

		n, err = e.EditNode(ctx, boardID, c1.ID, []board.Operation{{Op: board.OpDelete, Field: "votes"}}, "", "tok")
		require.NoError(t, err)
		assert.NotContains(t, n.Content, "votes")
	})

	t.Run("lock and unlock together", func(t *testing.T) {
		_, err := e.EditNode(ctx, boardID, c1.ID, nil, "a", "b")
		assert.ErrorIs(t, err, ErrLockAndUnlock)
	})

	t.Run("lock and unlock", func(t *testing.T) {
		require.NoError(t, e.LockNode(ctx, boardID, c2.ID, "t"))
		assert.ErrorIs(t, e.LockNode(ctx, boardID, c2.ID, "t2"), board.ErrLockFailure)
		assert.ErrorIs(t, e.UnlockNode(ctx, boardID, c2.ID, "wrong"), board.ErrUnlockFailure)
		require.NoError(t, e.UnlockNode(ctx, boardID, c2.ID, "t"))
	})

	t.Run("remove", func(t *testing.T) {
		_, err := e.RemoveNode(ctx, boardID, col.ID, false)
		assert.ErrorIs(t, err, board.ErrColumnNotEmpty)

		deleted, err := e.RemoveNode(ctx, boardID, col.ID, true)
		require.NoError(t, err)
		assert.Len(t, deleted, 3)

		remaining, err := e.GetBoard(ctx, boardID)
		require.NoError(t, err)
		assert.Len(t, remaining, 1)
	})
}

func TestDeleteBoard(t *testing.T) {
	ctx := context.Background()
	e, st := setupTestEngine(t)

	nodes, err := e.CreateBoard(ctx, "Doomed", "retro", "ana")
	require.NoError(t, err)
	boardID := nodes[0].ID

	deleted, err := e.DeleteBoard(ctx, boardID)
	require.NoError(t, err)
	assert.Len(t, deleted, 4)

	ids, err := st.BoardIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, boardID)

	_, err = e.GetBoard(ctx, boardID)
	assert.ErrorIs(t, err, board.ErrNodeNotFound)

	_, err = e.DeleteBoard(ctx, boardID)
	assert.ErrorIs(t, err, board.ErrNodeNotFound)
}

func TestListBoards_StoreScan(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)

	var ids []string
	for _, name := range []string{"Alpha retro", "Beta", "Gamma retro"} {
		nodes, err := e.CreateBoard(ctx, name, "", "ana")
		require.NoError(t, err)
		ids = append(ids, nodes[0].ID)
	}
	_, err := e.CreateBoard(ctx, "Delta", "", "bo")
	require.NoError(t, err)

	boards, err := e.ListBoards(ctx, index.Query{})
	require.NoError(t, err)
	assert.Len(t, boards, 4)
	assert.Equal(t, ids[0], boards[0].ID)

	boards, err = e.ListBoards(ctx, index.Query{SearchTerms: map[string]string{"content.name": "RETRO"}, SortOrder: "desc"})
	require.NoError(t, err)
	require.Len(t, boards, 2)
	assert.Equal(t, ids[2], boards[0].ID)

	boards, err = e.ListBoards(ctx, index.Query{Filters: map[string]string{"creator": "bo"}})
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Equal(t, "Delta", boards[0].Content["name"])

	boards, err = e.ListBoards(ctx, index.Query{Start: 1, Count: 2})
	require.NoError(t, err)
	assert.Len(t, boards, 2)

	boards, err = e.ListBoards(ctx, index.Query{Start: 10})
	require.NoError(t, err)
	assert.Empty(t, boards)
}

func TestListBoards_Index(t *testing.T) {
	ctx := context.Background()
	idx, err := index.Open(filepath.Join(t.TempDir(), "index.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	st := store.NewMemStore(store.Options{Index: idx})
	t.Cleanup(func() { st.Close() })
	e := New(st, WithIndex(idx), WithTemplates(testTemplates))

	nodes, err := e.CreateBoard(ctx, "Indexed", "retro", "ana")
	require.NoError(t, err)
	boardID := nodes[0].ID

	boards, err := e.ListBoards(ctx, index.Query{Filters: map[string]string{"content.name": "Indexed"}})
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Equal(t, boardID, boards[0].ID)
	assert.Equal(t, int64(4), boards[0].Version, "index follows every commit")

	_, err = e.DeleteBoard(ctx, boardID)
	require.NoError(t, err)
	has, err := idx.HasBoard(ctx, boardID)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = e.ListBoards(ctx, index.Query{SortOrder: "up"})
	assert.ErrorIs(t, err, index.ErrInvalidSortOrder)
}

func TestExportBoard(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)
	nodes, err := e.CreateBoard(ctx, "Exported", "retro", "ana")
	require.NoError(t, err)

	exp, err := e.ExportBoard(ctx, nodes[0].ID)
	require.NoError(t, err)
	assert.Equal(t, nodes[0].ID, exp.Board.ID)
	assert.Len(t, exp.Children, 3)

	data, err := json.Marshal(exp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"board_node"`)
	assert.Contains(t, string(data), `"child_nodes"`)
}

func assertImported(t *testing.T, exp *Export, imported []*board.Node) {
	t.Helper()
	expected := append([]*board.Node{exp.Board}, exp.Children...)
	require.Len(t, imported, len(expected))
	for i, n := range imported {
		want := expected[i]
		assert.Equal(t, want.ID, n.ID)
		assert.Equal(t, want.Type, n.Type)
		assert.Equal(t, want.Content, n.Content)
		assert.Equal(t, want.Parent, n.Parent)
		assert.Equal(t, want.Child, n.Child)
		assert.Equal(t, want.ColumnHeaderID, n.ColumnHeaderID)
		assert.ElementsMatch(t, want.Children, n.Children)
		assert.Equal(t, int64(489), n.Version)
	}
}

func TestImportBoard(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)
	exp := loadExport(t)

	imported, err := e.ImportBoard(ctx, exp, false, false)
	require.NoError(t, err)
	assertImported(t, exp, imported)

	nodes, err := e.GetBoard(ctx, exp.Board.ID)
	require.NoError(t, err)
	assert.Len(t, nodes, 1+len(exp.Children))
}

func TestImportBoard_ExistingData(t *testing.T) {
	ctx := context.Background()
	exp := loadExport(t)

	t.Run("existing board", func(t *testing.T) {
		e, _ := setupTestEngine(t)
		_, err := e.ImportBoard(ctx, exp, false, false)
		require.NoError(t, err)

		_, err = e.ImportBoard(ctx, exp, false, false)
		assert.ErrorIs(t, err, board.ErrExistingNode)
	})

	t.Run("existing child only", func(t *testing.T) {
		e, st := setupTestEngine(t)
		_, err := e.ImportBoard(ctx, exp, false, false)
		require.NoError(t, err)
		require.NoError(t, st.RemoveBoard(ctx, exp.Board.ID))

		_, err = e.ImportBoard(ctx, exp, false, false)
		assert.ErrorIs(t, err, board.ErrExistingNode)
		exists, err := st.NodeExists(ctx, exp.Board.ID)
		require.NoError(t, err)
		assert.False(t, exists, "a rejected import leaves no board behind")
	})

	t.Run("force", func(t *testing.T) {
		e, _ := setupTestEngine(t)
		_, err := e.ImportBoard(ctx, exp, false, false)
		require.NoError(t, err)

		imported, err := e.ImportBoard(ctx, exp, false, true)
		require.NoError(t, err)
		assertImported(t, exp, imported)
	})
}

// failingImportStore rejects every write transaction after the board root
// has been created.
type failingImportStore struct {
	*store.MemStore
}

func (f failingImportStore) Transaction(ctx context.Context, boardID string, fn board.TxFunc) (*board.Changes, error) {
	return nil, store.ErrTooManyConflicts
}

func TestImportBoard_FailureLeavesNoBoard(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid child", func(t *testing.T) {
		e, st := setupTestEngine(t)
		exp := loadExport(t)
		broken := exp.Children[0].Clone()
		broken.Parent = ""
		bad := &Export{Board: exp.Board, Children: append([]*board.Node{broken}, exp.Children[1:]...)}

		_, err := e.ImportBoard(ctx, bad, false, false)
		assert.ErrorIs(t, err, ErrInvalidExport)

		ids, err := st.BoardIDs(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)

		imported, err := e.ImportBoard(ctx, exp, false, false)
		require.NoError(t, err)
		assertImported(t, exp, imported)
	})

	t.Run("failed commit", func(t *testing.T) {
		mem := store.NewMemStore(store.Options{})
		t.Cleanup(func() { mem.Close() })
		e := New(failingImportStore{mem}, WithLogger(zap.NewNop()))
		exp := loadExport(t)

		_, err := e.ImportBoard(ctx, exp, false, false)
		assert.ErrorIs(t, err, store.ErrTooManyConflicts)

		exists, err := mem.NodeExists(ctx, exp.Board.ID)
		require.NoError(t, err)
		assert.False(t, exists)
		ids, err := mem.BoardIDs(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("failed forced import keeps existing board", func(t *testing.T) {
		mem := store.NewMemStore(store.Options{})
		t.Cleanup(func() { mem.Close() })
		exp := loadExport(t)
		_, err := New(mem, WithLogger(zap.NewNop())).ImportBoard(ctx, exp, false, false)
		require.NoError(t, err)

		e := New(failingImportStore{mem}, WithLogger(zap.NewNop()))
		_, err = e.ImportBoard(ctx, exp, false, true)
		assert.ErrorIs(t, err, store.ErrTooManyConflicts)

		exists, err := mem.NodeExists(ctx, exp.Board.ID)
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestImportBoard_Copy(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)
	exp := loadExport(t)

	imported, err := e.ImportBoard(ctx, exp, true, false)
	require.NoError(t, err)

	expected := append([]*board.Node{exp.Board}, exp.Children...)
	require.Len(t, imported, len(expected))
	newBoardID := imported[0].ID
	assert.NotEqual(t, exp.Board.ID, newBoardID)

	for i, n := range imported {
		want := expected[i]
		if n.Type != board.TypeBoard {
			assert.Equal(t, newBoardID, board.BoardIDOf(n.ID), n.ID)
		}
		assert.Equal(t, want.Type, n.Type)
		assert.Equal(t, want.Content, n.Content)
		assert.Equal(t, int64(2), n.Version)

		if n.Type == board.TypeBoard {
			assert.Len(t, n.Children, len(want.Children))
			for _, child := range n.Children {
				assert.Equal(t, newBoardID, board.BoardIDOf(child))
			}
			continue
		}
		assert.Equal(t, newBoardID, board.BoardIDOf(n.Parent))
		if want.Child == "" {
			assert.Empty(t, n.Child)
		} else {
			assert.Equal(t, newBoardID, board.BoardIDOf(n.Child))
		}
		if n.Type == board.TypeContent {
			assert.Equal(t, newBoardID, board.BoardIDOf(n.ColumnHeaderID))
		}
	}

	// The copy is a working board: its chains are intact.
	nodes, err := e.GetBoard(ctx, newBoardID)
	require.NoError(t, err)
	assert.Len(t, nodes, len(expected))

	// Importing the same export as a copy twice yields two boards.
	again, err := e.ImportBoard(ctx, exp, true, false)
	require.NoError(t, err)
	assert.NotEqual(t, newBoardID, again[0].ID)
}

func TestImportBoard_Invalid(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)

	_, err := e.ImportBoard(ctx, nil, false, false)
	assert.ErrorIs(t, err, ErrInvalidExport)

	_, err = e.ImportBoard(ctx, &Export{Board: &board.Node{Type: board.TypeContent, ID: "x|y"}}, false, false)
	assert.ErrorIs(t, err, ErrInvalidExport)
}
