package board

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddNode(t *testing.T) {
	ctx := context.Background()

	t.Run("adding under the board creates a column", func(t *testing.T) {
		f := newFixture(t, 0)
		root := f.store.nodes["b"]
		assert.Equal(t, []string{f.colA}, root.Children)

		col := f.store.nodes[f.colA]
		assert.Equal(t, TypeColumnHeader, col.Type)
		assert.Equal(t, "b", col.Parent)
		assert.Equal(t, "b|n1", col.ID)
	})

	t.Run("cards chain in insertion order", func(t *testing.T) {
		f := newFixture(t, 3)
		assert.Equal(t, f.cards, f.chain(t, f.colA))
		for _, id := range f.cards {
			assert.Equal(t, f.colA, f.store.nodes[id].ColumnHeaderID)
		}
	})

	t.Run("adding after a middle card inserts it", func(t *testing.T) {
		f := newFixture(t, 3)
		n, c, err := f.board.AddNode(ctx, Content{"text": "x"}, f.cards[0], "bob")
		require.NoError(t, err)

		assert.Equal(t, []string{f.cards[0], n.ID, f.cards[1], f.cards[2]}, f.chain(t, f.colA))
		assert.ElementsMatch(t, []string{f.cards[0], n.ID, f.cards[1]}, ids(c.Updates))
		assert.Equal(t, "bob", n.Creator)
		assert.Equal(t, int64(5000), n.CreateTime)
	})

	t.Run("adding under a leaf leaves the chain intact", func(t *testing.T) {
		f := newFixture(t, 2)
		n, c, err := f.board.AddNode(ctx, Content{}, f.cards[1], "bob")
		require.NoError(t, err)

		assert.Equal(t, []string{f.cards[0], f.cards[1], n.ID}, f.chain(t, f.colA))
		assert.Len(t, c.Updates, 2)
		assert.Empty(t, f.store.nodes[n.ID].Child)
	})

	t.Run("versions advance once per transaction", func(t *testing.T) {
		f := newFixture(t, 1)
		before := f.store.nodes["b"].Version
		n, _, err := f.board.AddNode(ctx, Content{}, f.cards[0], "bob")
		require.NoError(t, err)

		assert.Equal(t, before+1, f.store.nodes["b"].Version)
		assert.Equal(t, before+1, n.Version)
		assert.Equal(t, before+1, n.OrigVersion)
		assert.Equal(t, before+1, f.store.nodes[f.cards[0]].Version)
	})

	t.Run("missing parent", func(t *testing.T) {
		f := newFixture(t, 0)
		_, _, err := f.board.AddNode(ctx, Content{}, "b|missing", "bob")
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("parent from another board", func(t *testing.T) {
		f := newFixture(t, 0)
		_, _, err := f.board.AddNode(ctx, Content{}, "other|x", "bob")
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})
}

func TestMoveNode(t *testing.T) {
	ctx := context.Background()

	t.Run("move first card to the end", func(t *testing.T) {
		f := newFixture(t, 3)
		c1, c2, c3 := f.cards[0], f.cards[1], f.cards[2]

		_, err := f.board.MoveNode(ctx, c1, c3)
		require.NoError(t, err)

		assert.Equal(t, []string{c2, c3, c1}, f.chain(t, f.colA))
		assert.Equal(t, f.colA, f.store.nodes[c2].Parent)
		assert.Equal(t, c3, f.store.nodes[c1].Parent)
		assert.Empty(t, f.store.nodes[c1].Child)
	})

	t.Run("adjacent move down touches each node once", func(t *testing.T) {
		f := newFixture(t, 3)
		c1, c2, c3 := f.cards[0], f.cards[1], f.cards[2]

		c, err := f.board.MoveNode(ctx, c1, c2)
		require.NoError(t, err)

		assert.Equal(t, []string{c2, c1, c3}, f.chain(t, f.colA))
		assert.ElementsMatch(t, []string{f.colA, c1, c2, c3}, ids(c.Updates))
	})

	t.Run("adjacent move up touches each node once", func(t *testing.T) {
		f := newFixture(t, 3)
		c1, c2, c3 := f.cards[0], f.cards[1], f.cards[2]

		c, err := f.board.MoveNode(ctx, c2, f.colA)
		require.NoError(t, err)

		assert.Equal(t, []string{c2, c1, c3}, f.chain(t, f.colA))
		assert.ElementsMatch(t, []string{f.colA, c1, c2, c3}, ids(c.Updates))
	})

	t.Run("move to current position is a pure read", func(t *testing.T) {
		f := newFixture(t, 3)
		txs := f.store.txs
		version := f.store.nodes["b"].Version

		c, err := f.board.MoveNode(ctx, f.cards[1], f.cards[0])
		require.NoError(t, err)

		assert.False(t, c.HasWrites())
		assert.Equal(t, txs, f.store.txs)
		assert.Equal(t, version, f.store.nodes["b"].Version)
	})

	t.Run("move across columns rewrites the column header", func(t *testing.T) {
		f := newFixture(t, 2)
		colB, _, err := f.board.AddNode(ctx, Content{"name": "B"}, "b", "tester")
		require.NoError(t, err)
		d1, _, err := f.board.AddNode(ctx, Content{}, colB.ID, "tester")
		require.NoError(t, err)

		c, err := f.board.MoveNode(ctx, f.cards[0], colB.ID)
		require.NoError(t, err)

		assert.Equal(t, []string{f.cards[1]}, f.chain(t, f.colA))
		assert.Equal(t, []string{f.cards[0], d1.ID}, f.chain(t, colB.ID))
		assert.Equal(t, colB.ID, f.store.nodes[f.cards[0]].ColumnHeaderID)
		assert.Len(t, c.Updates, 5)
	})

	t.Run("move and move back restores the chain", func(t *testing.T) {
		f := newFixture(t, 4)
		original := f.chain(t, f.colA)

		_, err := f.board.MoveNode(ctx, f.cards[1], f.cards[3])
		require.NoError(t, err)
		_, err = f.board.MoveNode(ctx, f.cards[1], f.cards[0])
		require.NoError(t, err)

		assert.Equal(t, original, f.chain(t, f.colA))
	})

	t.Run("rejects self reference", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.board.MoveNode(ctx, f.cards[0], f.cards[0])
		assert.ErrorIs(t, err, ErrInvalidMove)
	})

	t.Run("rejects moving a column", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.board.MoveNode(ctx, f.colA, f.cards[0])
		assert.ErrorIs(t, err, ErrInvalidMove)
	})

	t.Run("rejects the board root as target", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.board.MoveNode(ctx, f.cards[0], "b")
		assert.ErrorIs(t, err, ErrInvalidMove)
	})
}

func TestEditNode(t *testing.T) {
	ctx := context.Background()

	t.Run("applies operations in order", func(t *testing.T) {
		f := newFixture(t, 1)
		ops := []Operation{
			{Op: OpSet, Field: "text", Value: "hello"},
			{Op: OpIncr, Field: "votes", Value: 1},
			{Op: OpIncr, Field: "votes", Value: 2},
			{Op: OpSet, Field: "tmp", Value: true},
			{Op: OpDelete, Field: "tmp"},
		}
		c, err := f.board.EditNode(ctx, f.cards[0], ops, "", "")
		require.NoError(t, err)

		node := f.store.nodes[f.cards[0]]
		assert.Equal(t, "hello", node.Content["text"])
		assert.EqualValues(t, 3, node.Content["votes"])
		assert.NotContains(t, node.Content, "tmp")
		assert.Equal(t, []string{f.cards[0]}, ids(c.Updates))
	})

	t.Run("takes a lock when unlocked", func(t *testing.T) {
		f := newFixture(t, 1)
		c, err := f.board.EditNode(ctx, f.cards[0], nil, "tok", "")
		require.NoError(t, err)

		assert.Equal(t, []Lock{{NodeID: f.cards[0], Token: "tok"}}, c.Locks)
		assert.Empty(t, c.Updates)
		assert.Equal(t, "tok", f.store.locks[f.cards[0]])
	})

	t.Run("locked node without unlock token fails", func(t *testing.T) {
		f := newFixture(t, 1)
		f.store.locks[f.cards[0]] = "tok"
		_, err := f.board.EditNode(ctx, f.cards[0], []Operation{{Op: OpSet, Field: "x", Value: 1}}, "", "")
		assert.ErrorIs(t, err, ErrNodeLocked)
	})

	t.Run("wrong unlock token fails", func(t *testing.T) {
		f := newFixture(t, 1)
		f.store.locks[f.cards[0]] = "tok"
		_, err := f.board.EditNode(ctx, f.cards[0], []Operation{{Op: OpSet, Field: "x", Value: 1}}, "", "nope")
		assert.ErrorIs(t, err, ErrUnlockFailure)
		assert.Equal(t, "tok", f.store.locks[f.cards[0]])
	})

	t.Run("matching unlock token edits and releases", func(t *testing.T) {
		f := newFixture(t, 1)
		f.store.locks[f.cards[0]] = "tok"
		c, err := f.board.EditNode(ctx, f.cards[0], []Operation{{Op: OpSet, Field: "x", Value: 1}}, "", "tok")
		require.NoError(t, err)

		assert.Equal(t, []string{f.cards[0]}, c.Unlocks)
		assert.Empty(t, f.store.locks)
		assert.EqualValues(t, 1, f.store.nodes[f.cards[0]].Content["x"])
	})

	t.Run("unlock token on an unlocked node is harmless", func(t *testing.T) {
		f := newFixture(t, 1)
		c, err := f.board.EditNode(ctx, f.cards[0], []Operation{{Op: OpSet, Field: "x", Value: 1}}, "", "tok")
		require.NoError(t, err)
		assert.Empty(t, c.Unlocks)
	})

	t.Run("unsupported operation", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.board.EditNode(ctx, f.cards[0], []Operation{{Op: "APPEND", Field: "x"}}, "", "")
		assert.ErrorIs(t, err, ErrUnsupportedOperation)
	})
}

func TestLockAndUnlockNode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	id := f.cards[0]

	_, err := f.board.LockNode(ctx, id, "tok")
	require.NoError(t, err)

	_, err = f.board.LockNode(ctx, id, "other")
	assert.ErrorIs(t, err, ErrLockFailure)

	_, err = f.board.UnlockNode(ctx, id, "other")
	assert.ErrorIs(t, err, ErrUnlockFailure)

	c, err := f.board.UnlockNode(ctx, id, "tok")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, c.Unlocks)

	c, err = f.board.UnlockNode(ctx, id, "tok")
	require.NoError(t, err)
	assert.False(t, c.HasWrites())
}

func TestRemoveNode(t *testing.T) {
	ctx := context.Background()

	t.Run("non-cascade closes the gap", func(t *testing.T) {
		f := newFixture(t, 4)
		c1, c2, c3, c4 := f.cards[0], f.cards[1], f.cards[2], f.cards[3]

		c, err := f.board.RemoveNode(ctx, c2, false)
		require.NoError(t, err)

		assert.Equal(t, []string{c1, c3, c4}, f.chain(t, f.colA))
		assert.Equal(t, []string{c2}, ids(c.Deletes))
		assert.ElementsMatch(t, []string{c1, c3}, ids(c.Updates))
	})

	t.Run("cascade removes everything below", func(t *testing.T) {
		f := newFixture(t, 4)
		c1, c2, c3, c4 := f.cards[0], f.cards[1], f.cards[2], f.cards[3]

		c, err := f.board.RemoveNode(ctx, c2, true)
		require.NoError(t, err)

		assert.Equal(t, []string{c1}, f.chain(t, f.colA))
		assert.ElementsMatch(t, []string{c2, c3, c4}, ids(c.Deletes))
		assert.Equal(t, []string{c1}, ids(c.Updates))
		for _, id := range []string{c2, c3, c4} {
			assert.NotContains(t, f.store.nodes, id)
		}
	})

	t.Run("cascade on a column removes it from the board", func(t *testing.T) {
		f := newFixture(t, 2)
		c, err := f.board.RemoveNode(ctx, f.colA, true)
		require.NoError(t, err)

		assert.Len(t, c.Deletes, 3)
		assert.Empty(t, f.store.nodes["b"].Children)
		assert.Len(t, f.store.nodes, 1)
	})

	t.Run("non-cascade on a non-empty column fails", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.board.RemoveNode(ctx, f.colA, false)
		assert.ErrorIs(t, err, ErrColumnNotEmpty)
	})

	t.Run("non-cascade on an empty column", func(t *testing.T) {
		f := newFixture(t, 0)
		_, err := f.board.RemoveNode(ctx, f.colA, false)
		require.NoError(t, err)
		assert.Empty(t, f.store.nodes["b"].Children)
	})

	t.Run("root cannot be removed", func(t *testing.T) {
		f := newFixture(t, 0)
		_, err := f.board.RemoveNode(ctx, "b", true)
		assert.ErrorIs(t, err, ErrInvalidRemove)
	})
}

func TestNodesAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	colB, _, err := f.board.AddNode(ctx, Content{"name": "B"}, "b", "tester")
	require.NoError(t, err)
	_, _, err = f.board.AddNode(ctx, Content{}, colB.ID, "tester")
	require.NoError(t, err)

	// root + 2 columns + 4 cards
	nodes, err := f.board.Nodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 7)
	assert.Equal(t, "b", nodes[0].ID)

	_, err = f.board.RemoveNode(ctx, f.cards[1], false)
	require.NoError(t, err)
	nodes, err = f.board.Nodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 6)

	c, err := f.board.Delete(ctx)
	require.NoError(t, err)
	assert.Len(t, c.Deletes, 6)
	assert.Empty(t, f.store.nodes)
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	exported, err := f.board.Nodes(ctx)
	require.NoError(t, err)
	rootVersion := exported[0].Version

	st := newFakeStore()
	st.nodes["b"] = exported[0].Clone()
	b := New("b", st)

	imported, err := b.Import(ctx, exported, false)
	require.NoError(t, err)
	require.Len(t, imported, len(exported))
	for i, n := range imported {
		assert.Equal(t, exported[i].ID, n.ID)
		assert.Equal(t, rootVersion+1, n.Version)
		assert.Equal(t, exported[i].OrigVersion, n.OrigVersion)
	}
	assert.Equal(t, exported[1].Child, st.nodes[exported[1].ID].Child)

	_, err = b.Import(ctx, exported, false)
	assert.ErrorIs(t, err, ErrExistingNode)

	imported, err = b.Import(ctx, exported, true)
	require.NoError(t, err)
	assert.Equal(t, rootVersion+2, imported[0].Version)

	t.Run("foreign nodes are rejected", func(t *testing.T) {
		foreign := exported[1].Clone()
		foreign.ID = "other|x"
		_, err := b.Import(ctx, []*Node{exported[0], foreign}, true)
		assert.Error(t, err)
	})

	t.Run("the root must be included", func(t *testing.T) {
		_, err := b.Import(ctx, exported[1:], true)
		assert.Error(t, err)
	})
}
