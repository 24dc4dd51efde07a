package board

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeStore is a minimal Transactor that commits changes the same way the
// real stores do: one version bump per committing transaction.
type fakeStore struct {
	mu    sync.Mutex
	nodes map[string]*Node
	locks map[string]string
	txs   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{nodes: map[string]*Node{}, locks: map[string]string{}}
}

func (f *fakeStore) GetNode(_ context.Context, id string) (*Node, error) {
	n, ok := f.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n.Clone(), nil
}

func (f *fakeStore) GetNodeLock(_ context.Context, id string) (string, error) {
	return f.locks[id], nil
}

func (f *fakeStore) Transaction(ctx context.Context, boardID string, fn TxFunc) (*Changes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, err := fn(ctx, f)
	if err != nil {
		return nil, err
	}
	if !c.HasWrites() {
		return c, nil
	}
	root, ok := f.nodes[boardID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, boardID)
	}
	version := root.Version + 1
	for _, n := range c.Deletes {
		delete(f.nodes, n.ID)
		delete(f.locks, n.ID)
	}
	for _, n := range c.Updates {
		n.Version = version
		if n.OrigVersion == 0 {
			n.OrigVersion = version
		}
		f.nodes[n.ID] = n.Clone()
	}
	for _, l := range c.Locks {
		f.locks[l.NodeID] = l.Token
	}
	for _, id := range c.Unlocks {
		delete(f.locks, id)
	}
	if root, ok := f.nodes[boardID]; ok {
		root.Version = version
	}
	f.txs++
	return c, nil
}

func (f *fakeStore) addBoard(id string) {
	f.nodes[id] = NewBoardNode(id, Content{"name": id}, "tester", 1000)
}

// sequentialIDs returns an IDGenerator producing n1, n2, ...
func sequentialIDs() IDGenerator {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		i++
		return "n" + strconv.Itoa(i)
	}
}

// fixture is a board "b" with column A holding cards c1 -> c2 -> c3.
type fixture struct {
	store *fakeStore
	board *Board
	colA  string
	cards []string
}

func newFixture(t *testing.T, cards int) *fixture {
	t.Helper()
	ctx := context.Background()
	st := newFakeStore()
	st.addBoard("b")
	b := New("b", st, WithIDGenerator(sequentialIDs()), WithClock(func() time.Time { return time.UnixMilli(5000) }))

	col, _, err := b.AddNode(ctx, Content{"name": "A"}, "b", "tester")
	require.NoError(t, err)

	f := &fixture{store: st, board: b, colA: col.ID}
	parent := col.ID
	for i := 1; i <= cards; i++ {
		card, _, err := b.AddNode(ctx, Content{"text": "c" + strconv.Itoa(i)}, parent, "tester")
		require.NoError(t, err)
		f.cards = append(f.cards, card.ID)
		parent = card.ID
	}
	return f
}

// chain returns the card ids of a column in chain order.
func (f *fixture) chain(t *testing.T, columnID string) []string {
	t.Helper()
	var out []string
	n := f.store.nodes[columnID]
	seen := map[string]bool{}
	for n.Child != "" {
		require.False(t, seen[n.Child], "cycle at %s", n.Child)
		seen[n.Child] = true
		child := f.store.nodes[n.Child]
		require.NotNil(t, child, "dangling child %s", n.Child)
		require.Equal(t, n.ID, child.Parent, "broken back link at %s", child.ID)
		out = append(out, child.ID)
		n = child
	}
	return out
}

func ids(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}
