package store

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInMemoryBadger(t *testing.T) *BadgerStore {
	t.Helper()
	st, err := NewBadgerStoreWithOptions(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestBadgerStoreBasicOperations(t *testing.T) {
	st := newInMemoryBadger(t)

	node, err := st.Upsert("Photosynthesis", []float32{0.1, 0.9})
	require.NoError(t, err)
	assert.Equal(t, "photosynthesis", node.ID)
	assert.EqualValues(t, 1, node.EncounterCount)

	_, err = st.Upsert("chlorophyll", []float32{0.2, 0.8})
	require.NoError(t, err)
	linked, err := st.Link("photosynthesis", "chlorophyll", 0.85)
	require.NoError(t, err)
	require.True(t, linked)

	neighbors, err := st.Neighbors("photosynthesis")
	require.NoError(t, err)
	assert.Len(t, neighbors, 1)
}

func TestBadgerStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	st, err := NewBadgerStore(dir, nil)
	require.NoError(t, err)

	node, err := st.Upsert("persistence", []float32{1, 0})
	require.NoError(t, err)
	_, err = st.Upsert("durability", []float32{0, 1})
	require.NoError(t, err)
	_, err = st.Link("persistence", "durability", 0.75)
	require.NoError(t, err)

	node.MemoryScore = 0.55
	node.Repetitions = 2
	require.NoError(t, st.Update(node))
	require.NoError(t, st.Close())

	// Reopen: the graph must come back, including schedule state.
	reopened, err := NewBadgerStore(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("persistence")
	require.NoError(t, err)
	assert.InDelta(t, 0.55, got.MemoryScore, 1e-9)
	assert.Equal(t, 2, got.Repetitions)

	edges, err := reopened.AllEdges()
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.InDelta(t, 0.75, edges[0].Weight, 1e-9)
}

func TestBadgerStoreDeleteRemovesFromDisk(t *testing.T) {
	dir := t.TempDir()

	st, err := NewBadgerStore(dir, nil)
	require.NoError(t, err)
	_, err = st.Upsert("ephemeral", nil)
	require.NoError(t, err)
	_, err = st.Upsert("anchor", nil)
	require.NoError(t, err)
	_, err = st.Link("ephemeral", "anchor", 0.9)
	require.NoError(t, err)

	require.NoError(t, st.Delete("ephemeral"))
	require.NoError(t, st.Close())

	reopened, err := NewBadgerStore(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.Get("ephemeral")
	assert.ErrorIs(t, err, ErrNotFound)
	edges, _ := reopened.AllEdges()
	assert.Empty(t, edges)
}

func TestBadgerStoreSnapshotRoundTrip(t *testing.T) {
	st := newInMemoryBadger(t)
	path := filepath.Join(t.TempDir(), "graph.json")

	_, err := st.Upsert("alpha", []float32{1, 0})
	require.NoError(t, err)
	_, err = st.Upsert("beta", []float32{0, 1})
	require.NoError(t, err)
	_, err = st.Link("alpha", "beta", 0.8)
	require.NoError(t, err)
	_, err = st.Link("alpha", "beta", 0.8)
	require.NoError(t, err)

	require.NoError(t, st.SaveSnapshot(path))

	other := newInMemoryBadger(t)
	require.NoError(t, other.LoadSnapshot(path))

	edges, err := other.AllEdges()
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.True(t, math.Abs(edges[0].Weight-1.6) < 1e-9, "edge weight should round-trip accumulated value")
}
