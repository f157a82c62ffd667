package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/contexthub/internal/store"
)

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := store.New(db)

	ctx := t.Context()
	_, err = s.Create(ctx, store.CreateRequest{Level: store.LevelBranch, ID: "b1", ParentID: "p1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, store.CreateRequest{Level: store.LevelTask, ID: "t1", ParentID: "b1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, store.CreateRequest{Level: store.LevelTask, ID: "t2", ParentID: "b1"})
	require.NoError(t, err)
	return s
}

func newRefresher(t *testing.T, s *store.Store) (*Cache, *Refresher) {
	t.Helper()
	c := New()
	r, err := NewRefresher(c, s, s.DB(), time.Minute, time.Minute)
	require.NoError(t, err)
	return c, r
}

func TestRefreshEntityBranchTaskCount(t *testing.T) {
	s := seededStore(t)
	_, r := newRefresher(t, s)

	sum, err := r.RefreshEntity(t.Context(), store.Ref{Level: store.LevelBranch, ID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TaskCount)
}

func TestRefreshEntityProjectAggregates(t *testing.T) {
	s := seededStore(t)
	_, r := newRefresher(t, s)

	sum, err := r.RefreshEntity(t.Context(), store.Ref{Level: store.LevelProject, ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.BranchCount)
	assert.Equal(t, 2, sum.TaskCount)
}

func TestRefreshAllMarksRun(t *testing.T) {
	s := seededStore(t)
	c, r := newRefresher(t, s)

	require.NoError(t, r.RefreshAll(t.Context()))

	_, ok := c.Get(SummaryKey(store.Ref{Level: store.LevelBranch, ID: "b1"}))
	assert.True(t, ok)

	_, ran, err := s.DB().RefreshRunAt(t.Context(), "summary-refresh")
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestSummariesSnapshotForOwner(t *testing.T) {
	s := seededStore(t)
	_, r := newRefresher(t, s)

	sums, err := r.Summaries(t.Context(), store.DefaultOwner)
	require.NoError(t, err)
	// One project summary plus one branch summary.
	require.Len(t, sums, 2)

	sums, err = r.Summaries(t.Context(), "someone-else")
	require.NoError(t, err)
	assert.Empty(t, sums)
}
