package store

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	db, err := OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	if len(opts) == 0 {
		opts = []Option{WithTimeout(10 * time.Second)}
	}
	return New(db, opts...)
}

// prefixCache is a minimal ResolutionCache for exercising eviction paths.
type prefixCache struct {
	mu      sync.Mutex
	entries map[string]any
}

func newPrefixCache() *prefixCache { return &prefixCache{entries: map[string]any{}} }

func (c *prefixCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *prefixCache) Set(key string, value any, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

func (c *prefixCache) InvalidatePattern(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func TestCreateBootstrapsHierarchy(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	// No explicit global context is created beforehand.
	_, err := s.Create(ctx, CreateRequest{Level: LevelProject, ID: "p1", Data: Document{"stack": "go"}})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateRequest{Level: LevelBranch, ID: "b1", ParentID: "p1", Data: Document{"focus": "sync"}})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateRequest{Level: LevelTask, ID: "t1", ParentID: "b1", Data: Document{"title": "x"}})
	require.NoError(t, err)

	resolved, err := s.Resolve(ctx, LevelTask, "t1", false)
	require.NoError(t, err)

	assert.Equal(t, "x", resolved.Data["title"])
	assert.Equal(t, "go", resolved.Data["stack"])
	assert.Equal(t, "sync", resolved.Data["focus"])

	// Chain is root-to-leaf: global, project, branch, task.
	require.Len(t, resolved.Chain, 4)
	assert.Equal(t, LevelGlobal, resolved.Chain[0].Level)
	assert.Equal(t, LevelTask, resolved.Chain[3].Level)
}

func TestCreateTaskWithoutBranchFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(t.Context(), CreateRequest{Level: LevelTask, ID: "t1"})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestCreateDuplicateConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.Create(ctx, CreateRequest{Level: LevelProject, ID: "p1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateRequest{Level: LevelProject, ID: "p1"})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConflict))
}

func TestValidateIDRejectsEmptyAndPadded(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	for _, id := range []string{"", "  ", " p1", "p1 "} {
		_, err := s.Create(ctx, CreateRequest{Level: LevelProject, ID: id})
		require.Error(t, err, "id %q", id)
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	}
}

func TestResolveScalarOverrideOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.Update(ctx, LevelGlobal, DefaultOwner, Document{"editor": "vim", "tabs": 8}, true)
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateRequest{Level: LevelProject, ID: "p1", Data: Document{"tabs": 4}})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateRequest{Level: LevelBranch, ID: "b1", ParentID: "p1", Data: Document{}})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateRequest{Level: LevelTask, ID: "t1", ParentID: "b1", Data: Document{"tabs": 2}})
	require.NoError(t, err)

	resolved, err := s.Resolve(ctx, LevelTask, "t1", true)
	require.NoError(t, err)
	// Task overrides branch/project/global; untouched global fields inherit.
	assert.EqualValues(t, 2, normalizeNumber(resolved.Data["tabs"]))
	assert.Equal(t, "vim", resolved.Data["editor"])
}

// normalizeNumber flattens int/float64 differences from JSON round-trips.
func normalizeNumber(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return -1
}

func TestResolveIdempotentUnderForceRefresh(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.Create(ctx, CreateRequest{Level: LevelProject, ID: "p1", Data: Document{"stack": "go"}})
	require.NoError(t, err)

	first, err := s.Resolve(ctx, LevelProject, "p1", true)
	require.NoError(t, err)
	second, err := s.Resolve(ctx, LevelProject, "p1", true)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveGlobalAutoCreates(t *testing.T) {
	s := newTestStore(t)

	resolved, err := s.Resolve(t.Context(), LevelGlobal, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, "alice", resolved.ID)
	require.Len(t, resolved.Chain, 1)
}

func TestGlobalContextsAreIsolatedPerOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.Update(ctx, LevelGlobal, "alice", Document{"secret": "a"}, true)
	require.NoError(t, err)
	_, err = s.Update(ctx, LevelGlobal, "bob", Document{"secret": "b"}, true)
	require.NoError(t, err)

	a, err := s.Resolve(ctx, LevelGlobal, "alice", true)
	require.NoError(t, err)
	b, err := s.Resolve(ctx, LevelGlobal, "bob", true)
	require.NoError(t, err)
	assert.Equal(t, "a", a.Data["secret"])
	assert.Equal(t, "b", b.Data["secret"])

	rec, _, err := s.Get(ctx, LevelGlobal, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.ID)
	assert.Equal(t, "alice", rec.OwnerID)
}

func TestInvalidationHookFiresAfterEvictingWrite(t *testing.T) {
	var (
		mu      sync.Mutex
		refs    []Ref
		counted int
	)
	s := newTestStore(t,
		WithTimeout(10*time.Second),
		WithCache(newPrefixCache(), time.Minute),
		WithInvalidationHook(func(ref Ref, evicted int) {
			mu.Lock()
			defer mu.Unlock()
			refs = append(refs, ref)
			counted += evicted
		}))
	ctx := t.Context()

	_, err := s.Create(ctx, CreateRequest{Level: LevelProject, ID: "p1", Data: Document{"a": 1}})
	require.NoError(t, err)

	// Populate the resolution cache, then write through it.
	_, err = s.Resolve(ctx, LevelProject, "p1", false)
	require.NoError(t, err)
	_, err = s.Update(ctx, LevelProject, "p1", Document{"a": 2}, true)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, refs, 1)
	assert.Equal(t, Ref{Level: LevelProject, ID: "p1"}, refs[0])
	assert.Positive(t, counted)
}

func TestUpdateMergeAndReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.Create(ctx, CreateRequest{Level: LevelProject, ID: "p1", Data: Document{"a": 1, "b": 2}})
	require.NoError(t, err)

	rec, err := s.Update(ctx, LevelProject, "p1", Document{"b": 3}, true)
	require.NoError(t, err)
	assert.Contains(t, rec.Data, "a")
	assert.EqualValues(t, 3, normalizeNumber(rec.Data["b"]))

	rec, err = s.Update(ctx, LevelProject, "p1", Document{"c": 4}, false)
	require.NoError(t, err)
	assert.NotContains(t, rec.Data, "a")
	assert.Contains(t, rec.Data, "c")
}

func TestDeleteWithChildrenConflictsThenCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.Create(ctx, CreateRequest{Level: LevelBranch, ID: "b1", ParentID: "p1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateRequest{Level: LevelTask, ID: "t1", ParentID: "b1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateRequest{Level: LevelTask, ID: "t2", ParentID: "b1"})
	require.NoError(t, err)
	_, err = s.AddInsight(ctx, LevelTask, "t1", Document{"note": "flaky test"})
	require.NoError(t, err)

	_, err = s.Delete(ctx, LevelBranch, "b1", false)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConflict))

	result, err := s.Delete(ctx, LevelBranch, "b1", true)
	require.NoError(t, err)
	require.Len(t, result.Deleted, 3)

	// Tasks and their append-only logs are gone.
	_, _, err = s.Get(ctx, LevelTask, "t1", false)
	require.Error(t, err)
	logs, err := s.Logs(ctx, LevelTask, "t1", LogInsight)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestConcurrentAddInsightLosesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.Create(ctx, CreateRequest{Level: LevelBranch, ID: "b1", ParentID: "p1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateRequest{Level: LevelTask, ID: "t1", ParentID: "b1"})
	require.NoError(t, err)

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.AddInsight(ctx, LevelTask, "t1", Document{"writer": n})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	logs, err := s.Logs(ctx, LevelTask, "t1", LogInsight)
	require.NoError(t, err)
	require.Len(t, logs, writers)

	// Every entry is distinct and sequences are strictly increasing.
	seen := map[int64]bool{}
	for _, le := range logs {
		assert.False(t, seen[le.Seq], "duplicate sequence %d", le.Seq)
		seen[le.Seq] = true
	}
}

func TestResolveConcatenatesAncestorLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.Create(ctx, CreateRequest{Level: LevelBranch, ID: "b1", ParentID: "p1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateRequest{Level: LevelTask, ID: "t1", ParentID: "b1"})
	require.NoError(t, err)

	_, err = s.AddInsight(ctx, LevelBranch, "b1", Document{"note": "branch-first"})
	require.NoError(t, err)
	_, err = s.AddInsight(ctx, LevelTask, "t1", Document{"note": "task-first"})
	require.NoError(t, err)
	_, err = s.AddInsight(ctx, LevelTask, "t1", Document{"note": "task-second"})
	require.NoError(t, err)

	resolved, err := s.Resolve(ctx, LevelTask, "t1", true)
	require.NoError(t, err)
	require.Len(t, resolved.Insights, 3)
	// Root-to-leaf, then oldest-first within each context.
	assert.Equal(t, "branch-first", resolved.Insights[0].Entry["note"])
	assert.Equal(t, "task-first", resolved.Insights[1].Entry["note"])
	assert.Equal(t, "task-second", resolved.Insights[2].Entry["note"])
}

func TestDelegatePushesDataUpWithAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.Create(ctx, CreateRequest{Level: LevelBranch, ID: "b1", ParentID: "p1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateRequest{Level: LevelTask, ID: "t1", ParentID: "b1"})
	require.NoError(t, err)

	target, delegation, err := s.Delegate(ctx, LevelTask, "t1", LevelProject,
		Document{"discovered_flag": true}, "applies to all branches")
	require.NoError(t, err)
	assert.Equal(t, "p1", target.ID)
	assert.Equal(t, true, target.Data["discovered_flag"])
	assert.Equal(t, "applies to all branches", delegation.Reason)

	audit, err := s.Delegations(ctx, LevelTask, "t1")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, LevelProject, audit[0].ToLevel)
}

func TestDelegateDownwardRejected(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Delegate(t.Context(), LevelProject, "p1", LevelTask, Document{"x": 1}, "nope")
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestListByParent(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.Create(ctx, CreateRequest{Level: LevelBranch, ID: "b1", ParentID: "p1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateRequest{Level: LevelTask, ID: "t1", ParentID: "b1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateRequest{Level: LevelTask, ID: "t2", ParentID: "b1"})
	require.NoError(t, err)

	tasks, err := s.List(ctx, LevelTask, "b1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t1", tasks[0].ID)
}

func TestRefreshRunTracking(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, ok, err := s.DB().RefreshRunAt(ctx, "summaries")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.DB().MarkRefreshRun(ctx, "summaries"))
	at, ok, err := s.DB().RefreshRunAt(ctx, "summaries")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), at, time.Minute)
}
