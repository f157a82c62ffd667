package daemon

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/contexthub/internal/batch"
	"git.home.luguber.info/inful/contexthub/internal/cache"
	"git.home.luguber.info/inful/contexthub/internal/cascade"
	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
	"git.home.luguber.info/inful/contexthub/internal/protocol"
	"git.home.luguber.info/inful/contexthub/internal/store"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recordingSink) Deliver(_ string, msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingSink) all() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func newEngine(t *testing.T) (*Engine, *recordingSink) {
	t.Helper()
	db, err := store.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := cache.New()
	st := store.New(db, store.WithCache(c, time.Minute))
	refresher, err := cache.NewRefresher(c, st, db, time.Minute, time.Minute)
	require.NoError(t, err)

	sink := &recordingSink{}
	batcher, err := batch.NewProcessor(batch.Config{Window: time.Hour, MaxSize: 50}, sink, nil)
	require.NoError(t, err)

	return NewEngine(st, cascade.New(), refresher, batcher, nil, nil, nil), sink
}

func TestApplyCreateThenResolve(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := t.Context()

	_, err := eng.Apply(ctx, Request{Action: "create", Level: "task", ID: "t1", ParentID: "b1",
		Data: store.Document{"status": "open"}})
	require.NoError(t, err)

	res, err := eng.Apply(ctx, Request{Action: "resolve", Level: "task", ID: "t1"})
	require.NoError(t, err)
	require.NotNil(t, res.Resolved)
	assert.Len(t, res.Resolved.Chain, 4)
	assert.Equal(t, "open", res.Resolved.Data["status"])
}

func TestApplyUserUpdateDeliversImmediately(t *testing.T) {
	eng, sink := newEngine(t)
	ctx := t.Context()

	_, err := eng.Apply(ctx, Request{Action: "update", Level: "branch", ID: "b1",
		Data: store.Document{"status": "active"}, Source: protocol.SourceUser})
	require.NoError(t, err)

	msgs := sink.all()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, protocol.TypeUpdate, last.Type)
	assert.Equal(t, "branch:b1", last.Payload.Entity)
	assert.Equal(t, protocol.SourceUser, last.Metadata.Source)
}

func TestApplyTaskUpdateCascadesToBranchAndProject(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := t.Context()

	_, err := eng.Apply(ctx, Request{Action: "create", Level: "branch", ID: "b1", ParentID: "p1"})
	require.NoError(t, err)
	res, err := eng.Apply(ctx, Request{Action: "create", Level: "task", ID: "t1", ParentID: "b1"})
	require.NoError(t, err)

	refs := map[store.Ref]bool{}
	for _, a := range res.Affected {
		refs[a.Ref] = true
	}
	assert.True(t, refs[store.Ref{Level: store.LevelBranch, ID: "b1"}])
	assert.True(t, refs[store.Ref{Level: store.LevelProject, ID: "p1"}])
}

func TestApplyUnknownActionIsValidationError(t *testing.T) {
	eng, _ := newEngine(t)

	_, err := eng.Apply(t.Context(), Request{Action: "compact", Level: "task", ID: "t1"})
	require.Error(t, err)
	cerr, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.CategoryValidation, cerr.Category())
}

func TestApplyDeleteWithoutCascadeConflicts(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := t.Context()

	_, err := eng.Apply(ctx, Request{Action: "create", Level: "task", ID: "t1", ParentID: "b1"})
	require.NoError(t, err)

	_, err = eng.Apply(ctx, Request{Action: "delete", Level: "branch", ID: "b1"})
	require.Error(t, err)
	cerr, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.CategoryConflict, cerr.Category())

	res, err := eng.Apply(ctx, Request{Action: "delete", Level: "branch", ID: "b1", Cascade: true})
	require.NoError(t, err)
	require.NotNil(t, res.Deleted)
	assert.Len(t, res.Deleted.Deleted, 2)
}

func TestApplyBranchDeleteRecomputesProjectAggregate(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := t.Context()

	_, err := eng.Apply(ctx, Request{Action: "create", Level: "branch", ID: "b1", ParentID: "p1"})
	require.NoError(t, err)
	_, err = eng.Apply(ctx, Request{Action: "create", Level: "task", ID: "t1", ParentID: "b1"})
	require.NoError(t, err)
	_, err = eng.Apply(ctx, Request{Action: "create", Level: "task", ID: "t2", ParentID: "b1"})
	require.NoError(t, err)

	res, err := eng.Apply(ctx, Request{Action: "delete", Level: "branch", ID: "b1", Cascade: true})
	require.NoError(t, err)

	// The subtree is gone but the surviving project's aggregate must be
	// recomputed exactly once.
	projects := 0
	for _, a := range res.Affected {
		if a.Ref == (store.Ref{Level: store.LevelProject, ID: "p1"}) {
			projects++
		}
	}
	assert.Equal(t, 1, projects)
}

func TestApplyAddInsightBootstraps(t *testing.T) {
	eng, _ := newEngine(t)

	res, err := eng.Apply(t.Context(), Request{Action: "add_insight", Level: "branch", ID: "b9",
		Data: store.Document{"note": "flaky integration suite"}})
	require.NoError(t, err)
	require.NotNil(t, res.LogEntry)
	assert.Equal(t, int64(1), res.LogEntry.Seq)
}
