package daemon

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/contexthub/internal/batch"
	"git.home.luguber.info/inful/contexthub/internal/cache"
	"git.home.luguber.info/inful/contexthub/internal/cascade"
	"git.home.luguber.info/inful/contexthub/internal/events"
	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
	"git.home.luguber.info/inful/contexthub/internal/logfields"
	"git.home.luguber.info/inful/contexthub/internal/metrics"
	"git.home.luguber.info/inful/contexthub/internal/protocol"
	"git.home.luguber.info/inful/contexthub/internal/store"
)

// Announcer mirrors the broker publisher; nil disables announcements.
type Announcer interface {
	Publish(ctx context.Context, owner string, msg protocol.Message)
}

// Request is one context operation, as received from the HTTP API or an
// inbound websocket envelope.
type Request struct {
	Action   string         `json:"action"`
	Level    string         `json:"level"`
	ID       string         `json:"context_id"`
	ParentID string         `json:"parent_id,omitempty"`
	Owner    string         `json:"owner,omitempty"`
	Data     store.Document `json:"data,omitempty"`

	// Update behavior: merge (default) or full replace.
	Replace bool `json:"replace,omitempty"`
	// Delete behavior.
	Cascade bool `json:"cascade,omitempty"`
	// Get/resolve behavior.
	IncludeInherited bool `json:"include_inherited,omitempty"`
	ForceRefresh     bool `json:"force_refresh,omitempty"`
	// Delegate target.
	TargetLevel string `json:"target_level,omitempty"`
	Reason      string `json:"reason,omitempty"`

	// Propagate controls the post-commit pipeline; nil means true.
	Propagate *bool `json:"propagate_changes,omitempty"`

	// Source selects the delivery lane. Unset means user.
	Source protocol.Source `json:"source,omitempty"`
}

// Result carries whichever outputs the action produced.
type Result struct {
	Record     *store.Record       `json:"record,omitempty"`
	Records    []store.Record      `json:"records,omitempty"`
	Resolved   *store.Resolved     `json:"resolved,omitempty"`
	Deleted    *store.DeleteResult `json:"deleted,omitempty"`
	LogEntry   *store.LogEntry     `json:"log_entry,omitempty"`
	Delegation *store.Delegation   `json:"delegation,omitempty"`
	Affected   []cascade.Affected  `json:"affected,omitempty"`
}

// Engine is the write-path orchestrator: it applies an operation to the
// store, computes cascade effects, refreshes derived summaries, and hands
// the change to the delivery pipeline.
type Engine struct {
	store     *store.Store
	calc      *cascade.Calculator
	refresher *cache.Refresher
	batcher   *batch.Processor
	bus       *events.Bus
	announce  Announcer
	metrics   metrics.Recorder
}

func NewEngine(s *store.Store, calc *cascade.Calculator, r *cache.Refresher,
	b *batch.Processor, bus *events.Bus, ann Announcer, rec metrics.Recorder) *Engine {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Engine{
		store:     s,
		calc:      calc,
		refresher: r,
		batcher:   b,
		bus:       bus,
		announce:  ann,
		metrics:   rec,
	}
}

// Apply executes one operation end to end.
func (e *Engine) Apply(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	res, err := e.dispatch(ctx, req)
	e.metrics.ObserveOperationDuration(req.Action, time.Since(started))
	e.metrics.IncOperationOutcome(req.Action, outcomeOf(err))
	if err != nil {
		return nil, err
	}

	if action, mutating := mutatingAction(req.Action); mutating {
		if req.Propagate == nil || *req.Propagate {
			e.propagate(ctx, req, res, action)
		}
	}
	return res, nil
}

func (e *Engine) dispatch(ctx context.Context, req Request) (*Result, error) {
	level, err := store.ParseLevel(req.Level)
	if err != nil && req.Action != "list" {
		return nil, err
	}

	switch req.Action {
	case "create":
		rec, err := e.store.Create(ctx, store.CreateRequest{
			Level:    level,
			ID:       req.ID,
			ParentID: req.ParentID,
			OwnerID:  req.Owner,
			Data:     req.Data,
		})
		if err != nil {
			return nil, err
		}
		return &Result{Record: rec}, nil

	case "get":
		rec, resolved, err := e.store.Get(ctx, level, req.ID, req.IncludeInherited)
		if err != nil {
			return nil, err
		}
		return &Result{Record: rec, Resolved: resolved}, nil

	case "update":
		rec, err := e.store.Update(ctx, level, req.ID, req.Data, !req.Replace)
		if err != nil {
			return nil, err
		}
		return &Result{Record: rec}, nil

	case "delete":
		deleted, err := e.store.Delete(ctx, level, req.ID, req.Cascade)
		if err != nil {
			return nil, err
		}
		return &Result{Deleted: deleted}, nil

	case "resolve":
		resolved, err := e.store.Resolve(ctx, level, req.ID, req.ForceRefresh)
		if err != nil {
			return nil, err
		}
		e.metrics.ObserveResolveChainDepth(len(resolved.Chain))
		return &Result{Resolved: resolved}, nil

	case "delegate":
		target, err := store.ParseLevel(req.TargetLevel)
		if err != nil {
			return nil, ferrors.ValidationError("malformed delegation target level").
				WithContext("target_level", req.TargetLevel).Build()
		}
		rec, del, err := e.store.Delegate(ctx, level, req.ID, target, req.Data, req.Reason)
		if err != nil {
			return nil, err
		}
		return &Result{Record: rec, Delegation: del}, nil

	case "add_insight":
		entry, err := e.store.AddInsight(ctx, level, req.ID, req.Data)
		if err != nil {
			return nil, err
		}
		return &Result{LogEntry: entry}, nil

	case "add_progress":
		entry, err := e.store.AddProgress(ctx, level, req.ID, req.Data)
		if err != nil {
			return nil, err
		}
		return &Result{LogEntry: entry}, nil

	case "list":
		lv := store.LevelProject
		if req.Level != "" {
			lv, err = store.ParseLevel(req.Level)
			if err != nil {
				return nil, err
			}
		}
		records, err := e.store.List(ctx, lv, req.ParentID)
		if err != nil {
			return nil, err
		}
		return &Result{Records: records}, nil

	default:
		return nil, ferrors.ValidationError("unknown action").
			WithContext("action", req.Action).Build()
	}
}

// propagate runs the post-commit pipeline: cascade calculation, summary
// refresh, delivery, and broker announcement. Failures here are logged, not
// returned; the write already committed.
func (e *Engine) propagate(ctx context.Context, req Request, res *Result, action cascade.Action) {
	change := e.changeFor(ctx, req, res, action)
	affected := e.calc.Affected(change)
	res.Affected = affected

	if e.refresher != nil {
		for _, a := range affected {
			if _, err := e.refresher.RefreshEntity(ctx, a.Ref); err != nil {
				slog.Warn("cascade summary refresh failed",
					logfields.Level(string(a.Ref.Level)),
					logfields.ContextID(a.Ref.ID),
					logfields.Error(err))
			}
		}
	}

	owner := req.Owner
	if owner == "" {
		owner = store.DefaultOwner
	}
	source := req.Source
	if source == "" {
		source = protocol.SourceUser
	}

	payload := protocol.Payload{
		Entity: string(change.Level) + ":" + change.ID,
		Action: string(action),
		Data: &protocol.Data{
			Primary: primaryOf(res),
			Cascade: affected,
		},
	}

	if e.batcher != nil {
		e.batcher.Submit(owner, payload, source)
	}

	if e.bus != nil {
		_ = e.bus.Publish(ctx, events.ContextChanged{
			Ref:      store.Ref{Level: change.Level, ID: change.ID},
			Action:   string(action),
			Owner:    owner,
			Source:   source,
			Primary:  primaryOf(res),
			Affected: affected,
			At:       time.Now(),
		})
	}

	if e.announce != nil {
		e.announce.Publish(ctx, owner,
			protocol.NewUpdate(payload.Entity, payload.Action, payload.Data,
				protocol.Metadata{Source: source, Owner: owner}))
	}
}

// changeFor builds the cascade input, resolving the enclosing project for
// task-level changes when the parent branch is readable.
func (e *Engine) changeFor(ctx context.Context, req Request, res *Result, action cascade.Action) cascade.Change {
	level, _ := store.ParseLevel(req.Level)
	change := cascade.Change{
		Level:  level,
		ID:     req.ID,
		Action: action,
		Fields: fieldsOf(req.Data),
	}
	if res.Record != nil {
		change.ParentID = res.Record.ParentID
	} else if res.Deleted != nil && res.Deleted.ParentID != "" {
		change.ParentID = res.Deleted.ParentID
	} else if req.ParentID != "" {
		change.ParentID = req.ParentID
	}
	if level == store.LevelTask && change.ParentID != "" {
		if branch, _, err := e.store.Get(ctx, store.LevelBranch, change.ParentID, false); err == nil {
			change.ProjectID = branch.ParentID
		}
	}
	return change
}

func mutatingAction(action string) (cascade.Action, bool) {
	switch action {
	case "create":
		return cascade.ActionCreate, true
	case "update":
		return cascade.ActionUpdate, true
	case "delete":
		return cascade.ActionDelete, true
	case "delegate":
		return cascade.ActionDelegate, true
	case "add_insight":
		return cascade.ActionInsight, true
	case "add_progress":
		return cascade.ActionProgress, true
	default:
		return "", false
	}
}

func primaryOf(res *Result) any {
	switch {
	case res.Record != nil:
		return res.Record
	case res.LogEntry != nil:
		return res.LogEntry
	case res.Deleted != nil:
		return res.Deleted
	default:
		return nil
	}
}

func fieldsOf(data store.Document) []string {
	if len(data) == 0 {
		return nil
	}
	fields := make([]string, 0, len(data))
	for k := range data {
		fields = append(fields, k)
	}
	return fields
}

func outcomeOf(err error) metrics.OutcomeLabel {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	if cerr, ok := ferrors.AsClassified(err); ok {
		switch cerr.Category() {
		case ferrors.CategoryConflict:
			return metrics.OutcomeConflict
		case ferrors.CategoryTimeout:
			return metrics.OutcomeTimeout
		}
	}
	return metrics.OutcomeError
}
