// Package cascade determines which derived views are affected by a context
// change. The calculation is pure: it inspects a change and returns entity
// references, with no side effects on the store.
package cascade

import (
	"sort"

	"git.home.luguber.info/inful/contexthub/internal/store"
)

// Action describes what happened to the primary entity.
type Action string

const (
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionDelegate Action = "delegate"
	ActionInsight  Action = "add_insight"
	ActionProgress Action = "add_progress"
)

// Change is the input to the calculator: what changed, where, and which
// fields the diff touched.
type Change struct {
	Level    store.Level
	ID       string
	ParentID string
	// ProjectID is the entity's enclosing project, when known. Task-level
	// changes roll up to project aggregate metrics.
	ProjectID string
	Action    Action
	Fields    []string
}

// Affected is one downstream entity whose derived view must be recomputed.
type Affected struct {
	Ref    store.Ref `json:"ref"`
	Reason string    `json:"reason"`
}

// Rule computes affected entities for one change. Rules must be
// deterministic and side-effect free.
type Rule func(Change) []Affected

// Calculator holds the rule registry. The built-in rules cover the fixed
// hierarchy; RegisterField extends the set for specific diff fields.
type Calculator struct {
	fieldRules map[string][]Rule
}

// New creates a Calculator with the built-in hierarchy rules.
func New() *Calculator {
	return &Calculator{fieldRules: make(map[string][]Rule)}
}

// RegisterField registers an additional rule evaluated when a change's diff
// touches the named field.
func (c *Calculator) RegisterField(field string, rule Rule) {
	c.fieldRules[field] = append(c.fieldRules[field], rule)
}

// Affected returns the deduplicated, deterministically ordered set of
// entities whose derived views a change invalidates. The computation is
// bounded by the four fixed levels; parent pointers are acyclic, so no
// recursion guard is needed beyond the hierarchy itself.
func (c *Calculator) Affected(change Change) []Affected {
	var out []Affected
	out = append(out, c.hierarchyRules(change)...)

	for _, field := range change.Fields {
		for _, rule := range c.fieldRules[field] {
			out = append(out, rule(change)...)
		}
	}
	return dedupe(out, change)
}

// hierarchyRules are the fixed rules of the four-level hierarchy.
func (c *Calculator) hierarchyRules(change Change) []Affected {
	var out []Affected
	switch change.Level {
	case store.LevelTask:
		// A task change affects its branch summary and project metrics.
		if change.ParentID != "" {
			out = append(out, Affected{
				Ref:    store.Ref{Level: store.LevelBranch, ID: change.ParentID},
				Reason: "branch summary",
			})
		}
		if change.ProjectID != "" {
			out = append(out, Affected{
				Ref:    store.Ref{Level: store.LevelProject, ID: change.ProjectID},
				Reason: "project metrics",
			})
		}

	case store.LevelBranch:
		if change.ParentID != "" {
			reason := "project aggregate"
			if change.Action == ActionDelete {
				reason = "project aggregate recompute"
			}
			out = append(out, Affected{
				Ref:    store.Ref{Level: store.LevelProject, ID: change.ParentID},
				Reason: reason,
			})
		}

	case store.LevelProject, store.LevelGlobal:
		// Changes at the top levels flow downward through inheritance, which
		// the resolution cache handles; no upward summaries exist.
	}
	return out
}

// dedupe removes duplicate refs and the primary entity itself, then sorts for
// deterministic output.
func dedupe(in []Affected, change Change) []Affected {
	seen := make(map[store.Ref]struct{}, len(in))
	out := make([]Affected, 0, len(in))
	self := store.Ref{Level: change.Level, ID: change.ID}
	for _, a := range in {
		if a.Ref == self {
			continue
		}
		if _, dup := seen[a.Ref]; dup {
			continue
		}
		seen[a.Ref] = struct{}{}
		out = append(out, a)
	}
	// Order shallowest level first (project before branch), then by id, so
	// recomputes walk the hierarchy top down.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ref.Level != out[j].Ref.Level {
			return out[i].Ref.Level.Depth() < out[j].Ref.Level.Depth()
		}
		return out[i].Ref.ID < out[j].Ref.ID
	})
	return out
}
