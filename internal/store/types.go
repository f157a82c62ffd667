package store

import "time"

// Document is the structured payload of one context record.
type Document map[string]any

// Clone returns a deep copy so merged views never alias stored documents.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case Document:
		return map[string]any(t.Clone())
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}

// Record is one persisted context at a single level.
type Record struct {
	Level     Level     `json:"level"`
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	OwnerID   string    `json:"owner_id"`
	Data      Document  `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ref identifies a context without carrying its payload.
type Ref struct {
	Level Level  `json:"level"`
	ID    string `json:"id"`
}

// LogKind distinguishes the two append-only streams per context.
type LogKind string

const (
	LogInsight  LogKind = "insight"
	LogProgress LogKind = "progress"
)

// LogEntry is one element of a context's append-only insight/progress stream.
// Entries are never updated or overwritten; sequence numbers are assigned at
// insert time and are unique per (level, context_id, kind).
type LogEntry struct {
	Level     Level     `json:"level"`
	ContextID string    `json:"context_id"`
	Kind      LogKind   `json:"kind"`
	Seq       int64     `json:"seq"`
	Entry     Document  `json:"entry"`
	CreatedAt time.Time `json:"created_at"`
}

// Resolved is the inheritance-merged view of a context and all its ancestors.
type Resolved struct {
	Level Level  `json:"level"`
	ID    string `json:"id"`
	// Chain lists the contexts that contributed, root-to-leaf.
	Chain []Ref    `json:"chain"`
	Data  Document `json:"data"`
	// Insights and Progress concatenate ancestor streams root-to-leaf,
	// oldest-first within each context.
	Insights []LogEntry `json:"insights"`
	Progress []LogEntry `json:"progress"`
}

// Delegation records data pushed from a child context up to an ancestor,
// kept for audit.
type Delegation struct {
	ID        int64     `json:"id"`
	FromLevel Level     `json:"from_level"`
	FromID    string    `json:"from_id"`
	ToLevel   Level     `json:"to_level"`
	ToID      string    `json:"to_id"`
	Reason    string    `json:"reason"`
	Data      Document  `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultOwner is used when the control API does not carry an owner.
const DefaultOwner = "default"

// DefaultProjectID anchors branches whose project is unknown at bootstrap
// time (a task created under a branch that does not exist yet).
const DefaultProjectID = "default"
