package store

import (
	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
)

// ExtensionValue is a tagged value in a project's local_standards extension
// bag. Unclassified fields map here instead of free-form attributes so the
// document keeps a typed shape.
type ExtensionValue struct {
	Kind  string `json:"kind"` // "string" | "number" | "bool" | "list" | "object"
	Value any    `json:"value"`
}

const extensionsKey = "extensions"

// NormalizeExtensions rewrites unclassified fields of a project-level
// local_standards block into the typed extensions bag. Known fields are left
// in place.
func NormalizeExtensions(data Document, known map[string]struct{}) Document {
	if _, ok := asMap(data["local_standards"]); !ok {
		return data
	}
	out := data.Clone()
	std, _ := asMap(out["local_standards"])

	bag, _ := asMap(std[extensionsKey])
	if bag == nil {
		bag = Document{}
	}
	for k, v := range std {
		if k == extensionsKey {
			continue
		}
		if _, isKnown := known[k]; isKnown {
			continue
		}
		bag[k] = map[string]any{"kind": kindOf(v), "value": v}
		delete(std, k)
	}
	if len(bag) > 0 {
		std[extensionsKey] = map[string]any(bag)
	}
	out["local_standards"] = map[string]any(std)
	return out
}

func kindOf(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case bool:
		return "bool"
	case []any:
		return "list"
	case map[string]any, Document:
		return "object"
	default:
		return "object"
	}
}

// Extension reads a typed extension value back out of a resolved project document.
func Extension(data Document, key string) (ExtensionValue, error) {
	std, ok := asMap(data["local_standards"])
	if !ok {
		return ExtensionValue{}, ferrors.NotFoundError("no local_standards block").Build()
	}
	bag, ok := asMap(std[extensionsKey])
	if !ok {
		return ExtensionValue{}, ferrors.NotFoundError("no extensions bag").Build()
	}
	raw, ok := asMap(bag[key])
	if !ok {
		return ExtensionValue{}, ferrors.NotFoundError("extension not present").
			WithContext("key", key).
			Build()
	}
	kind, _ := raw["kind"].(string)
	return ExtensionValue{Kind: kind, Value: raw["value"]}, nil
}
