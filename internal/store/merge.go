package store

// DeepMerge merges overlay into base and returns a new document. Scalar and
// array fields in overlay replace same-named base fields; nested maps merge
// recursively. Neither input is mutated.
//
// Append-only streams (insights, progress) are not part of the document and
// concatenate separately during resolution.
func DeepMerge(base, overlay Document) Document {
	if base == nil && overlay == nil {
		return Document{}
	}
	out := base.Clone()
	if out == nil {
		out = Document{}
	}
	for k, v := range overlay {
		existing, ok := out[k]
		if !ok {
			out[k] = cloneValue(v)
			continue
		}
		em, eok := asMap(existing)
		vm, vok := asMap(v)
		if eok && vok {
			out[k] = map[string]any(DeepMerge(em, vm))
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func asMap(v any) (Document, bool) {
	switch t := v.(type) {
	case map[string]any:
		return Document(t), true
	case Document:
		return t, true
	}
	return nil, false
}
