package schema

import "go.obscore.dev/obscore/internal/model"

// widen resolves a type conflict by the join-to-top rule stated in
// spec.md §3 and §9: i64 -> f64 -> utf8, with utf8 as the top type. Types
// outside that chain (bool, binary, timestamp, list, struct) only widen to
// utf8 on conflict, since they have no narrower numeric relationship to
// reconcile.
func widen(existing, observed model.FieldType) model.FieldType {
	if existing == observed {
		return existing
	}
	// the only narrower-to-wider relationship below utf8 is i64 -> f64;
	// any other conflicting pair joins straight to utf8, the top type.
	if isNumeric(existing) && isNumeric(observed) {
		if existing == model.FieldF64 || observed == model.FieldF64 {
			return model.FieldF64
		}
	}
	return model.FieldUTF8
}

func isNumeric(t model.FieldType) bool {
	return t == model.FieldI64 || t == model.FieldF64
}

// inferType derives a model.FieldType from a normalized field value.
func inferType(v any) model.FieldType {
	switch v.(type) {
	case bool:
		return model.FieldBool
	case int, int32, int64:
		return model.FieldI64
	case float32, float64:
		return model.FieldF64
	case string:
		return model.FieldUTF8
	case []byte:
		return model.FieldBinary
	case []any:
		return model.FieldList
	case map[string]any:
		return model.FieldStruct
	default:
		return model.FieldUTF8
	}
}
