package model

// Snapshot value coercion. Change-event snapshots arrive as msgpack-decoded
// map[string]any, so numerics may be any integer width or float64 and
// lists are []any.

// AsInt64 coerces a snapshot numeric to int64.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// AsInt64Slice coerces a snapshot list to []int64, skipping non-numerics.
func AsInt64Slice(v any) []int64 {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		if n, ok := AsInt64(item); ok {
			out = append(out, n)
		}
	}
	return out
}

// AsString coerces a snapshot value to string.
func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// AsStringSlice coerces a snapshot list to []string, skipping non-strings.
func AsStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// AsBool coerces a snapshot value to bool; SQLite integers count.
func AsBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case int:
		return b != 0
	case uint64:
		return b != 0
	case float64:
		return b != 0
	}
	return false
}
