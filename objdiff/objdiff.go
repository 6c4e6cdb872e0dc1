// Package objdiff compares two flat objects and keeps only what changed.
// The agent uses it to fill the changedOptions, changedAttributes and
// changedState sections of a detail snapshot.
package objdiff

import "reflect"

// Removed marks a key present in prev but absent from next.
type Removed struct{}

// Diff returns the keys of next whose value differs from prev, plus the
// keys of prev missing from next (mapped to Removed). It returns nil when
// both objects are equal. Values are compared with reflect.DeepEqual.
func Diff(prev, next map[string]any) map[string]any {
	var out map[string]any
	set := func(k string, v any) {
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}

	for k, nv := range next {
		pv, ok := prev[k]
		if !ok || !reflect.DeepEqual(pv, nv) {
			set(k, nv)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			set(k, Removed{})
		}
	}
	return out
}

// Keys returns the changed key names of a Diff result in no particular
// order.
func Keys(diff map[string]any) []string {
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	return keys
}
