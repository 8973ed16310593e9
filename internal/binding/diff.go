package binding

import (
	"maps"
	"reflect"
	"slices"

	"github.com/google/go-cmp/cmp"
)

// exportAll lets cmp look into unexported struct fields instead of panicking
// on values built in Go rather than decoded from JSON or YAML.
var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

// equal compares property values structurally.
func equal(a, b any) bool {
	return cmp.Equal(a, b, exportAll)
}

// Diff returns every key of prev or next whose value differs between them.
// Keys missing from next map to the zero value, which resets the property
// when applied. Values are compared structurally.
func Diff[V any](prev, next map[string]V) map[string]V {
	out := make(map[string]V)
	for k, v := range next {
		if old, ok := prev[k]; !ok || !equal(old, v) {
			out[k] = v
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			var zero V
			out[k] = zero
		}
	}
	return out
}

// SortedKeys returns the keys of m in order.
func SortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// sameData reports whether two payloads are the same reference. Pointers,
// maps and slices compare by address, comparable scalars by value.
func sameData(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	if va.Comparable() && vb.Comparable() {
		return va.Equal(vb)
	}
	return false
}
