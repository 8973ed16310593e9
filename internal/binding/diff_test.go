package binding

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb/geojson"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		name string
		prev map[string]any
		next map[string]any
		want map[string]any
	}{
		{
			name: "both empty",
			want: map[string]any{},
		},
		{
			name: "added",
			next: map[string]any{"fill-color": "red"},
			want: map[string]any{"fill-color": "red"},
		},
		{
			name: "unchanged",
			prev: map[string]any{"fill-color": "red", "fill-opacity": 0.4},
			next: map[string]any{"fill-color": "red", "fill-opacity": 0.4},
			want: map[string]any{},
		},
		{
			name: "changed and removed",
			prev: map[string]any{"fill-color": "red", "fill-opacity": 0.4},
			next: map[string]any{"fill-color": "blue"},
			want: map[string]any{"fill-color": "blue", "fill-opacity": nil},
		},
		{
			name: "expression compared structurally",
			prev: map[string]any{"line-width": []any{"get", "width"}},
			next: map[string]any{"line-width": []any{"get", "width"}},
			want: map[string]any{},
		},
		{
			name: "expression changed",
			prev: map[string]any{"line-width": []any{"get", "width"}},
			next: map[string]any{"line-width": []any{"get", "lanes"}},
			want: map[string]any{"line-width": []any{"get", "lanes"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.prev, tt.next)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Diff (-want +got):\n%s", diff)
			}
		})
	}
}

// color has an unexported field, like values built in Go code.
type color struct{ hex string }

func TestDiffUnexportedFields(t *testing.T) {
	prev := map[string]any{"fill-color": color{"#000"}, "line-color": color{"#111"}}
	next := map[string]any{"fill-color": color{"#000"}, "line-color": color{"#222"}}

	got := Diff(prev, next)
	if len(got) != 1 || got["line-color"] != (color{"#222"}) {
		t.Errorf("Diff=%v, want only line-color", got)
	}
}

func TestSortedKeys(t *testing.T) {
	got := SortedKeys(map[string]int{"b": 1, "c": 2, "a": 3})
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("SortedKeys (-want +got):\n%s", diff)
	}
}

func TestSameData(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	m := map[string]any{"type": "FeatureCollection"}

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"nil", nil, nil, true},
		{"nil and value", nil, fc, false},
		{"same pointer", fc, fc, true},
		{"different pointers", fc, geojson.NewFeatureCollection(), false},
		{"same map", m, m, true},
		{"equal maps", m, map[string]any{"type": "FeatureCollection"}, false},
		{"same url", "https://example.com/a.geojson", "https://example.com/a.geojson", true},
		{"different url", "https://example.com/a.geojson", "https://example.com/b.geojson", false},
		{"different types", "1", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sameData(tt.a, tt.b); got != tt.want {
				t.Errorf("sameData=%v, want %v", got, tt.want)
			}
		})
	}
}

func TestLayerID(t *testing.T) {
	if got := LayerID("roads", "fill-extrusion"); got != "roads-fill-extrusion" {
		t.Errorf("LayerID=%q", got)
	}
	if a, b := GenerateID(), GenerateID(); a == b {
		t.Errorf("GenerateID repeated %q", a)
	}
}
