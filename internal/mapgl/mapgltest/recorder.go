// Package mapgltest provides helpers for testing code that drives a mapgl.Map.
package mapgltest

import (
	"sync"

	"github.com/joeblew999/geobind/internal/mapgl"
)

// Call is one recorded map call. Args holds the call arguments after the
// method name, e.g. {"lines-line", "line-color", "#fff"} for SetPaintProperty.
type Call struct {
	Method string
	Args   []any
}

// Recorder wraps a mapgl.Map and records every call made through it.
// Lookups (GetSource, GetLayer, GetStyle) are not recorded.
type Recorder struct {
	mapgl.Map

	mu    sync.Mutex
	calls []Call
}

// NewRecorder records calls made against m.
func NewRecorder(m mapgl.Map) *Recorder {
	return &Recorder{Map: m}
}

func (r *Recorder) record(method string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns the calls recorded so far.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Named returns the recorded calls of one method.
func (r *Recorder) Named(method string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) AddSource(id string, src mapgl.Source) error {
	r.record("AddSource", id, src)
	return r.Map.AddSource(id, src)
}

func (r *Recorder) GetSource(id string) (mapgl.GeoJSONSource, bool) {
	src, ok := r.Map.GetSource(id)
	if !ok {
		return nil, false
	}
	return &recordedSource{GeoJSONSource: src, r: r, id: id}, true
}

func (r *Recorder) RemoveSource(id string) error {
	r.record("RemoveSource", id)
	return r.Map.RemoveSource(id)
}

func (r *Recorder) AddLayer(layer mapgl.Layer, before string) error {
	r.record("AddLayer", layer, before)
	return r.Map.AddLayer(layer, before)
}

func (r *Recorder) RemoveLayer(id string) error {
	r.record("RemoveLayer", id)
	return r.Map.RemoveLayer(id)
}

func (r *Recorder) MoveLayer(id, before string) error {
	r.record("MoveLayer", id, before)
	return r.Map.MoveLayer(id, before)
}

func (r *Recorder) SetFilter(id string, filter mapgl.Filter) error {
	r.record("SetFilter", id, filter)
	return r.Map.SetFilter(id, filter)
}

func (r *Recorder) SetPaintProperty(id, key string, value any) error {
	r.record("SetPaintProperty", id, key, value)
	return r.Map.SetPaintProperty(id, key, value)
}

func (r *Recorder) SetLayoutProperty(id, key string, value any) error {
	r.record("SetLayoutProperty", id, key, value)
	return r.Map.SetLayoutProperty(id, key, value)
}

func (r *Recorder) On(kind mapgl.EventKind, layerID string, l *mapgl.Listener) {
	r.record("On", kind, layerID)
	r.Map.On(kind, layerID, l)
}

func (r *Recorder) Off(kind mapgl.EventKind, layerID string, l *mapgl.Listener) {
	r.record("Off", kind, layerID)
	r.Map.Off(kind, layerID, l)
}

type recordedSource struct {
	mapgl.GeoJSONSource
	r  *Recorder
	id string
}

func (s *recordedSource) SetData(data any) error {
	s.r.record("SetData", s.id, data)
	return s.GeoJSONSource.SetData(data)
}
