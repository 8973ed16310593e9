package service

import (
	"github.com/rs/zerolog/log"

	"github.com/joeblew999/geobind/internal/mapgl"
	"github.com/joeblew999/geobind/internal/remote"
)

// Mouse event actions a BindingSpec can name.
const (
	ActionLog    = "log"
	ActionSelect = "select"
	ActionCursor = "cursor"
)

func validAction(action string) bool {
	switch action {
	case ActionLog, ActionSelect, ActionCursor:
		return true
	}
	return false
}

type actionKey struct {
	binding string
	layer   mapgl.LayerType
	kind    mapgl.EventKind
	action  string
}

// actions hands out listeners per (binding, layer, kind, action). A listener
// keeps its identity for as long as the action stays configured, so
// updating a binding with an unchanged handler does not resubscribe it.
type actions struct {
	m         *remote.Map
	listeners map[actionKey]*mapgl.Listener
}

func newActions(m *remote.Map) *actions {
	return &actions{m: m, listeners: make(map[actionKey]*mapgl.Listener)}
}

func (a *actions) listener(bindingID string, t mapgl.LayerType, kind mapgl.EventKind, action string) *mapgl.Listener {
	key := actionKey{binding: bindingID, layer: t, kind: kind, action: action}
	if l, ok := a.listeners[key]; ok {
		return l
	}
	l := mapgl.NewListener(a.handler(bindingID, kind, action))
	a.listeners[key] = l
	return l
}

// forget drops the cached listeners of a binding.
func (a *actions) forget(bindingID string) {
	for key := range a.listeners {
		if key.binding == bindingID {
			delete(a.listeners, key)
		}
	}
}

func (a *actions) handler(bindingID string, kind mapgl.EventKind, action string) func(mapgl.Event) {
	switch action {
	case ActionSelect:
		return func(e mapgl.Event) {
			a.m.Signal(map[string]any{
				"selected": map[string]any{
					"binding":  bindingID,
					"layer":    e.LayerID,
					"lngLat":   []float64{e.LngLat.Lon(), e.LngLat.Lat()},
					"features": e.Features,
				},
			})
		}
	case ActionCursor:
		return func(mapgl.Event) {
			if kind == mapgl.EventMouseLeave {
				a.m.Cursor("")
				return
			}
			a.m.Cursor("pointer")
		}
	}
	return func(e mapgl.Event) {
		log.Info().
			Str("map", a.m.ID()).
			Str("binding", bindingID).
			Str("layer", e.LayerID).
			Str("event", string(e.Kind)).
			Float64("lng", e.LngLat.Lon()).
			Float64("lat", e.LngLat.Lat()).
			Int("features", len(e.Features)).
			Msg("Map event")
	}
}

// retain drops the cached listeners of a binding that spec no longer
// configures.
func (a *actions) retain(bindingID string, spec *BindingSpec) {
	for key := range a.listeners {
		if key.binding != bindingID {
			continue
		}
		ls := spec.Layer(key.layer)
		if ls == nil || ls.On[string(key.kind)] != key.action {
			delete(a.listeners, key)
		}
	}
}
