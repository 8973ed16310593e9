package mapgl

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// EventKind names a map event.
type EventKind string

const (
	EventMouseMove  EventKind = "mousemove"
	EventMouseEnter EventKind = "mouseenter"
	EventMouseLeave EventKind = "mouseleave"
	EventMouseDown  EventKind = "mousedown"
	EventMouseUp    EventKind = "mouseup"
	EventClick      EventKind = "click"

	// EventStyleData fires when the style changed, including a wholesale swap.
	EventStyleData EventKind = "styledata"
)

// MouseEvents lists the layer scoped events a binding can handle.
var MouseEvents = []EventKind{
	EventMouseMove,
	EventMouseEnter,
	EventMouseLeave,
	EventMouseDown,
	EventMouseUp,
	EventClick,
}

// IsMouse reports whether k is one of MouseEvents.
func (k EventKind) IsMouse() bool {
	switch k {
	case EventMouseMove, EventMouseEnter, EventMouseLeave, EventMouseDown, EventMouseUp, EventClick:
		return true
	}
	return false
}

// Event is delivered to listeners.
type Event struct {
	Kind    EventKind `json:"kind"`
	LayerID string    `json:"layerId,omitempty"`
	// LngLat is the pointer position in WGS84.
	LngLat orb.Point `json:"lngLat"`
	// Point is the pointer position in screen pixels.
	Point    [2]float64         `json:"point"`
	Features []*geojson.Feature `json:"features,omitempty"`
}

// Listener wraps an event callback. Its pointer is its identity: a map
// unsubscribes exactly the *Listener it was given, and a binding treats a
// different pointer as a changed handler.
type Listener struct {
	fn func(Event)
}

// NewListener returns a listener calling fn.
func NewListener(fn func(Event)) *Listener {
	return &Listener{fn: fn}
}

// Handle invokes the callback. A nil listener ignores the event.
func (l *Listener) Handle(e Event) {
	if l == nil || l.fn == nil {
		return
	}
	l.fn(e)
}
