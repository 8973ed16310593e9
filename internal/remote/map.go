// Package remote implements mapgl.Map for a map living in a browser.
//
// Every call is applied to an in-process styledoc.Doc mirror, which answers
// lookups and enforces preconditions, and then published as a Command for
// the browser to replay through its MapLibre instance. Events coming back
// from the browser are fed in with Dispatch and ResetStyle.
package remote

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/joeblew999/geobind/internal/mapgl"
	"github.com/joeblew999/geobind/internal/styledoc"
)

// Command ops replayed by the browser.
const (
	OpStyle             = "style"
	OpSetStyle          = "setStyle"
	OpAddSource         = "addSource"
	OpRemoveSource      = "removeSource"
	OpSetData           = "setData"
	OpAddLayer          = "addLayer"
	OpRemoveLayer       = "removeLayer"
	OpMoveLayer         = "moveLayer"
	OpSetFilter         = "setFilter"
	OpSetPaintProperty  = "setPaintProperty"
	OpSetLayoutProperty = "setLayoutProperty"
	OpOn                = "on"
	OpOff               = "off"
	OpSignals           = "signals"
	OpCursor            = "cursor"
	OpRemove            = "remove"
)

// Command is one imperative map call, in the order it was applied.
type Command struct {
	Seq    uint64          `json:"seq"`
	Op     string          `json:"op"`
	ID     string          `json:"id,omitempty"`
	Before string          `json:"before,omitempty"`
	Key    string          `json:"key,omitempty"`
	Value  any             `json:"value,omitempty"`
	Event  mapgl.EventKind `json:"event,omitempty"`
	Source *mapgl.Source   `json:"source,omitempty"`
	Layer  *mapgl.Layer    `json:"layer,omitempty"`
	Filter mapgl.Filter    `json:"filter,omitempty"`
	Data   any             `json:"data,omitempty"`
	Style  *mapgl.Style    `json:"style,omitempty"`
}

// Map is a browser map reached through a command stream.
type Map struct {
	id  string
	doc *styledoc.Doc
	bus *Bus
	log zerolog.Logger

	// mu orders mirror mutations with their publication so a subscriber
	// attaching between the two never sees a command twice.
	mu  sync.Mutex
	seq uint64
}

var _ mapgl.Map = (*Map)(nil)

// New creates a remote map whose browser starts from base.
func New(id string, base *mapgl.Style) *Map {
	return &Map{
		id:  id,
		doc: styledoc.New(base),
		bus: NewBus(),
		log: log.With().Str("map", id).Logger(),
	}
}

// ID returns the map id.
func (m *Map) ID() string { return m.id }

// Attach subscribes to commands and returns the style snapshot the
// subscriber must start from. Commands on the channel follow the snapshot.
func (m *Map) Attach() (Command, chan Command) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := m.bus.Subscribe()
	return Command{Seq: m.seq, Op: OpStyle, ID: m.id, Style: m.doc.GetStyle()}, ch
}

// Detach ends a subscription made with Attach.
func (m *Map) Detach(ch chan Command) {
	m.bus.Unsubscribe(ch)
}

// Subscribers returns the number of attached browsers.
func (m *Map) Subscribers() int { return m.bus.Len() }

func (m *Map) apply(c Command, fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fn != nil {
		if err := fn(); err != nil {
			return err
		}
	}
	m.seq++
	c.Seq = m.seq
	m.bus.Publish(c)
	return nil
}

// publish sends a command that has no mirror side effect.
func (m *Map) publish(c Command) {
	_ = m.apply(c, nil)
}

func (m *Map) AddSource(id string, src mapgl.Source) error {
	return m.apply(Command{Op: OpAddSource, ID: id, Source: &src}, func() error {
		return m.doc.AddSource(id, src)
	})
}

func (m *Map) GetSource(id string) (mapgl.GeoJSONSource, bool) {
	src, ok := m.doc.GetSource(id)
	if !ok {
		return nil, false
	}
	return &source{GeoJSONSource: src, m: m, id: id}, true
}

func (m *Map) RemoveSource(id string) error {
	return m.apply(Command{Op: OpRemoveSource, ID: id}, func() error {
		return m.doc.RemoveSource(id)
	})
}

func (m *Map) AddLayer(layer mapgl.Layer, before string) error {
	l := layer.Clone()
	return m.apply(Command{Op: OpAddLayer, ID: layer.ID, Before: before, Layer: &l}, func() error {
		return m.doc.AddLayer(layer, before)
	})
}

func (m *Map) GetLayer(id string) (mapgl.Layer, bool) {
	return m.doc.GetLayer(id)
}

func (m *Map) RemoveLayer(id string) error {
	return m.apply(Command{Op: OpRemoveLayer, ID: id}, func() error {
		return m.doc.RemoveLayer(id)
	})
}

func (m *Map) MoveLayer(id, before string) error {
	return m.apply(Command{Op: OpMoveLayer, ID: id, Before: before}, func() error {
		return m.doc.MoveLayer(id, before)
	})
}

func (m *Map) SetFilter(id string, filter mapgl.Filter) error {
	return m.apply(Command{Op: OpSetFilter, ID: id, Filter: filter}, func() error {
		return m.doc.SetFilter(id, filter)
	})
}

func (m *Map) SetPaintProperty(id, key string, value any) error {
	return m.apply(Command{Op: OpSetPaintProperty, ID: id, Key: key, Value: value}, func() error {
		return m.doc.SetPaintProperty(id, key, value)
	})
}

func (m *Map) SetLayoutProperty(id, key string, value any) error {
	return m.apply(Command{Op: OpSetLayoutProperty, ID: id, Key: key, Value: value}, func() error {
		return m.doc.SetLayoutProperty(id, key, value)
	})
}

// On subscribes l in the mirror. Mouse subscriptions are also published so
// the browser starts forwarding that event for the layer.
func (m *Map) On(kind mapgl.EventKind, layerID string, l *mapgl.Listener) {
	m.doc.On(kind, layerID, l)
	if kind.IsMouse() {
		m.publish(Command{Op: OpOn, ID: layerID, Event: kind})
	}
}

func (m *Map) Off(kind mapgl.EventKind, layerID string, l *mapgl.Listener) {
	m.doc.Off(kind, layerID, l)
	if kind.IsMouse() {
		m.publish(Command{Op: OpOff, ID: layerID, Event: kind})
	}
}

func (m *Map) GetStyle() *mapgl.Style {
	return m.doc.GetStyle()
}

// SetStyle swaps the browser style from the server side. Bindings whose
// source disappears rebuild themselves on the styledata notification.
func (m *Map) SetStyle(s *mapgl.Style) error {
	if err := m.apply(Command{Op: OpSetStyle, ID: m.id, Style: s.Clone()}, func() error {
		return m.doc.Replace(s)
	}); err != nil {
		return err
	}
	m.doc.NotifyStyleData()
	return nil
}

// ResetStyle records a style swap the browser already performed.
func (m *Map) ResetStyle(s *mapgl.Style) error {
	m.mu.Lock()
	err := m.doc.Replace(s)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.log.Debug().Msg("browser style reset")
	m.doc.NotifyStyleData()
	return nil
}

// Dispatch delivers a browser event to the mirror's listeners.
func (m *Map) Dispatch(e mapgl.Event) {
	m.doc.Fire(e)
}

// Signal publishes datastar signals for the browser page.
func (m *Map) Signal(signals map[string]any) {
	m.publish(Command{Op: OpSignals, ID: m.id, Value: signals})
}

// Cursor sets the map canvas cursor; empty restores the default.
func (m *Map) Cursor(cursor string) {
	m.publish(Command{Op: OpCursor, ID: m.id, Value: cursor})
}

// Remove destroys the map on both sides.
func (m *Map) Remove() {
	_ = m.apply(Command{Op: OpRemove, ID: m.id}, func() error {
		m.doc.Remove()
		return nil
	})
}

type source struct {
	mapgl.GeoJSONSource
	m  *Map
	id string
}

func (s *source) SetData(data any) error {
	return s.m.apply(Command{Op: OpSetData, ID: s.id, Data: data}, func() error {
		return s.GeoJSONSource.SetData(data)
	})
}
