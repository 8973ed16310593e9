// Package styledoc keeps a map style document in process and implements
// mapgl.Map against it, enforcing the same preconditions a map widget does.
//
// A Doc is the server side mirror of a browser map and the map used by
// tests. It is safe for concurrent use; listeners are always invoked
// without the document lock held so they may call back into the Doc.
package styledoc

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"

	"github.com/joeblew999/geobind/internal/mapgl"
)

var (
	// ErrNotFound is returned for operations on unknown sources or layers.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when adding a source or layer id twice.
	ErrExists = errors.New("already exists")
	// ErrInUse is returned when removing a source that layers still reference.
	ErrInUse = errors.New("in use")
	// ErrRemoved is returned by every mutation once the map was removed.
	ErrRemoved = errors.New("map removed")
)

type listenerKey struct {
	kind    mapgl.EventKind
	layerID string
}

// Doc is an ordered style document.
type Doc struct {
	mu        sync.RWMutex
	style     *mapgl.Style
	listeners map[listenerKey][]*mapgl.Listener
}

var _ mapgl.Map = (*Doc)(nil)

// New creates a document from a copy of base. A nil base starts empty.
func New(base *mapgl.Style) *Doc {
	return &Doc{
		style:     normalize(base),
		listeners: make(map[listenerKey][]*mapgl.Listener),
	}
}

func normalize(s *mapgl.Style) *mapgl.Style {
	if s == nil {
		return mapgl.NewStyle("")
	}
	c := s.Clone()
	if c.Version == 0 {
		c.Version = 8
	}
	return c
}

// AddSource registers a source.
func (d *Doc) AddSource(id string, src mapgl.Source) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.style == nil {
		return ErrRemoved
	}
	if _, ok := d.style.Sources[id]; ok {
		return fmt.Errorf("source %q: %w", id, ErrExists)
	}
	src.Options = maps.Clone(src.Options)
	d.style.Sources[id] = src
	return nil
}

// GetSource returns a handle to a source.
func (d *Doc) GetSource(id string) (mapgl.GeoJSONSource, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.style == nil {
		return nil, false
	}
	if _, ok := d.style.Sources[id]; !ok {
		return nil, false
	}
	return &sourceHandle{doc: d, id: id}, true
}

// RemoveSource unregisters a source no layer references.
func (d *Doc) RemoveSource(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.style == nil {
		return ErrRemoved
	}
	if _, ok := d.style.Sources[id]; !ok {
		return fmt.Errorf("source %q: %w", id, ErrNotFound)
	}
	for _, l := range d.style.Layers {
		if l.Source == id {
			return fmt.Errorf("source %q used by layer %q: %w", id, l.ID, ErrInUse)
		}
	}
	delete(d.style.Sources, id)
	return nil
}

// AddLayer inserts layer below before, or on top when before is empty.
func (d *Doc) AddLayer(layer mapgl.Layer, before string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.style == nil {
		return ErrRemoved
	}
	if d.indexOf(layer.ID) >= 0 {
		return fmt.Errorf("layer %q: %w", layer.ID, ErrExists)
	}
	if layer.Source != "" {
		if _, ok := d.style.Sources[layer.Source]; !ok {
			return fmt.Errorf("layer %q source %q: %w", layer.ID, layer.Source, ErrNotFound)
		}
	}
	at := len(d.style.Layers)
	if before != "" {
		if at = d.indexOf(before); at < 0 {
			return fmt.Errorf("layer %q before %q: %w", layer.ID, before, ErrNotFound)
		}
	}
	d.style.Layers = slices.Insert(d.style.Layers, at, layer.Clone())
	return nil
}

// GetLayer returns a copy of a layer.
func (d *Doc) GetLayer(id string) (mapgl.Layer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.style == nil {
		return mapgl.Layer{}, false
	}
	i := d.indexOf(id)
	if i < 0 {
		return mapgl.Layer{}, false
	}
	return d.style.Layers[i].Clone(), true
}

// RemoveLayer removes a layer.
func (d *Doc) RemoveLayer(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, err := d.layerIndex(id)
	if err != nil {
		return err
	}
	d.style.Layers = slices.Delete(d.style.Layers, i, i+1)
	return nil
}

// MoveLayer moves a layer below before, or to the top when before is empty.
func (d *Doc) MoveLayer(id, before string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, err := d.layerIndex(id)
	if err != nil {
		return err
	}
	if id == before {
		return nil
	}
	if before != "" && d.indexOf(before) < 0 {
		return fmt.Errorf("move %q before %q: %w", id, before, ErrNotFound)
	}
	layer := d.style.Layers[i]
	d.style.Layers = slices.Delete(d.style.Layers, i, i+1)
	at := len(d.style.Layers)
	if before != "" {
		at = d.indexOf(before)
	}
	d.style.Layers = slices.Insert(d.style.Layers, at, layer)
	return nil
}

// SetFilter replaces a layer filter. A nil filter clears it.
func (d *Doc) SetFilter(id string, filter mapgl.Filter) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, err := d.layerIndex(id)
	if err != nil {
		return err
	}
	if filter != nil {
		filter = append(mapgl.Filter(nil), filter...)
	}
	d.style.Layers[i].Filter = filter
	return nil
}

// SetPaintProperty sets one paint property. A nil value resets it.
func (d *Doc) SetPaintProperty(id, key string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, err := d.layerIndex(id)
	if err != nil {
		return err
	}
	d.style.Layers[i].Paint = setProperty(d.style.Layers[i].Paint, key, value)
	return nil
}

// SetLayoutProperty sets one layout property. A nil value resets it.
func (d *Doc) SetLayoutProperty(id, key string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, err := d.layerIndex(id)
	if err != nil {
		return err
	}
	d.style.Layers[i].Layout = setProperty(d.style.Layers[i].Layout, key, value)
	return nil
}

func setProperty(props map[string]any, key string, value any) map[string]any {
	if value == nil {
		delete(props, key)
		return props
	}
	if props == nil {
		props = make(map[string]any)
	}
	props[key] = value
	return props
}

// On subscribes l. Subscriptions survive SetStyle but not Remove.
func (d *Doc) On(kind mapgl.EventKind, layerID string, l *mapgl.Listener) {
	if l == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.listeners == nil {
		return
	}
	k := listenerKey{kind, layerID}
	d.listeners[k] = append(d.listeners[k], l)
}

// Off removes one subscription of l.
func (d *Doc) Off(kind mapgl.EventKind, layerID string, l *mapgl.Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := listenerKey{kind, layerID}
	ls := d.listeners[k]
	if i := slices.Index(ls, l); i >= 0 {
		ls = slices.Delete(ls, i, i+1)
	}
	if len(ls) == 0 {
		delete(d.listeners, k)
	} else {
		d.listeners[k] = ls
	}
}

// Listeners returns how many listeners are subscribed to kind on layerID.
func (d *Doc) Listeners(kind mapgl.EventKind, layerID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[listenerKey{kind, layerID}])
}

// GetStyle returns a snapshot of the document, or nil after Remove.
func (d *Doc) GetStyle() *mapgl.Style {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.style.Clone()
}

// LayerIDs returns the layer stack from bottom to top.
func (d *Doc) LayerIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.style == nil {
		return nil
	}
	ids := make([]string, len(d.style.Layers))
	for i, l := range d.style.Layers {
		ids[i] = l.ID
	}
	return ids
}

// SetStyle swaps the whole style, dropping every source and layer that is
// not in s, then fires styledata.
func (d *Doc) SetStyle(s *mapgl.Style) error {
	if err := d.Replace(s); err != nil {
		return err
	}
	d.NotifyStyleData()
	return nil
}

// Replace swaps the whole style without notifying listeners.
func (d *Doc) Replace(s *mapgl.Style) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.style == nil {
		return ErrRemoved
	}
	d.style = normalize(s)
	return nil
}

// NotifyStyleData fires styledata without changing the document.
func (d *Doc) NotifyStyleData() {
	d.Fire(mapgl.Event{Kind: mapgl.EventStyleData})
}

// Remove destroys the map: the style becomes nil and listeners are dropped.
func (d *Doc) Remove() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.style = nil
	d.listeners = nil
}

// Fire delivers e to the listeners subscribed to e.Kind on e.LayerID.
func (d *Doc) Fire(e mapgl.Event) {
	d.mu.RLock()
	ls := slices.Clone(d.listeners[listenerKey{e.Kind, e.LayerID}])
	d.mu.RUnlock()

	for _, l := range ls {
		l.Handle(e)
	}
}

// Load reads a style JSON file into a new Doc.
func Load(path string) (*Doc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var style mapgl.Style
	if err := json.Unmarshal(data, &style); err != nil {
		return nil, fmt.Errorf("parsing style %s: %w", path, err)
	}
	if style.Sources == nil {
		style.Sources = map[string]mapgl.Source{}
	}
	return New(&style), nil
}

func (d *Doc) indexOf(id string) int {
	return slices.IndexFunc(d.style.Layers, func(l mapgl.Layer) bool { return l.ID == id })
}

func (d *Doc) layerIndex(id string) (int, error) {
	if d.style == nil {
		return -1, ErrRemoved
	}
	i := d.indexOf(id)
	if i < 0 {
		return -1, fmt.Errorf("layer %q: %w", id, ErrNotFound)
	}
	return i, nil
}

type sourceHandle struct {
	doc *Doc
	id  string
}

func (s *sourceHandle) SetData(data any) error {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()

	if s.doc.style == nil {
		return ErrRemoved
	}
	src, ok := s.doc.style.Sources[s.id]
	if !ok {
		return fmt.Errorf("source %q: %w", s.id, ErrNotFound)
	}
	src.Data = data
	s.doc.style.Sources[s.id] = src
	return nil
}
