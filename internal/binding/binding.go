// Package binding keeps one GeoJSON source and its derived symbol, line,
// fill, fill-extrusion and circle layers in sync with a property set, by
// issuing imperative calls against a mapgl.Map it does not own.
//
// The owner drives the lifecycle: Mount once, Update on every property
// change, Unmount when done. A LayerBinding is not safe for concurrent use;
// the owner must serialize calls together with the events the map delivers.
package binding

import (
	"errors"
	"fmt"
	"maps"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/joeblew999/geobind/internal/mapgl"
)

// LayerBinding binds a GeoJSON source and its derived layers to a map.
type LayerBinding struct {
	m        mapgl.Map
	id       string
	layerIDs []string
	props    Props
	mounted  bool
	// ownsSource is set once AddSource succeeded; a source with the same
	// id that was already on the map is never removed.
	ownsSource bool

	onStyle  *mapgl.Listener
	rerender func()
	log      zerolog.Logger
}

// Option configures a LayerBinding.
type Option func(*LayerBinding)

// WithRerender sets the hook called after the binding rebuilt itself
// following a style swap.
func WithRerender(fn func()) Option {
	return func(b *LayerBinding) { b.rerender = fn }
}

// WithLogger sets the logger. Defaults to the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *LayerBinding) { b.log = l }
}

// New creates an unmounted binding on m.
func New(m mapgl.Map, props Props, opts ...Option) *LayerBinding {
	if props.ID == "" {
		props.ID = GenerateID()
	}
	b := &LayerBinding{
		m:     m,
		id:    props.ID,
		props: props,
		log:   log.Logger,
	}
	b.onStyle = mapgl.NewListener(b.onStyleData)
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With().Str("binding", b.id).Logger()
	return b
}

// ID returns the binding id, which is also the source id.
func (b *LayerBinding) ID() string { return b.id }

// LayerIDs returns the ids of the layers created by the last Mount.
func (b *LayerBinding) LayerIDs() []string {
	return append([]string(nil), b.layerIDs...)
}

// Mounted reports whether Mount succeeded and Unmount has not run since.
func (b *LayerBinding) Mounted() bool { return b.mounted }

// Mount registers the source, one layer per type and the event listeners.
func (b *LayerBinding) Mount() error {
	src := mapgl.Source{
		Type:    mapgl.SourceTypeGeoJSON,
		Data:    b.props.Data,
		Options: b.props.SourceOptions,
	}
	b.layerIDs = b.layerIDs[:0]
	if err := b.m.AddSource(b.id, src); err != nil {
		return fmt.Errorf("adding source %q: %w", b.id, err)
	}
	b.ownsSource = true

	for _, t := range mapgl.LayerTypes {
		layer := b.layer(t)
		if err := b.m.AddLayer(layer, b.props.Before); err != nil {
			return fmt.Errorf("adding layer %q: %w", layer.ID, err)
		}
		b.layerIDs = append(b.layerIDs, layer.ID)
	}

	for _, t := range mapgl.LayerTypes {
		h := b.props.Layer(t).Handlers
		for _, kind := range mapgl.MouseEvents {
			if l := h.Get(kind); l != nil {
				b.m.On(kind, LayerID(b.id, t), l)
			}
		}
	}
	b.m.On(mapgl.EventStyleData, "", b.onStyle)

	b.mounted = true
	b.log.Debug().Strs("layers", b.layerIDs).Msg("binding mounted")
	return nil
}

// layer builds the initial descriptor of the layer of type t.
func (b *LayerBinding) layer(t mapgl.LayerType) mapgl.Layer {
	lp := b.props.Layer(t)
	opts := b.props.LayerOptions

	paint := maps.Clone(lp.Paint)
	if paint == nil {
		paint = map[string]any{}
	}
	layout := maps.Clone(lp.Layout)
	if layout == nil {
		visibility := "none"
		if len(paint) > 0 {
			visibility = "visible"
		}
		layout = map[string]any{"visibility": visibility}
	}

	return mapgl.Layer{
		ID:          LayerID(b.id, t),
		Type:        t,
		Source:      b.id,
		SourceLayer: opts.SourceLayer,
		MinZoom:     opts.MinZoom,
		MaxZoom:     opts.MaxZoom,
		Filter:      opts.Filter,
		Paint:       paint,
		Layout:      layout,
		Metadata:    opts.Metadata,
	}
}

// onStyleData rebuilds everything when a style swap dropped the source.
// Layers lost while the source survived are not detected.
func (b *LayerBinding) onStyleData(mapgl.Event) {
	if _, ok := b.m.GetSource(b.id); ok {
		return
	}
	b.log.Info().Msg("source lost after style change, rebinding")

	if err := b.Unmount(); err != nil {
		b.log.Warn().Err(err).Msg("unbind after style change")
	}
	if err := b.Mount(); err != nil {
		b.log.Error().Err(err).Msg("rebind after style change")
		return
	}
	if b.rerender != nil {
		b.rerender()
	}
}

// Update applies the difference between the retained properties and next.
// The binding id cannot change; next.ID is ignored.
func (b *LayerBinding) Update(next Props) error {
	next.ID = b.id
	prev := b.props
	b.props = next
	if !b.mounted {
		return nil
	}

	var errs []error
	if !sameData(prev.Data, next.Data) {
		if src, ok := b.m.GetSource(b.id); ok {
			if err := src.SetData(next.Data); err != nil {
				errs = append(errs, fmt.Errorf("setting data on %q: %w", b.id, err))
			}
		}
	}

	if !equal(prev.LayerOptions.Filter, next.LayerOptions.Filter) {
		for _, id := range b.layerIDs {
			if err := b.m.SetFilter(id, next.LayerOptions.Filter); err != nil {
				errs = append(errs, fmt.Errorf("setting filter on %q: %w", id, err))
			}
		}
	}

	for _, t := range mapgl.LayerTypes {
		id := LayerID(b.id, t)
		p, n := prev.Layer(t), next.Layer(t)

		paint := Diff(p.Paint, n.Paint)
		for _, k := range SortedKeys(paint) {
			if err := b.m.SetPaintProperty(id, k, paint[k]); err != nil {
				errs = append(errs, fmt.Errorf("setting paint %s on %q: %w", k, id, err))
			}
		}
		layout := Diff(p.Layout, n.Layout)
		for _, k := range SortedKeys(layout) {
			if err := b.m.SetLayoutProperty(id, k, layout[k]); err != nil {
				errs = append(errs, fmt.Errorf("setting layout %s on %q: %w", k, id, err))
			}
		}

		for _, kind := range mapgl.MouseEvents {
			old, cur := p.Handlers.Get(kind), n.Handlers.Get(kind)
			if old == cur {
				continue
			}
			if old != nil {
				b.m.Off(kind, id, old)
			}
			if cur != nil {
				b.m.On(kind, id, cur)
			}
		}
	}

	if prev.Before != next.Before {
		for _, id := range b.layerIDs {
			if err := b.m.MoveLayer(id, next.Before); err != nil {
				errs = append(errs, fmt.Errorf("moving %q before %q: %w", id, next.Before, err))
			}
		}
	}

	return errors.Join(errs...)
}

// Unmount removes listeners, layers and the source. It does nothing when the
// map is gone or its style is unloaded, since there is nothing left to clean.
func (b *LayerBinding) Unmount() error {
	if b.m == nil || b.m.GetStyle() == nil {
		b.mounted, b.ownsSource = false, false
		return nil
	}

	b.m.Off(mapgl.EventStyleData, "", b.onStyle)
	for _, t := range mapgl.LayerTypes {
		h := b.props.Layer(t).Handlers
		for _, kind := range mapgl.MouseEvents {
			if l := h.Get(kind); l != nil {
				b.m.Off(kind, LayerID(b.id, t), l)
			}
		}
	}

	var errs []error
	for _, id := range b.layerIDs {
		if _, ok := b.m.GetLayer(id); !ok {
			continue
		}
		if err := b.m.RemoveLayer(id); err != nil {
			errs = append(errs, fmt.Errorf("removing layer %q: %w", id, err))
		}
	}
	if _, ok := b.m.GetSource(b.id); ok && b.ownsSource {
		if err := b.m.RemoveSource(b.id); err != nil {
			errs = append(errs, fmt.Errorf("removing source %q: %w", b.id, err))
		}
	}
	b.ownsSource = false

	b.mounted = false
	b.log.Debug().Msg("binding unmounted")
	return errors.Join(errs...)
}
