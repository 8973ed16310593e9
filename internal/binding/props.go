package binding

import "github.com/joeblew999/geobind/internal/mapgl"

// Props is the property set a LayerBinding is configured with. The owner
// passes a fresh Props to Update on every change; the binding keeps the last
// one to diff against.
type Props struct {
	// ID names the source and prefixes layer ids. Generated when empty.
	ID string
	// Data is the GeoJSON payload, usually a *geojson.FeatureCollection or a
	// URL string. Update compares it by reference.
	Data any

	LayerOptions  LayerOptions
	SourceOptions map[string]any
	// Before is the id of the layer the derived layers are inserted below.
	Before string

	Symbol        LayerProps
	Line          LayerProps
	Fill          LayerProps
	FillExtrusion LayerProps
	Circle        LayerProps
}

// LayerOptions are merged into every derived layer.
type LayerOptions struct {
	Filter      mapgl.Filter
	SourceLayer string
	MinZoom     float64
	MaxZoom     float64
	Metadata    map[string]any
}

// LayerProps configures one derived layer.
type LayerProps struct {
	Paint map[string]any
	// Layout defaults to visible when Paint is set and hidden otherwise.
	Layout   map[string]any
	Handlers Handlers
}

// Handlers holds one listener slot per mouse event kind.
type Handlers struct {
	MouseMove  *mapgl.Listener
	MouseEnter *mapgl.Listener
	MouseLeave *mapgl.Listener
	MouseDown  *mapgl.Listener
	MouseUp    *mapgl.Listener
	Click      *mapgl.Listener
}

// Get returns the listener for kind, nil when unset or not a mouse event.
func (h Handlers) Get(kind mapgl.EventKind) *mapgl.Listener {
	switch kind {
	case mapgl.EventMouseMove:
		return h.MouseMove
	case mapgl.EventMouseEnter:
		return h.MouseEnter
	case mapgl.EventMouseLeave:
		return h.MouseLeave
	case mapgl.EventMouseDown:
		return h.MouseDown
	case mapgl.EventMouseUp:
		return h.MouseUp
	case mapgl.EventClick:
		return h.Click
	}
	return nil
}

// Set assigns the listener for kind. Unknown kinds are ignored.
func (h *Handlers) Set(kind mapgl.EventKind, l *mapgl.Listener) {
	switch kind {
	case mapgl.EventMouseMove:
		h.MouseMove = l
	case mapgl.EventMouseEnter:
		h.MouseEnter = l
	case mapgl.EventMouseLeave:
		h.MouseLeave = l
	case mapgl.EventMouseDown:
		h.MouseDown = l
	case mapgl.EventMouseUp:
		h.MouseUp = l
	case mapgl.EventClick:
		h.Click = l
	}
}

// Layer returns the configuration of layer type t.
func (p Props) Layer(t mapgl.LayerType) LayerProps {
	switch t {
	case mapgl.Symbol:
		return p.Symbol
	case mapgl.Line:
		return p.Line
	case mapgl.Fill:
		return p.Fill
	case mapgl.FillExtrusion:
		return p.FillExtrusion
	case mapgl.Circle:
		return p.Circle
	}
	return LayerProps{}
}

// SetLayer replaces the configuration of layer type t.
func (p *Props) SetLayer(t mapgl.LayerType, lp LayerProps) {
	switch t {
	case mapgl.Symbol:
		p.Symbol = lp
	case mapgl.Line:
		p.Line = lp
	case mapgl.Fill:
		p.Fill = lp
	case mapgl.FillExtrusion:
		p.FillExtrusion = lp
	case mapgl.Circle:
		p.Circle = lp
	}
}
