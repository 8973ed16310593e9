// Package mapgl describes the imperative API of an interactive map widget
// (Mapbox GL / MapLibre GL style) as consumed by layer bindings.
//
// The map itself is owned elsewhere: a browser map driven over SSE
// (internal/remote) or an in-process style document (internal/styledoc).
package mapgl

// Map is the subset of the map widget API a binding drives.
//
// Mutating calls return an error when the map rejects them (duplicate id,
// unknown layer, ...). Lookups report absence with a bool instead.
type Map interface {
	AddSource(id string, src Source) error
	GetSource(id string) (GeoJSONSource, bool)
	RemoveSource(id string) error

	AddLayer(layer Layer, before string) error
	GetLayer(id string) (Layer, bool)
	RemoveLayer(id string) error
	MoveLayer(id, before string) error

	SetFilter(id string, filter Filter) error
	SetPaintProperty(id, key string, value any) error
	SetLayoutProperty(id, key string, value any) error

	// On subscribes l to events of kind on layerID. Map-level events such
	// as EventStyleData use an empty layerID.
	On(kind EventKind, layerID string, l *Listener)
	Off(kind EventKind, layerID string, l *Listener)

	// GetStyle returns nil once the map has been removed or its style
	// is not loaded.
	GetStyle() *Style
}

// GeoJSONSource is a live source handle whose payload can be replaced in place.
type GeoJSONSource interface {
	SetData(data any) error
}
