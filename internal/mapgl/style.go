package mapgl

import (
	"encoding/json"
	"maps"
)

// LayerType is a style layer type.
type LayerType string

const (
	Symbol        LayerType = "symbol"
	Line          LayerType = "line"
	Fill          LayerType = "fill"
	FillExtrusion LayerType = "fill-extrusion"
	Circle        LayerType = "circle"
)

// LayerTypes lists the layer types a GeoJSON binding derives, in creation order.
var LayerTypes = []LayerType{Symbol, Line, Fill, FillExtrusion, Circle}

// Valid reports whether t is one of LayerTypes.
func (t LayerType) Valid() bool {
	switch t {
	case Symbol, Line, Fill, FillExtrusion, Circle:
		return true
	}
	return false
}

// SourceTypeGeoJSON is the only source type bindings register.
const SourceTypeGeoJSON = "geojson"

// Filter is a style filter expression, e.g. ["==", ["get", "kind"], "park"].
type Filter []any

// Source is a source descriptor. Options carries type specific settings
// (cluster, buffer, tolerance, ...) and is flattened next to type and data
// when encoded.
type Source struct {
	Type    string
	Data    any
	Options map[string]any
}

// MarshalJSON encodes the source as a style sources entry.
func (s Source) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.Options)+2)
	maps.Copy(m, s.Options)
	m["type"] = s.Type
	if s.Data != nil {
		m["data"] = s.Data
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes a style sources entry. Data is kept as raw JSON.
func (s *Source) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	s.Type, _ = m["type"].(string)
	s.Data = m["data"]
	delete(m, "type")
	delete(m, "data")
	if len(m) > 0 {
		s.Options = m
	} else {
		s.Options = nil
	}
	return nil
}

// Layer is a style layer descriptor.
type Layer struct {
	ID          string         `json:"id"`
	Type        LayerType      `json:"type"`
	Source      string         `json:"source,omitempty"`
	SourceLayer string         `json:"source-layer,omitempty"`
	MinZoom     float64        `json:"minzoom,omitempty"`
	MaxZoom     float64        `json:"maxzoom,omitempty"`
	Filter      Filter         `json:"filter,omitempty"`
	Paint       map[string]any `json:"paint,omitempty"`
	Layout      map[string]any `json:"layout,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy of l whose maps and filter can be mutated freely.
func (l Layer) Clone() Layer {
	l.Paint = maps.Clone(l.Paint)
	l.Layout = maps.Clone(l.Layout)
	l.Metadata = maps.Clone(l.Metadata)
	if l.Filter != nil {
		l.Filter = append(Filter(nil), l.Filter...)
	}
	return l
}

// Style is a style document: sources plus an ordered layer stack.
type Style struct {
	Version int               `json:"version"`
	Name    string            `json:"name,omitempty"`
	Sources map[string]Source `json:"sources"`
	Layers  []Layer           `json:"layers"`
}

// NewStyle returns an empty version 8 style.
func NewStyle(name string) *Style {
	return &Style{Version: 8, Name: name, Sources: map[string]Source{}}
}

// Clone returns a deep enough copy of s for independent mutation of the
// source set and the layer stack.
func (s *Style) Clone() *Style {
	if s == nil {
		return nil
	}
	c := &Style{Version: s.Version, Name: s.Name, Sources: make(map[string]Source, len(s.Sources))}
	for id, src := range s.Sources {
		src.Options = maps.Clone(src.Options)
		c.Sources[id] = src
	}
	c.Layers = make([]Layer, len(s.Layers))
	for i, l := range s.Layers {
		c.Layers[i] = l.Clone()
	}
	return c
}
