// Package service contains the map sessions behind the geobind API: live
// remote maps, the layer bindings mounted on them, and data loading.
package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joeblew999/geobind/internal/binding"
	"github.com/joeblew999/geobind/internal/mapgl"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
	ErrInvalid  = errors.New("invalid")
)

// BindingSpec is the serializable, declarative form of a layer binding.
// Huma reads the tags for OpenAPI and validation; yaml tags serve the
// config file.
type BindingSpec struct {
	ID            string           `json:"id,omitempty" yaml:"id,omitempty" doc:"Binding id, also the source id; layer ids are <id>-<type>" example:"roads"`
	Data          DataRef          `json:"data" yaml:"data" doc:"Where the GeoJSON payload comes from"`
	Before        string           `json:"before,omitempty" yaml:"before,omitempty" doc:"Insert the layers below this layer id" example:"place-labels"`
	SourceOptions map[string]any   `json:"sourceOptions,omitempty" yaml:"sourceOptions,omitempty" doc:"Extra GeoJSON source options (cluster, buffer, tolerance, ...)"`
	LayerOptions  LayerOptionsSpec `json:"layerOptions,omitempty" yaml:"layerOptions,omitempty" doc:"Options merged into every derived layer"`

	Symbol        *LayerSpec `json:"symbol,omitempty" yaml:"symbol,omitempty" doc:"Symbol layer"`
	Line          *LayerSpec `json:"line,omitempty" yaml:"line,omitempty" doc:"Line layer"`
	Fill          *LayerSpec `json:"fill,omitempty" yaml:"fill,omitempty" doc:"Fill layer"`
	FillExtrusion *LayerSpec `json:"fillExtrusion,omitempty" yaml:"fillExtrusion,omitempty" doc:"Fill-extrusion layer"`
	Circle        *LayerSpec `json:"circle,omitempty" yaml:"circle,omitempty" doc:"Circle layer"`
}

// LayerOptionsSpec mirrors binding.LayerOptions.
type LayerOptionsSpec struct {
	Filter      []any          `json:"filter,omitempty" yaml:"filter,omitempty" doc:"Filter expression applied to every layer"`
	SourceLayer string         `json:"sourceLayer,omitempty" yaml:"sourceLayer,omitempty"`
	MinZoom     float64        `json:"minzoom,omitempty" yaml:"minzoom,omitempty" minimum:"0" maximum:"24"`
	MaxZoom     float64        `json:"maxzoom,omitempty" yaml:"maxzoom,omitempty" minimum:"0" maximum:"24"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// LayerSpec configures one derived layer.
type LayerSpec struct {
	Paint  map[string]any `json:"paint,omitempty" yaml:"paint,omitempty" doc:"Paint properties"`
	Layout map[string]any `json:"layout,omitempty" yaml:"layout,omitempty" doc:"Layout properties; visibility defaults from paint"`
	// On maps a mouse event kind to a server side action.
	On map[string]string `json:"on,omitempty" yaml:"on,omitempty" doc:"Mouse event kind to action (log, select, cursor)"`
}

// DataRef says where a payload comes from. Exactly one field is set.
type DataRef struct {
	Inline any    `json:"inline,omitempty" yaml:"inline,omitempty" doc:"Inline GeoJSON"`
	File   string `json:"file,omitempty" yaml:"file,omitempty" doc:"GeoJSON file in the sources directory" example:"roads.geojson"`
	SQL    string `json:"sql,omitempty" yaml:"sql,omitempty" doc:"DuckDB query returning a GeoJSON 'geometry' column"`
	S3     string `json:"s3,omitempty" yaml:"s3,omitempty" doc:"s3://bucket/key of a GeoJSON object"`
	URL    string `json:"url,omitempty" yaml:"url,omitempty" doc:"URL the browser fetches itself"`
}

// Validate checks that exactly one reference is set.
func (r DataRef) Validate() error {
	n := 0
	for _, set := range []bool{r.Inline != nil, r.File != "", r.SQL != "", r.S3 != "", r.URL != ""} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("data: exactly one of inline, file, sql, s3, url must be set: %w", ErrInvalid)
	}
	if r.S3 != "" && !strings.HasPrefix(r.S3, "s3://") {
		return fmt.Errorf("data: %q is not an s3:// url: %w", r.S3, ErrInvalid)
	}
	return nil
}

// key identifies cacheable references. Inline and URL data are not cached.
func (r DataRef) key() (string, bool) {
	switch {
	case r.File != "":
		return "file:" + r.File, true
	case r.SQL != "":
		return "sql:" + r.SQL, true
	case r.S3 != "":
		return r.S3, true
	}
	return "", false
}

// Layer returns the spec of layer type t, nil when absent.
func (s *BindingSpec) Layer(t mapgl.LayerType) *LayerSpec {
	switch t {
	case mapgl.Symbol:
		return s.Symbol
	case mapgl.Line:
		return s.Line
	case mapgl.Fill:
		return s.Fill
	case mapgl.FillExtrusion:
		return s.FillExtrusion
	case mapgl.Circle:
		return s.Circle
	}
	return nil
}

// Validate checks data, event kinds and action names.
func (s *BindingSpec) Validate() error {
	if err := s.Data.Validate(); err != nil {
		return err
	}
	for _, t := range mapgl.LayerTypes {
		ls := s.Layer(t)
		if ls == nil {
			continue
		}
		for kind, action := range ls.On {
			if !mapgl.EventKind(kind).IsMouse() {
				return fmt.Errorf("%s.on: unknown event %q: %w", t, kind, ErrInvalid)
			}
			if !validAction(action) {
				return fmt.Errorf("%s.on.%s: unknown action %q: %w", t, kind, action, ErrInvalid)
			}
		}
	}
	return nil
}

// props converts the spec into binding properties. handler resolves the
// listener for an event action.
func (s *BindingSpec) props(data any, handler func(mapgl.LayerType, mapgl.EventKind, string) *mapgl.Listener) binding.Props {
	p := binding.Props{
		ID:            s.ID,
		Data:          data,
		Before:        s.Before,
		SourceOptions: s.SourceOptions,
		LayerOptions: binding.LayerOptions{
			Filter:      mapgl.Filter(s.LayerOptions.Filter),
			SourceLayer: s.LayerOptions.SourceLayer,
			MinZoom:     s.LayerOptions.MinZoom,
			MaxZoom:     s.LayerOptions.MaxZoom,
			Metadata:    s.LayerOptions.Metadata,
		},
	}
	for _, t := range mapgl.LayerTypes {
		ls := s.Layer(t)
		if ls == nil {
			continue
		}
		lp := binding.LayerProps{Paint: ls.Paint, Layout: ls.Layout}
		for kind, action := range ls.On {
			lp.Handlers.Set(mapgl.EventKind(kind), handler(t, mapgl.EventKind(kind), action))
		}
		p.SetLayer(t, lp)
	}
	return p
}
