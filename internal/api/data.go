package api

import (
	"context"
	"database/sql"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/geobind/internal/service"
)

// DataHandler inspects data references before they are bound to a map.
type DataHandler struct {
	loader *service.Loader
	db     *sql.DB
}

// NewDataHandler creates a new data handler. db may be nil.
func NewDataHandler(loader *service.Loader, db *sql.DB) *DataHandler {
	return &DataHandler{loader: loader, db: db}
}

// RegisterData registers data routes with Huma.
func (h *DataHandler) RegisterData(api huma.API) {
	huma.Post(api, "/api/v1/data/preview", h.Preview, huma.OperationTags("data"))
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("data"))
}

// PreviewBody summarizes a loaded payload.
type PreviewBody struct {
	Count      int            `json:"count" doc:"Number of features"`
	BBox       []float64      `json:"bbox,omitempty" doc:"Bounds [west, south, east, north]"`
	Geometries map[string]int `json:"geometries" doc:"Feature count per geometry type"`
}

// Preview loads a data reference and summarizes it.
func (h *DataHandler) Preview(ctx context.Context, input *struct{ Body service.DataRef }) (*struct{ Body PreviewBody }, error) {
	if h.loader == nil {
		return nil, huma.Error503ServiceUnavailable("Data loader not available")
	}
	if input.Body.URL != "" {
		return nil, huma.Error400BadRequest("url data is loaded by the browser and cannot be previewed")
	}

	data, err := h.loader.Load(ctx, input.Body)
	if err != nil {
		return nil, httpError(err)
	}
	fc, ok := data.(*geojson.FeatureCollection)
	if !ok {
		return nil, httpError(errors.New("unexpected payload type"))
	}
	return &struct{ Body PreviewBody }{Body: preview(fc)}, nil
}

func preview(fc *geojson.FeatureCollection) PreviewBody {
	body := PreviewBody{Count: len(fc.Features), Geometries: map[string]int{}}

	var bound orb.Bound
	first := true
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		body.Geometries[f.Geometry.GeoJSONType()]++
		if first {
			bound, first = f.Geometry.Bound(), false
		} else {
			bound = bound.Union(f.Geometry.Bound())
		}
	}
	if !first {
		body.BBox = []float64{bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat()}
	}
	return body
}

// TablesOutput is the response for listing tables.
type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"DuckDB tables usable in sql data references"`
	}
}

// ListTables returns all DuckDB tables.
func (h *DataHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	rows, err := h.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	defer rows.Close()

	out := &TablesOutput{}
	out.Body.Tables = []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			out.Body.Tables = append(out.Body.Tables, name)
		}
	}
	return out, nil
}
