package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/geobind/internal/remote"
	"github.com/joeblew999/geobind/internal/service"
)

type testEnv struct {
	api  humatest.TestAPI
	mux  *http.ServeMux
	maps *service.MapService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	loader, err := service.NewLoader(service.LoaderConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	maps := service.NewMapService("", loader)
	t.Cleanup(func() {
		maps.Close()
		loader.Close()
	})

	mux := http.NewServeMux()
	config := huma.DefaultConfig("geobind test", "1.0.0")
	config.Transformers = append(config.Transformers, LinkTransformer())
	api := humatest.Wrap(t, humago.New(mux, config))
	RegisterRoutes(api, &Services{Maps: maps, Loader: loader}, NewInfoHandler("", false, false))

	return &testEnv{api: api, mux: mux, maps: maps}
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &v), resp.Body.String())
	return v
}

func drain(ch chan remote.Command) []remote.Command {
	var out []remote.Command
	for {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

var emptyFC = map[string]any{"type": "FeatureCollection", "features": []any{}}

func roads(color string) map[string]any {
	return map[string]any{
		"id":   "roads",
		"data": map[string]any{"inline": emptyFC},
		"line": map[string]any{
			"paint": map[string]any{"line-color": color},
			"on":    map[string]any{"click": "select"},
		},
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)
	body := decode[HealthBody](t, resp)
	assert.Equal(t, "ok", body.Status)
	assert.Contains(t, resp.Header().Values("Link"), `</api/v1/maps>; rel="maps"`)

	resp = env.api.Get("/api/v1/info")
	require.Equal(t, http.StatusOK, resp.Code)
	info := decode[InfoBody](t, resp)
	assert.Equal(t, "geobind", info.Name)
	assert.Equal(t, []string{"inline", "file", "url"}, info.Features)
}

func TestMapsCRUD(t *testing.T) {
	env := newTestEnv(t)

	resp := env.api.Post("/api/v1/maps", map[string]any{
		"id":       "main",
		"style":    map[string]any{"version": 8, "name": "basemap", "sources": map[string]any{}, "layers": []any{}},
		"bindings": []any{roads("#000")},
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	info := decode[service.MapInfo](t, resp)
	assert.Equal(t, service.MapInfo{ID: "main", Style: "basemap", Bindings: 1}, info)

	resp = env.api.Post("/api/v1/maps", map[string]any{"id": "main"})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = env.api.Get("/api/v1/maps")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode[[]service.MapInfo](t, resp), 1)

	resp = env.api.Get("/api/v1/maps/main/style")
	require.Equal(t, http.StatusOK, resp.Code)
	style := decode[map[string]any](t, resp)
	assert.Contains(t, style["sources"], "roads")
	assert.Contains(t, resp.Header().Values("Link"), `</api/v1/maps/main/stream>; rel="stream"`)

	resp = env.api.Delete("/api/v1/maps/main")
	require.Equal(t, http.StatusOK, resp.Code)
	resp = env.api.Delete("/api/v1/maps/main")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = env.api.Get("/api/v1/maps/main/style")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestBindingsCRUD(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.maps.Create(context.Background(), "main", nil, nil)
	require.NoError(t, err)

	resp := env.api.Post("/api/v1/maps/main/bindings", roads("#000"))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	st := decode[service.BindingStatus](t, resp)
	assert.True(t, st.Mounted)
	assert.Contains(t, st.LayerIDs, "roads-line")

	resp = env.api.Post("/api/v1/maps/main/bindings", roads("#000"))
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = env.api.Get("/api/v1/maps/main/bindings")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode[[]service.BindingStatus](t, resp), 1)

	sess, err := env.maps.Get("main")
	require.NoError(t, err)
	_, ch := sess.Map().Attach()
	defer sess.Map().Detach(ch)

	resp = env.api.Put("/api/v1/maps/main/bindings/roads", roads("#fff"))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	cmds := drain(ch)
	require.Len(t, cmds, 1)
	assert.Equal(t, remote.OpSetPaintProperty, cmds[0].Op)
	assert.Equal(t, "#fff", cmds[0].Value)

	resp = env.api.Get("/api/v1/maps/main/bindings/roads")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "#fff", decode[service.BindingStatus](t, resp).Spec.Line.Paint["line-color"])
	assert.Contains(t, resp.Header().Values("Link"), `</api/v1/maps/main/bindings>; rel="collection"`)

	resp = env.api.Post("/api/v1/maps/main/bindings/roads/refresh")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = env.api.Delete("/api/v1/maps/main/bindings/roads")
	require.Equal(t, http.StatusOK, resp.Code)
	resp = env.api.Get("/api/v1/maps/main/bindings/roads")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = env.api.Get("/api/v1/maps/missing/bindings")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestBindingValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.maps.Create(context.Background(), "main", nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing data", map[string]any{"id": "a"}, http.StatusUnprocessableEntity},
		{"two data refs", map[string]any{"id": "a", "data": map[string]any{"url": "x", "file": "a.geojson"}}, http.StatusBadRequest},
		{"unknown action", map[string]any{"id": "a", "data": map[string]any{"url": "x"}, "fill": map[string]any{"on": map[string]any{"click": "zoom"}}}, http.StatusBadRequest},
		{"missing file", map[string]any{"id": "a", "data": map[string]any{"file": "nope.geojson"}}, http.StatusNotFound},
		{"unknown before", map[string]any{"id": "a", "data": map[string]any{"url": "x"}, "before": "nope"}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.api.Post("/api/v1/maps/main/bindings", tt.body)
			assert.Equal(t, tt.want, resp.Code, resp.Body.String())
		})
	}
}

func TestEventsAndStyleReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess, err := env.maps.Create(ctx, "main", nil, nil)
	require.NoError(t, err)
	resp := env.api.Post("/api/v1/maps/main/bindings", roads("#000"))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	_, ch := sess.Map().Attach()
	defer sess.Map().Detach(ch)

	resp = env.api.Post("/api/v1/maps/main/events", map[string]any{
		"kind":   "click",
		"layer":  "roads-line",
		"lngLat": []float64{13.4, 52.5},
		"features": []any{map[string]any{
			"type":       "Feature",
			"geometry":   map[string]any{"type": "Point", "coordinates": []float64{13.4, 52.5}},
			"properties": map[string]any{"name": "Unter den Linden"},
		}},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	cmds := drain(ch)
	require.Len(t, cmds, 1)
	assert.Equal(t, remote.OpSignals, cmds[0].Op)

	resp = env.api.Post("/api/v1/maps/main/events", map[string]any{"kind": "styledata", "layer": "", "lngLat": []float64{0, 0}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = env.api.Put("/api/v1/maps/main/style", map[string]any{"version": 8, "name": "dark", "sources": map[string]any{}, "layers": []any{}})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	style := decode[map[string]any](t, resp)
	assert.Equal(t, "dark", style["name"])
	assert.Contains(t, style["sources"], "roads")

	st, err := sess.Binding("roads")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Rebuilds)
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t)

	resp := env.api.Post("/api/v1/data/preview", map[string]any{
		"inline": map[string]any{
			"type": "FeatureCollection",
			"features": []any{
				map[string]any{"type": "Feature", "properties": map[string]any{}, "geometry": map[string]any{"type": "Point", "coordinates": []float64{1, 2}}},
				map[string]any{"type": "Feature", "properties": map[string]any{}, "geometry": map[string]any{"type": "LineString", "coordinates": [][]float64{{-1, 0}, {3, 5}}}},
			},
		},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decode[PreviewBody](t, resp)
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, []float64{-1, 0, 3, 5}, body.BBox)
	assert.Equal(t, map[string]int{"Point": 1, "LineString": 1}, body.Geometries)

	resp = env.api.Post("/api/v1/data/preview", map[string]any{"url": "https://example.com/a.geojson"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.api.Get("/api/v1/tables")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	resp = env.api.Get("/api/v1/sources")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, decode[[]service.SourceFile](t, resp))
}

func TestStream(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess, err := env.maps.Create(ctx, "main", nil, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/maps/main/stream", nil)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.mux.ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool { return sess.Map().Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	spec := service.BindingSpec{
		ID:   "roads",
		Data: service.DataRef{Inline: emptyFC},
		Line: &service.LayerSpec{Paint: map[string]any{"line-color": "#000"}, On: map[string]string{"click": service.ActionSelect}},
	}
	_, err = sess.Mount(ctx, spec)
	require.NoError(t, err)
	sess.Map().Signal(map[string]any{"selected": nil})
	require.NoError(t, env.maps.Delete("main"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after the map was deleted")
	}

	body := rec.Body.String()
	assert.Contains(t, body, EventStyle)
	assert.Contains(t, body, EventCommand)
	assert.Contains(t, body, remote.OpAddSource)
	assert.Contains(t, body, "datastar-patch-signals")
	assert.Zero(t, sess.Map().Subscribers())
}
