// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	"github.com/joeblew999/geobind/internal/mapgl"
	"github.com/joeblew999/geobind/internal/service"
	"github.com/joeblew999/geobind/internal/styledoc"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Maps   *service.MapService
	Loader *service.Loader
	DB     *sql.DB
}

// Types

type MapIDInput struct {
	Map string `path:"map" doc:"Map ID" example:"main"`
}

type BindingIDInput struct {
	MapIDInput
	ID string `path:"id" doc:"Binding ID" example:"roads"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

type CreateMapBody struct {
	ID       string                `json:"id,omitempty" doc:"Map ID, generated when empty" example:"main"`
	Style    map[string]any        `json:"style,omitempty" doc:"Base MapLibre style document"`
	Bindings []service.BindingSpec `json:"bindings,omitempty" doc:"Bindings to mount"`
}

// APIHandler holds the REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every API route on api.
func RegisterRoutes(api huma.API, svc *Services, info *InfoHandler) {
	huma.AutoRegister(api, NewAPIHandler(svc))
	huma.AutoRegister(api, NewStreamHandler(svc.Maps))
	huma.AutoRegister(api, NewDataHandler(svc.Loader, svc.DB))
	info.RegisterRoutes(api)
}

// created sets 201 as the success status.
func created(op *huma.Operation) {
	op.DefaultStatus = http.StatusCreated
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterMaps registers map session routes.
func (h *APIHandler) RegisterMaps(api huma.API) {
	huma.Get(api, "/api/v1/maps", h.GetMaps, huma.OperationTags("maps"))
	huma.Post(api, "/api/v1/maps", h.CreateMap, huma.OperationTags("maps"), created)
	huma.Delete(api, "/api/v1/maps/{map}", h.DeleteMap, huma.OperationTags("maps"))
	huma.Get(api, "/api/v1/maps/{map}/style", h.GetStyle, huma.OperationTags("maps"))
	huma.Put(api, "/api/v1/maps/{map}/style", h.PutStyle, huma.OperationTags("maps"))
}

// RegisterSources registers source listing routes.
func (h *APIHandler) RegisterSources(api huma.API) {
	huma.Get(api, "/api/v1/sources", h.GetSources, huma.OperationTags("sources"))
}

// httpError maps service and map errors to Huma errors.
func httpError(err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrExists), errors.Is(err, styledoc.ErrExists):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, service.ErrInvalid):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, styledoc.ErrNotFound), errors.Is(err, styledoc.ErrInUse), errors.Is(err, styledoc.ErrRemoved):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	log.Error().Err(err).Msg("Request failed")
	return huma.Error500InternalServerError("internal error", err)
}

// decodeStyle converts a JSON style document into a style.
func decodeStyle(doc map[string]any) (*mapgl.Style, error) {
	if doc == nil {
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid style: " + err.Error())
	}
	var style mapgl.Style
	if err := json.Unmarshal(raw, &style); err != nil {
		return nil, huma.Error400BadRequest("invalid style: " + err.Error())
	}
	return &style, nil
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetMaps(ctx context.Context, input *struct{}) (*struct{ Body []service.MapInfo }, error) {
	return &struct{ Body []service.MapInfo }{Body: h.svc.Maps.List()}, nil
}

func (h *APIHandler) CreateMap(ctx context.Context, input *struct{ Body CreateMapBody }) (*struct{ Body service.MapInfo }, error) {
	style, err := decodeStyle(input.Body.Style)
	if err != nil {
		return nil, err
	}
	sess, err := h.svc.Maps.Create(ctx, input.Body.ID, style, input.Body.Bindings)
	if sess == nil {
		return nil, httpError(err)
	}
	if err != nil {
		// the map exists; its failed bindings are reported in the log
		log.Warn().Err(err).Str("map", sess.ID()).Msg("Some bindings failed to mount")
	}
	return &struct{ Body service.MapInfo }{Body: sess.Info()}, nil
}

func (h *APIHandler) DeleteMap(ctx context.Context, input *MapIDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Maps.Delete(input.Map); err != nil {
		return nil, httpError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Map deleted"}}, nil
}

func (h *APIHandler) GetStyle(ctx context.Context, input *MapIDInput) (*struct{ Body *mapgl.Style }, error) {
	sess, err := h.svc.Maps.Get(input.Map)
	if err != nil {
		return nil, httpError(err)
	}
	return &struct{ Body *mapgl.Style }{Body: sess.Style()}, nil
}

// PutStyle records a style swap performed by the browser. Bindings whose
// source went missing rebuild themselves and stream their commands back.
func (h *APIHandler) PutStyle(ctx context.Context, input *struct {
	MapIDInput
	Body map[string]any
}) (*struct{ Body *mapgl.Style }, error) {
	sess, err := h.svc.Maps.Get(input.Map)
	if err != nil {
		return nil, httpError(err)
	}
	style, err := decodeStyle(input.Body)
	if err != nil {
		return nil, err
	}
	if err := sess.ResetStyle(style); err != nil {
		return nil, httpError(err)
	}
	return &struct{ Body *mapgl.Style }{Body: sess.Style()}, nil
}

func (h *APIHandler) GetSources(ctx context.Context, input *struct{}) (*struct{ Body []service.SourceFile }, error) {
	if h.svc.Loader == nil {
		return &struct{ Body []service.SourceFile }{Body: []service.SourceFile{}}, nil
	}
	sources, err := h.svc.Loader.Sources()
	if err != nil {
		return &struct{ Body []service.SourceFile }{Body: []service.SourceFile{}}, nil
	}
	return &struct{ Body []service.SourceFile }{Body: sources}, nil
}
