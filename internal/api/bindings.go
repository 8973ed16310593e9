package api

import (
	"context"
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/geobind/internal/mapgl"
	"github.com/joeblew999/geobind/internal/service"
)

type BindingOutput struct {
	Body service.BindingStatus
}

type BindingsOutput struct {
	Body []service.BindingStatus
}

// EventBody is a mouse event forwarded by the browser map.
type EventBody struct {
	Kind     mapgl.EventKind  `json:"kind" enum:"mousemove,mouseenter,mouseleave,mousedown,mouseup,click" doc:"Event kind"`
	Layer    string           `json:"layer" doc:"Layer the event fired on" example:"roads-line"`
	LngLat   [2]float64       `json:"lngLat" doc:"Geographic position [lng, lat]"`
	Point    [2]float64       `json:"point,omitempty" doc:"Pixel position on the canvas"`
	Features []map[string]any `json:"features,omitempty" doc:"Rendered features under the pointer, as GeoJSON"`
}

// RegisterBindings registers layer binding routes.
func (h *APIHandler) RegisterBindings(api huma.API) {
	huma.Get(api, "/api/v1/maps/{map}/bindings", h.GetBindings, huma.OperationTags("bindings"))
	huma.Post(api, "/api/v1/maps/{map}/bindings", h.MountBinding, huma.OperationTags("bindings"), created)
	huma.Get(api, "/api/v1/maps/{map}/bindings/{id}", h.GetBinding, huma.OperationTags("bindings"))
	huma.Put(api, "/api/v1/maps/{map}/bindings/{id}", h.UpdateBinding, huma.OperationTags("bindings"))
	huma.Delete(api, "/api/v1/maps/{map}/bindings/{id}", h.UnmountBinding, huma.OperationTags("bindings"))
	huma.Post(api, "/api/v1/maps/{map}/bindings/{id}/refresh", h.RefreshBinding, huma.OperationTags("bindings"))
}

func (h *APIHandler) session(id string) (*service.Session, error) {
	sess, err := h.svc.Maps.Get(id)
	if err != nil {
		return nil, httpError(err)
	}
	return sess, nil
}

func (h *APIHandler) GetBindings(ctx context.Context, input *MapIDInput) (*BindingsOutput, error) {
	sess, err := h.session(input.Map)
	if err != nil {
		return nil, err
	}
	return &BindingsOutput{Body: sess.Bindings()}, nil
}

func (h *APIHandler) MountBinding(ctx context.Context, input *struct {
	MapIDInput
	Body service.BindingSpec
}) (*BindingOutput, error) {
	sess, err := h.session(input.Map)
	if err != nil {
		return nil, err
	}
	st, err := sess.Mount(ctx, input.Body)
	if err != nil {
		return nil, httpError(err)
	}
	return &BindingOutput{Body: st}, nil
}

func (h *APIHandler) GetBinding(ctx context.Context, input *BindingIDInput) (*BindingOutput, error) {
	sess, err := h.session(input.Map)
	if err != nil {
		return nil, err
	}
	st, err := sess.Binding(input.ID)
	if err != nil {
		return nil, httpError(err)
	}
	return &BindingOutput{Body: st}, nil
}

// UpdateBinding applies a new spec. Only what changed reaches the map.
func (h *APIHandler) UpdateBinding(ctx context.Context, input *struct {
	BindingIDInput
	Body service.BindingSpec
}) (*BindingOutput, error) {
	sess, err := h.session(input.Map)
	if err != nil {
		return nil, err
	}
	st, err := sess.Update(ctx, input.ID, input.Body)
	if err != nil {
		return nil, httpError(err)
	}
	return &BindingOutput{Body: st}, nil
}

func (h *APIHandler) UnmountBinding(ctx context.Context, input *BindingIDInput) (*struct{ Body MessageBody }, error) {
	sess, err := h.session(input.Map)
	if err != nil {
		return nil, err
	}
	if err := sess.Unmount(input.ID); err != nil {
		return nil, httpError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Binding unmounted"}}, nil
}

// RefreshBinding reloads the binding's data past the cache.
func (h *APIHandler) RefreshBinding(ctx context.Context, input *BindingIDInput) (*BindingOutput, error) {
	sess, err := h.session(input.Map)
	if err != nil {
		return nil, err
	}
	st, err := sess.Refresh(ctx, input.ID)
	if err != nil {
		return nil, httpError(err)
	}
	return &BindingOutput{Body: st}, nil
}

// RegisterEvents registers browser event ingress.
func (h *APIHandler) RegisterEvents(api huma.API) {
	huma.Post(api, "/api/v1/maps/{map}/events", h.PostEvent, huma.OperationTags("maps"))
}

// PostEvent delivers a browser mouse event to the bindings' listeners.
func (h *APIHandler) PostEvent(ctx context.Context, input *struct {
	MapIDInput
	Body EventBody
}) (*struct{ Body MessageBody }, error) {
	sess, err := h.session(input.Map)
	if err != nil {
		return nil, err
	}

	e := mapgl.Event{
		Kind:    input.Body.Kind,
		LayerID: input.Body.Layer,
		LngLat:  orb.Point(input.Body.LngLat),
		Point:   input.Body.Point,
	}
	for _, raw := range input.Body.Features {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid feature: " + err.Error())
		}
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid feature: " + err.Error())
		}
		e.Features = append(e.Features, f)
	}

	sess.Dispatch(e)
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Event dispatched"}}, nil
}
