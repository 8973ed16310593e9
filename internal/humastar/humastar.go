// Package humastar bridges Huma streaming responses with the Datastar SSE
// protocol.
//
// Usage:
//
//	type StreamHandler struct {
//	    humastar.Handler
//	    maps *service.MapService
//	}
//
//	func (h *StreamHandler) Stream(ctx context.Context, input *MapIDInput) (*huma.StreamResponse, error) {
//	    return h.Handler.Stream(func(sse humastar.SSE) {
//	        sse.Event("mapgl-command", cmd)
//	    }), nil
//	}
package humastar

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/zerolog/log"
	"github.com/starfederation/datastar-go/datastar"
)

// Handler is an embeddable base for Huma handlers that produce Datastar SSE
// responses.
type Handler struct{}

// Stream returns a Huma StreamResponse that calls fn with a ready SSE helper.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			fn(NewSSE(humaCtx))
		},
	}
}

// SSE wraps a Datastar SSE generator.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE creates a Datastar SSE helper from a Huma streaming context.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Event dispatches a browser CustomEvent named name with detail as its
// payload. It reports whether the write succeeded.
func (s SSE) Event(name string, detail any) bool {
	if err := s.DispatchCustomEvent(name, detail); err != nil {
		log.Debug().Err(err).Str("event", name).Msg("SSE write failed")
		return false
	}
	return true
}

// Signals patches datastar signals on the page.
func (s SSE) Signals(signals any) bool {
	if err := s.MarshalAndPatchSignals(signals); err != nil {
		log.Debug().Err(err).Msg("SSE write failed")
		return false
	}
	return true
}
