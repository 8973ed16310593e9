package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	"github.com/joeblew999/geobind/internal/humastar"
	"github.com/joeblew999/geobind/internal/remote"
	"github.com/joeblew999/geobind/internal/service"
)

// Browser CustomEvent names on the map stream.
const (
	EventStyle   = "mapgl-style"
	EventCommand = "mapgl-command"
)

// StreamHandler streams map commands to the browser via Datastar SSE.
type StreamHandler struct {
	humastar.Handler
	maps *service.MapService
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(maps *service.MapService) *StreamHandler {
	return &StreamHandler{maps: maps}
}

func (h *StreamHandler) RegisterStream(api huma.API) {
	huma.Get(api, "/api/v1/maps/{map}/stream", h.Stream,
		huma.OperationTags("maps"),
	)
}

// Stream sends the current style as a mapgl-style event, then one
// mapgl-command event per map call in order. Signal commands patch
// Datastar signals instead. The stream ends when the client goes away or
// the map is deleted.
func (h *StreamHandler) Stream(ctx context.Context, input *MapIDInput) (*huma.StreamResponse, error) {
	sess, err := h.maps.Get(input.Map)
	if err != nil {
		return nil, httpError(err)
	}
	m := sess.Map()

	return h.Handler.Stream(func(sse humastar.SSE) {
		snapshot, ch := m.Attach()
		defer m.Detach(ch)

		logger := log.With().Str("map", m.ID()).Logger()
		logger.Debug().Int("subscribers", m.Subscribers()).Msg("Browser attached")
		defer logger.Debug().Msg("Browser detached")

		if !sse.Event(EventStyle, snapshot) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-ch:
				if !ok {
					return
				}
				var sent bool
				switch c.Op {
				case remote.OpSignals:
					sent = sse.Signals(c.Value)
				default:
					sent = sse.Event(EventCommand, c)
				}
				if !sent || c.Op == remote.OpRemove {
					return
				}
			}
		}
	}), nil
}
