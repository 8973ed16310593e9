package binding

import (
	"strings"

	"github.com/google/uuid"

	"github.com/joeblew999/geobind/internal/mapgl"
)

// GenerateID returns a fresh binding id.
func GenerateID() string {
	return "geojson-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// LayerID derives the id of the layer of type t owned by binding id.
func LayerID(id string, t mapgl.LayerType) string {
	return id + "-" + string(t)
}
