package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir string
	dbOK    bool
	s3OK    bool
}

func NewInfoHandler(dataDir string, dbOK, s3OK bool) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, dbOK: dbOK, s3OK: s3OK}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	DB       bool     `json:"db" doc:"Whether database is available"`
	Features []string `json:"features" doc:"Available data reference kinds"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"inline", "file", "url"}
	if h.dbOK {
		features = append(features, "sql")
	}
	if h.s3OK {
		features = append(features, "s3")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "geobind",
		Version:  "0.1.0",
		DataDir:  h.dataDir,
		DB:       h.dbOK,
		Features: features,
	}}, nil
}
