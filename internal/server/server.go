package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/zerolog/log"

	"github.com/joeblew999/geobind/internal/api"
	"github.com/joeblew999/geobind/internal/db"
	"github.com/joeblew999/geobind/internal/service"
	"github.com/joeblew999/geobind/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	WebDir  string // Path to web/ directory for static files and templates
	S3      service.S3Config
}

// Server is the geobind HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	db       *sql.DB
	services *api.Services
	pages    *templates.Renderer
}

// New creates a new server and restores the saved maps.
func New(ctx context.Context, cfg Config) (*Server, error) {
	mux := http.NewServeMux()

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("geobind API", "1.0.0")
	humaConfig.Info.Description = "Declarative GeoJSON layer bindings for browser maps: mount, update and unmount sources and layers, and stream the resulting map calls."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	humaAPI := humago.New(mux, humaConfig)

	s := &Server{
		config:  cfg,
		mux:     mux,
		humaAPI: humaAPI,
	}

	// Initialize DuckDB connection
	conn, err := db.Open(db.Config{
		DataDir: cfg.DataDir,
		DBName:  "geo",
	})
	if err != nil {
		log.Warn().Err(err).Msg("DuckDB not available, sql data disabled")
	} else {
		s.db = conn
	}

	var fetcher service.ObjectFetcher
	if cfg.S3.Endpoint != "" || cfg.S3.Region != "" {
		f, err := service.NewS3Fetcher(ctx, cfg.S3)
		if err != nil {
			log.Warn().Err(err).Msg("S3 not available, s3 data disabled")
		} else {
			fetcher = f
		}
	}

	loader, err := service.NewLoader(service.LoaderConfig{
		DataDir: cfg.DataDir,
		DB:      s.db,
		S3:      fetcher,
	})
	if err != nil {
		s.closeDB()
		return nil, err
	}

	s.services = &api.Services{
		Maps:   service.NewMapService(cfg.DataDir, loader),
		Loader: loader,
		DB:     s.db,
	}

	if cfg.WebDir != "" {
		pages, err := templates.New(filepath.Join(cfg.WebDir, "templates"))
		if err != nil {
			log.Warn().Err(err).Str("dir", cfg.WebDir).Msg("Templates not available, viewer disabled")
		} else {
			s.pages = pages
		}
	}

	s.routes(fetcher != nil)
	s.handler = RequestLogger(mux)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Maps returns the map service.
func (s *Server) Maps() *service.MapService {
	return s.services.Maps
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Close removes the live maps and closes server resources. The saved map
// state is kept for the next start.
func (s *Server) Close() error {
	s.services.Maps.Close()
	s.services.Loader.Close()
	return s.closeDB()
}

func (s *Server) closeDB() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Server) routes(s3OK bool) {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, s.services, api.NewInfoHandler(s.config.DataDir, s.db != nil, s3OK))

	// Static files and templates
	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}

	// Page routes
	s.mux.HandleFunc("/viewer", s.handleViewer)
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Add("Link", `</api/v1/maps>; rel="maps"`)
	w.Header().Add("Link", `</viewer>; rel="viewer"`)
	json.NewEncoder(w).Encode(map[string]any{
		"service": "geobind",
		"status":  "running",
		"maps":    len(s.services.Maps.List()),
	})
}

// viewerPage is the data for viewer.html.
type viewerPage struct {
	Map          string
	API          string
	EventStyle   string
	EventCommand string
}

// handleViewer serves the browser map for ?map=<id>.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	if s.pages == nil {
		http.Error(w, "viewer not available", http.StatusServiceUnavailable)
		return
	}
	id := r.URL.Query().Get("map")
	if _, err := s.services.Maps.Get(id); err != nil {
		http.Error(w, fmt.Sprintf("map %q not found", id), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := s.pages.Render(w, "viewer.html", viewerPage{
		Map:          id,
		API:          "/api/v1/maps/" + url.PathEscape(id),
		EventStyle:   api.EventStyle,
		EventCommand: api.EventCommand,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to render viewer")
	}
}
