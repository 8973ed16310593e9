package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/geobind/internal/config"
	"github.com/joeblew999/geobind/internal/logger"
	"github.com/joeblew999/geobind/internal/server"
	"github.com/joeblew999/geobind/internal/service"
)

// Options defines all CLI flags and env vars for the geobind server.
// Flags: --host, --port, --data-dir, --web-dir, --config, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_CONFIG, ...
type Options struct {
	Host    string `doc:"Host to bind to" default:"0.0.0.0"`
	Port    int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir string `doc:"Directory for geo data files and saved maps" default:".data"`
	WebDir  string `doc:"Path to web/ directory" default:"web"`
	Config  string `doc:"YAML file of maps and bindings to apply and watch" short:"c"`

	LogLevel string `doc:"Log level (debug, info, warn, error)" default:"info"`
	LogJSON  bool   `doc:"Log as JSON instead of console text"`

	S3Endpoint  string `doc:"S3 endpoint for s3:// data references"`
	S3Region    string `doc:"S3 region"`
	S3AccessKey string `doc:"S3 access key id"`
	S3SecretKey string `doc:"S3 secret access key"`
}

func newServer(ctx context.Context, opts *Options) (*server.Server, error) {
	return server.New(ctx, server.Config{
		Host:    opts.Host,
		Port:    fmt.Sprintf("%d", opts.Port),
		DataDir: opts.DataDir,
		WebDir:  opts.WebDir,
		S3: service.S3Config{
			Endpoint:        opts.S3Endpoint,
			Region:          opts.S3Region,
			AccessKeyID:     opts.S3AccessKey,
			SecretAccessKey: opts.S3SecretKey,
		},
	})
}

// applyConfig applies the config file once, then reapplies it on every change.
func applyConfig(ctx context.Context, path string, maps *service.MapService) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	applier := config.NewApplier(maps)
	if err := applier.Apply(ctx, cfg); err != nil {
		log.Warn().Err(err).Str("config", path).Msg("Config applied with errors")
	}

	go func() {
		err := config.Watch(ctx, path, func(cfg *config.Config) {
			if err := applier.Apply(ctx, cfg); err != nil {
				log.Warn().Err(err).Str("config", path).Msg("Config applied with errors")
				return
			}
			log.Info().Str("config", path).Int("maps", len(cfg.Maps)).Msg("Config reloaded")
		})
		if err != nil {
			log.Error().Err(err).Str("config", path).Msg("Config watch stopped")
		}
	}()
	return nil
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		logger.Logger{Level: opts.LogLevel, JSON: opts.LogJSON}.Setup()

		ctx, cancel := context.WithCancel(context.Background())
		var (
			srv        *server.Server
			httpServer *http.Server
		)

		hooks.OnStart(func() {
			var err error
			srv, err = newServer(ctx, opts)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create server")
			}
			httpServer = &http.Server{Addr: fmt.Sprintf("%s:%d", opts.Host, opts.Port), Handler: srv}

			if opts.Config != "" {
				if err := applyConfig(ctx, opts.Config, srv.Maps()); err != nil {
					log.Fatal().Err(err).Str("config", opts.Config).Msg("Failed to load config")
				}
			}

			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("geobind API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Viewer:  %s/viewer?map=<id>\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Println()

			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("Server error")
			}
		})

		hooks.OnStop(func() {
			cancel()
			if srv == nil {
				return
			}
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Shutdown")
			}
			if err := srv.Close(); err != nil {
				log.Warn().Err(err).Msg("Close")
			}
		})
	})

	cli.Root().Use = "geobind"
	cli.Root().Short = "Declarative GeoJSON layer bindings for browser maps"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			logger.Logger{Level: "error"}.Setup()
			srv, err := newServer(context.Background(), opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating server: %v\n", err)
				os.Exit(1)
			}
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// check subcommand: validate a config file without starting the server
	checkCmd := &cobra.Command{
		Use:   "check <config.yaml>",
		Short: "Validate a maps config file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
				os.Exit(1)
			}
			for _, m := range cfg.Maps {
				if _, err := cfg.LoadStyle(m); err != nil {
					fmt.Fprintf(os.Stderr, "Map %s: %v\n", m.ID, err)
					os.Exit(1)
				}
			}
			fmt.Printf("%s: %d maps OK\n", args[0], len(cfg.Maps))
		},
	}
	cli.Root().AddCommand(checkCmd)

	cli.Run()
}
