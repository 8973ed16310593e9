// Package config reads the YAML file declaring maps and their layer
// bindings, and reloads it when it changes.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/geobind/internal/mapgl"
	"github.com/joeblew999/geobind/internal/service"
	"github.com/joeblew999/geobind/internal/styledoc"
)

// Config is the declarative state of the server.
type Config struct {
	Maps []Map `yaml:"maps"`

	// dir resolves relative style paths.
	dir string
}

// Map declares one map and the bindings mounted on it.
type Map struct {
	ID string `yaml:"id"`
	// Style is a path to a style JSON document, relative to the config file.
	Style    string                `yaml:"style,omitempty"`
	Bindings []service.BindingSpec `yaml:"bindings,omitempty"`
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks ids and binding specs.
func (c *Config) Validate() error {
	maps := make(map[string]bool, len(c.Maps))
	for i, m := range c.Maps {
		if m.ID == "" {
			return fmt.Errorf("maps[%d]: missing id", i)
		}
		if maps[m.ID] {
			return fmt.Errorf("maps[%d]: duplicate id %q", i, m.ID)
		}
		maps[m.ID] = true

		bindings := make(map[string]bool, len(m.Bindings))
		for j := range m.Bindings {
			b := &m.Bindings[j]
			if b.ID == "" {
				return fmt.Errorf("maps[%s].bindings[%d]: missing id", m.ID, j)
			}
			if bindings[b.ID] {
				return fmt.Errorf("maps[%s].bindings[%d]: duplicate id %q", m.ID, j, b.ID)
			}
			bindings[b.ID] = true
			if err := b.Validate(); err != nil {
				return fmt.Errorf("maps[%s].bindings[%s]: %w", m.ID, b.ID, err)
			}
		}
	}
	return nil
}

// LoadStyle reads the style of m. A map without a style starts empty.
func (c *Config) LoadStyle(m Map) (*mapgl.Style, error) {
	if m.Style == "" {
		return mapgl.NewStyle(m.ID), nil
	}
	path := m.Style
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.dir, path)
	}
	doc, err := styledoc.Load(path)
	if err != nil {
		return nil, fmt.Errorf("style of map %q: %w", m.ID, err)
	}
	return doc.GetStyle(), nil
}

// Applier applies configs to a map service. Maps dropped from the config
// since the previous Apply are deleted; maps created through the API are
// left alone.
type Applier struct {
	svc   *service.MapService
	owned map[string]bool
}

// NewApplier creates an applier for svc.
func NewApplier(svc *service.MapService) *Applier {
	return &Applier{svc: svc, owned: make(map[string]bool)}
}

// Apply reconciles the service to cfg. Errors of individual maps are
// joined; the remaining maps are still applied.
func (a *Applier) Apply(ctx context.Context, cfg *Config) error {
	var errs []error
	owned := make(map[string]bool, len(cfg.Maps))
	for _, m := range cfg.Maps {
		owned[m.ID] = true
		style, err := cfg.LoadStyle(m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := a.svc.Apply(ctx, m.ID, style, m.Bindings); err != nil {
			errs = append(errs, fmt.Errorf("map %q: %w", m.ID, err))
		}
	}

	for id := range a.owned {
		if owned[id] {
			continue
		}
		if err := a.svc.Delete(id); err != nil && !errors.Is(err, service.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	a.owned = owned

	log.Info().Int("maps", len(cfg.Maps)).Msg("Config applied")
	return errors.Join(errs...)
}

// debounce batches the bursts of events editors produce on save.
const debounce = 200 * time.Millisecond

// Watch calls fn with the reloaded config each time the file at path is
// written or recreated, until ctx is done. Invalid configs are logged and
// skipped.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// The directory is watched since editors replace the file on save.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}
	log.Info().Str("file", target).Msg("Watching config")

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reload = time.After(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher")

		case <-reload:
			reload = nil
			cfg, err := Load(target)
			if err != nil {
				log.Error().Err(err).Msg("Reloading config")
				continue
			}
			fn(cfg)
		}
	}
}
