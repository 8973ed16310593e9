package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/joeblew999/geobind/internal/mapgl"
)

// savedMap is the persisted form of a session.
type savedMap struct {
	Style    *mapgl.Style  `json:"style"`
	Bindings []BindingSpec `json:"bindings"`
}

// configFile returns the path to the maps file.
func (s *MapService) configFile() string {
	return filepath.Join(s.dataDir, "maps.json")
}

// loadFromDisk restores saved sessions. Bindings whose data no longer loads
// are logged and skipped.
func (s *MapService) loadFromDisk(ctx context.Context) {
	if s.dataDir == "" {
		return
	}
	data, err := os.ReadFile(s.configFile())
	if err != nil {
		return // File doesn't exist yet, start empty
	}

	var maps map[string]savedMap
	if err := json.Unmarshal(data, &maps); err != nil {
		log.Warn().Err(err).Str("file", s.configFile()).Msg("Ignoring invalid maps file")
		return
	}

	for id, saved := range maps {
		sess, err := s.create(ctx, id, saved.Style, saved.Bindings, nil)
		if err != nil {
			log.Warn().Err(err).Str("map", id).Msg("Restoring map")
		}
		if sess != nil {
			sess.onChange = s.changed
		}
	}
	log.Info().Int("maps", len(maps)).Msg("Maps restored")
}

// saveToDisk persists every session's base style and binding specs.
func (s *MapService) saveToDisk() error {
	if s.dataDir == "" {
		return nil
	}

	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	maps := make(map[string]savedMap, len(sessions))
	for _, sess := range sessions {
		sess.mu.Lock()
		maps[sess.id] = savedMap{Style: sess.base.Clone(), Bindings: sess.specs()}
		sess.mu.Unlock()
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	// Ensure data directory exists
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(maps, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.configFile(), data, 0644)
}
