package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/joeblew999/geobind/internal/binding"
	"github.com/joeblew999/geobind/internal/mapgl"
	"github.com/joeblew999/geobind/internal/remote"
)

// MapInfo summarizes a session for listings.
type MapInfo struct {
	ID          string `json:"id" doc:"Map id" example:"main"`
	Style       string `json:"style,omitempty" doc:"Base style name" example:"basemap"`
	Bindings    int    `json:"bindings" doc:"Number of layer bindings"`
	Subscribers int    `json:"subscribers" doc:"Attached browsers"`
}

// BindingStatus is a binding spec together with its live state.
type BindingStatus struct {
	Spec     BindingSpec `json:"spec"`
	LayerIDs []string    `json:"layerIds" doc:"Derived layer ids"`
	Mounted  bool        `json:"mounted"`
	Rebuilds int         `json:"rebuilds" doc:"Times the binding rebuilt itself after a style swap"`
}

// MapService manages map sessions.
type MapService struct {
	dataDir  string
	loader   *Loader
	sessions map[string]*Session
	mu       sync.RWMutex
	saveMu   sync.Mutex
}

// NewMapService creates a map service and restores the sessions saved under
// dataDir. An empty dataDir disables persistence.
func NewMapService(dataDir string, loader *Loader) *MapService {
	s := &MapService{
		dataDir:  dataDir,
		loader:   loader,
		sessions: make(map[string]*Session),
	}
	s.loadFromDisk(context.Background())
	return s
}

// Loader returns the data loader shared by all sessions.
func (s *MapService) Loader() *Loader {
	return s.loader
}

// List returns all sessions ordered by id.
func (s *MapService) List() []MapInfo {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	result := make([]MapInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, sess.Info())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Get returns a session by id.
func (s *MapService) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("map %q: %w", id, ErrNotFound)
	}
	return sess, nil
}

// Create starts a session on style and mounts specs on it. Binding errors
// are returned joined; the session stays created with the bindings that
// did mount.
func (s *MapService) Create(ctx context.Context, id string, style *mapgl.Style, specs []BindingSpec) (*Session, error) {
	return s.create(ctx, id, style, specs, s.changed)
}

func (s *MapService) create(ctx context.Context, id string, style *mapgl.Style, specs []BindingSpec, onChange func()) (*Session, error) {
	if id == "" {
		id = "map-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}

	s.mu.Lock()
	if _, exists := s.sessions[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("map %q: %w", id, ErrExists)
	}
	sess := newSession(id, style, s.loader, onChange)
	s.sessions[id] = sess
	s.mu.Unlock()

	err := sess.Apply(ctx, specs)

	log.Info().Str("map", id).Int("bindings", len(specs)).Msg("Map created")
	return sess, err
}

// Apply reconciles session id to style and specs, creating it if needed.
// The style is replaced only when it differs from the session's base.
func (s *MapService) Apply(ctx context.Context, id string, style *mapgl.Style, specs []BindingSpec) error {
	sess, err := s.Get(id)
	if errors.Is(err, ErrNotFound) {
		_, err = s.Create(ctx, id, style, specs)
		return err
	}
	if err != nil {
		return err
	}

	if style != nil && !cmp.Equal(style, sess.Base(), cmpopts.EquateEmpty()) {
		if err := sess.SetStyle(style); err != nil {
			return err
		}
	}
	return sess.Apply(ctx, specs)
}

// Delete unmounts every binding of a session and removes its map.
func (s *MapService) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("map %q: %w", id, ErrNotFound)
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	err := sess.close()
	s.changed()
	log.Info().Str("map", id).Msg("Map deleted")
	return err
}

// Close removes every map without touching the saved state.
func (s *MapService) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.close(); err != nil {
			log.Warn().Err(err).Str("map", sess.ID()).Msg("Closing map")
		}
	}
}

func (s *MapService) changed() {
	if err := s.saveToDisk(); err != nil {
		log.Error().Err(err).Msg("Saving maps")
	}
}

type entry struct {
	spec     BindingSpec
	data     any
	b        *binding.LayerBinding
	rebuilds int
}

// Session is one remote map with its bindings. The session mutex is the
// execution context of every binding on the map: API calls, config reloads
// and browser events all run under it.
type Session struct {
	id      string
	m       *remote.Map
	loader  *Loader
	actions *actions
	log     zerolog.Logger

	// onChange runs after a successful mutation, outside mu.
	onChange func()

	mu       sync.Mutex
	base     *mapgl.Style
	bindings map[string]*entry
	order    []string
}

func newSession(id string, style *mapgl.Style, loader *Loader, onChange func()) *Session {
	if style == nil {
		style = mapgl.NewStyle("")
	}
	m := remote.New(id, style)
	return &Session{
		id:       id,
		m:        m,
		loader:   loader,
		actions:  newActions(m),
		log:      log.With().Str("map", id).Logger(),
		onChange: onChange,
		base:     style.Clone(),
		bindings: make(map[string]*entry),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Map returns the remote map browsers attach to.
func (s *Session) Map() *remote.Map { return s.m }

// Info summarizes the session.
func (s *Session) Info() MapInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return MapInfo{
		ID:          s.id,
		Style:       s.base.Name,
		Bindings:    len(s.bindings),
		Subscribers: s.m.Subscribers(),
	}
}

// Base returns a copy of the style the session was last reset to, without
// binding sources and layers.
func (s *Session) Base() *mapgl.Style {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base.Clone()
}

// Style returns the live style including every mounted binding.
func (s *Session) Style() *mapgl.Style {
	return s.m.GetStyle()
}

// Bindings returns the status of every binding in mount order.
func (s *Session) Bindings() []BindingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]BindingStatus, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.bindings[id].status())
	}
	return result
}

// Binding returns the status of one binding.
func (s *Session) Binding(id string) (BindingStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.bindings[id]
	if !ok {
		return BindingStatus{}, fmt.Errorf("binding %q: %w", id, ErrNotFound)
	}
	return e.status(), nil
}

// Specs returns the binding specs in mount order.
func (s *Session) Specs() []BindingSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.specs()
}

func (s *Session) specs() []BindingSpec {
	result := make([]BindingSpec, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.bindings[id].spec)
	}
	return result
}

func (e *entry) status() BindingStatus {
	return BindingStatus{
		Spec:     e.spec,
		LayerIDs: e.b.LayerIDs(),
		Mounted:  e.b.Mounted(),
		Rebuilds: e.rebuilds,
	}
}

// Mount loads the data of spec and mounts a binding for it. An empty id is
// generated.
func (s *Session) Mount(ctx context.Context, spec BindingSpec) (BindingStatus, error) {
	s.mu.Lock()
	st, err := s.mount(ctx, spec)
	s.mu.Unlock()

	if err != nil {
		return BindingStatus{}, err
	}
	s.notify()
	return st, nil
}

func (s *Session) mount(ctx context.Context, spec BindingSpec) (BindingStatus, error) {
	if spec.ID == "" {
		spec.ID = binding.GenerateID()
	}
	if err := spec.Validate(); err != nil {
		return BindingStatus{}, fmt.Errorf("binding %q: %w", spec.ID, err)
	}
	if _, exists := s.bindings[spec.ID]; exists {
		return BindingStatus{}, fmt.Errorf("binding %q: %w", spec.ID, ErrExists)
	}

	data, err := s.loader.Load(ctx, spec.Data)
	if err != nil {
		return BindingStatus{}, fmt.Errorf("binding %q: %w", spec.ID, err)
	}

	e := &entry{spec: spec, data: data}
	e.b = binding.New(s.m, spec.props(data, s.handler(spec.ID)),
		binding.WithLogger(s.log),
		binding.WithRerender(func() {
			e.rebuilds++
			s.log.Info().Str("binding", spec.ID).Int("rebuilds", e.rebuilds).Msg("Binding rebuilt after style change")
		}),
	)
	if err := e.b.Mount(); err != nil {
		if uerr := e.b.Unmount(); uerr != nil {
			s.log.Warn().Err(uerr).Str("binding", spec.ID).Msg("Cleaning up failed mount")
		}
		s.actions.forget(spec.ID)
		return BindingStatus{}, fmt.Errorf("binding %q: %w", spec.ID, err)
	}

	s.bindings[spec.ID] = e
	s.order = append(s.order, spec.ID)
	s.log.Info().Str("binding", spec.ID).Strs("layers", e.b.LayerIDs()).Msg("Binding mounted")
	return e.status(), nil
}

func (s *Session) handler(bindingID string) func(mapgl.LayerType, mapgl.EventKind, string) *mapgl.Listener {
	return func(t mapgl.LayerType, kind mapgl.EventKind, action string) *mapgl.Listener {
		return s.actions.listener(bindingID, t, kind, action)
	}
}

// Update applies spec to binding id. The data is reloaded only when the
// data reference changed, so an unchanged reference keeps its payload.
func (s *Session) Update(ctx context.Context, id string, spec BindingSpec) (BindingStatus, error) {
	s.mu.Lock()
	st, err := s.update(ctx, id, spec, false)
	s.mu.Unlock()

	if err != nil {
		return BindingStatus{}, err
	}
	s.notify()
	return st, nil
}

// Refresh reloads the data of binding id, bypassing the cache, and pushes it
// to the map source.
func (s *Session) Refresh(ctx context.Context, id string) (BindingStatus, error) {
	s.mu.Lock()
	st, err := s.refresh(ctx, id)
	s.mu.Unlock()

	if err != nil {
		return BindingStatus{}, err
	}
	s.notify()
	return st, nil
}

func (s *Session) refresh(ctx context.Context, id string) (BindingStatus, error) {
	e, ok := s.bindings[id]
	if !ok {
		return BindingStatus{}, fmt.Errorf("binding %q: %w", id, ErrNotFound)
	}
	return s.update(ctx, id, e.spec, true)
}

func (s *Session) update(ctx context.Context, id string, spec BindingSpec, reload bool) (BindingStatus, error) {
	e, ok := s.bindings[id]
	if !ok {
		return BindingStatus{}, fmt.Errorf("binding %q: %w", id, ErrNotFound)
	}
	spec.ID = id
	if err := spec.Validate(); err != nil {
		return BindingStatus{}, fmt.Errorf("binding %q: %w", id, err)
	}

	data := e.data
	if reload || !cmp.Equal(spec.Data, e.spec.Data) {
		if reload {
			s.loader.Invalidate(spec.Data)
		}
		var err error
		if data, err = s.loader.Load(ctx, spec.Data); err != nil {
			return BindingStatus{}, fmt.Errorf("binding %q: %w", id, err)
		}
	}

	err := e.b.Update(spec.props(data, s.handler(id)))
	// the binding keeps the new props even when a map call failed
	e.spec, e.data = spec, data
	s.actions.retain(id, &spec)
	if err != nil {
		return e.status(), fmt.Errorf("binding %q: %w", id, err)
	}
	return e.status(), nil
}

// Unmount removes binding id from the map.
func (s *Session) Unmount(id string) error {
	s.mu.Lock()
	err := s.unmount(id)
	s.mu.Unlock()

	if errors.Is(err, ErrNotFound) {
		return err
	}
	s.notify()
	return err
}

func (s *Session) unmount(id string) error {
	e, ok := s.bindings[id]
	if !ok {
		return fmt.Errorf("binding %q: %w", id, ErrNotFound)
	}
	delete(s.bindings, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	s.actions.forget(id)

	if err := e.b.Unmount(); err != nil {
		return fmt.Errorf("binding %q: %w", id, err)
	}
	s.log.Info().Str("binding", id).Msg("Binding unmounted")
	return nil
}

// Apply reconciles the session to exactly specs: bindings not named are
// unmounted, known ones updated and new ones mounted, in specs order.
// Every spec needs an id.
func (s *Session) Apply(ctx context.Context, specs []BindingSpec) error {
	want := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.ID == "" {
			return fmt.Errorf("binding without id: %w", ErrInvalid)
		}
		if want[spec.ID] {
			return fmt.Errorf("binding %q: duplicate id: %w", spec.ID, ErrInvalid)
		}
		want[spec.ID] = true
	}

	s.mu.Lock()
	var errs []error
	for _, id := range slices.Clone(s.order) {
		if !want[id] {
			errs = append(errs, s.unmount(id))
		}
	}
	for _, spec := range specs {
		if _, ok := s.bindings[spec.ID]; ok {
			_, err := s.update(ctx, spec.ID, spec, false)
			errs = append(errs, err)
			continue
		}
		_, err := s.mount(ctx, spec)
		errs = append(errs, err)
	}
	s.mu.Unlock()

	s.notify()
	return errors.Join(errs...)
}

// Dispatch delivers a browser event to the bindings' listeners.
func (s *Session) Dispatch(e mapgl.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.Dispatch(e)
}

// ResetStyle records a style swap the browser performed. Bindings whose
// source went missing rebuild themselves.
func (s *Session) ResetStyle(style *mapgl.Style) error {
	if style == nil {
		style = mapgl.NewStyle("")
	}
	s.mu.Lock()
	err := s.m.ResetStyle(style)
	if err == nil {
		s.base = style.Clone()
	}
	s.mu.Unlock()

	if err == nil {
		s.notify()
	}
	return err
}

// SetStyle swaps the map style from the server side.
func (s *Session) SetStyle(style *mapgl.Style) error {
	if style == nil {
		style = mapgl.NewStyle("")
	}
	s.mu.Lock()
	err := s.m.SetStyle(style)
	if err == nil {
		s.base = style.Clone()
	}
	s.mu.Unlock()

	if err == nil {
		s.notify()
	}
	return err
}

func (s *Session) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *Session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, id := range slices.Clone(s.order) {
		errs = append(errs, s.unmount(id))
	}
	s.m.Remove()
	return errors.Join(errs...)
}
