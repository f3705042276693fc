package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/og/pkg/fields"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// SettingsName is the config object name used in cache tags
const SettingsName = "og.settings"

// AdminRoute is an administrative action offered on a group
type AdminRoute struct {
	Name        string `yaml:"name" json:"name"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	// Path may contain {entity_type} and {id} placeholders
	Path       string `yaml:"path" json:"path"`
	Permission string `yaml:"permission" json:"permission"`
}

// Settings is the og.settings config object
type Settings struct {
	GroupManagerFullAccess bool                `yaml:"group_manager_full_access"`
	Groups                 map[string][]string `yaml:"groups"`
	Fields                 []fields.Definition `yaml:"fields"`
	AdminRoutes            []AdminRoute        `yaml:"admin_routes"`
}

// DefaultAdminRoutes are offered when the settings file lists none
func DefaultAdminRoutes() []AdminRoute {
	return []AdminRoute{
		{
			Name:        "members",
			Title:       "Members",
			Description: "Manage members",
			Path:        "/group/{entity_type}/{id}/admin/members",
			Permission:  "manage members",
		},
		{
			Name:        "roles",
			Title:       "Roles",
			Description: "Manage roles",
			Path:        "/group/{entity_type}/{id}/admin/roles",
			Permission:  "administer group",
		},
		{
			Name:        "permissions",
			Title:       "Permissions",
			Description: "Manage permissions",
			Path:        "/group/{entity_type}/{id}/admin/permissions",
			Permission:  "administer group",
		},
	}
}

// DefaultSettings returns settings with no groups declared
func DefaultSettings() Settings {
	return Settings{
		Groups:      map[string][]string{},
		AdminRoutes: DefaultAdminRoutes(),
	}
}

func (s Settings) clone() Settings {
	out := Settings{
		GroupManagerFullAccess: s.GroupManagerFullAccess,
		Groups:                 make(map[string][]string, len(s.Groups)),
		Fields:                 make([]fields.Definition, len(s.Fields)),
		AdminRoutes:            make([]AdminRoute, len(s.AdminRoutes)),
	}
	for k, v := range s.Groups {
		out.Groups[k] = append([]string(nil), v...)
	}
	copy(out.Fields, s.Fields)
	copy(out.AdminRoutes, s.AdminRoutes)
	return out
}

// SettingsStore holds og.settings in memory and mirrors it to a YAML file
type SettingsStore struct {
	path   string
	logger logrus.FieldLogger

	mu        sync.RWMutex
	current   Settings
	lastWrite []byte
	listeners []func(ctx context.Context, s Settings)
}

// NewSettingsStore creates a store backed by path. An empty path keeps
// settings in memory only.
func NewSettingsStore(path string, logger logrus.FieldLogger) *SettingsStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &SettingsStore{
		path:    path,
		logger:  logger.WithField("component", "settings"),
		current: DefaultSettings(),
	}
}

// Load reads the settings file. A missing file leaves the defaults in place.
func (s *SettingsStore) Load() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read settings: %w", err)
	}

	settings, err := parseSettings(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = settings
	s.lastWrite = data
	s.mu.Unlock()
	return nil
}

func parseSettings(data []byte) (Settings, error) {
	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}
	if settings.Groups == nil {
		settings.Groups = map[string][]string{}
	}
	if len(settings.AdminRoutes) == 0 {
		settings.AdminRoutes = DefaultAdminRoutes()
	}
	return settings, nil
}

// Get returns a copy of the current settings
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// FullAccess reports the group_manager_full_access flag
func (s *SettingsStore) FullAccess() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.GroupManagerFullAccess
}

// OnChange registers fn to run after every save or reload
func (s *SettingsStore) OnChange(fn func(ctx context.Context, settings Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Save replaces the settings, writes the file and notifies listeners
func (s *SettingsStore) Save(ctx context.Context, settings Settings) error {
	return s.Update(ctx, func(current *Settings) {
		*current = settings.clone()
	})
}

// Update applies fn to a copy of the settings and saves the result
func (s *SettingsStore) Update(ctx context.Context, fn func(*Settings)) error {
	s.mu.Lock()
	next := s.current.clone()
	fn(&next)

	data, err := yaml.Marshal(next)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if s.path != "" {
		if err := writeFileAtomic(s.path, data); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to write settings: %w", err)
		}
	}
	s.current = next
	s.lastWrite = data
	s.mu.Unlock()

	s.notify(ctx)
	return nil
}

func (s *SettingsStore) notify(ctx context.Context) {
	s.mu.RLock()
	listeners := make([]func(context.Context, Settings), len(s.listeners))
	copy(listeners, s.listeners)
	settings := s.current.clone()
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, settings)
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".og-settings-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// GroupMap returns the declared group bundles keyed by entity type
func (s *SettingsStore) GroupMap() map[string][]string {
	return s.Get().Groups
}

// SaveGroupMap persists the declared group bundles
func (s *SettingsStore) SaveGroupMap(ctx context.Context, groups map[string][]string) error {
	return s.Update(ctx, func(settings *Settings) {
		settings.Groups = make(map[string][]string, len(groups))
		for entityType, bundles := range groups {
			sorted := append([]string(nil), bundles...)
			sort.Strings(sorted)
			settings.Groups[entityType] = sorted
		}
	})
}

// FieldDefinitions returns the stored field definitions
func (s *SettingsStore) FieldDefinitions() []fields.Definition {
	return s.Get().Fields
}

// SaveFieldDefinitions persists field definitions
func (s *SettingsStore) SaveFieldDefinitions(ctx context.Context, defs []fields.Definition) error {
	return s.Update(ctx, func(settings *Settings) {
		settings.Fields = append([]fields.Definition(nil), defs...)
	})
}

// AdminRoutes returns the configured administrative routes
func (s *SettingsStore) AdminRoutes() []AdminRoute {
	return s.Get().AdminRoutes
}

// Watch reloads the settings file whenever it changes on disk and notifies
// listeners. It blocks until ctx is cancelled.
func (s *SettingsStore) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic renames are seen.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	s.logger.Infof("Watching settings file %s", s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.reload(ctx); err != nil {
				s.logger.WithError(err).Warn("Failed to reload settings")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).Warn("Settings watcher error")
		}
	}
}

func (s *SettingsStore) reload(ctx context.Context) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	s.mu.RLock()
	unchanged := bytes.Equal(data, s.lastWrite)
	s.mu.RUnlock()
	if unchanged {
		return nil
	}

	settings, err := parseSettings(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = settings
	s.lastWrite = data
	s.mu.Unlock()

	s.logger.Info("Settings reloaded")
	s.notify(ctx)
	return nil
}
