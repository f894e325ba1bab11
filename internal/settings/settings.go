// Package settings persists the dashboard settings file. The file is
// tiny and user-editable, so the store keeps a cache and watches the
// file for outside edits instead of re-reading on every request.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type Settings struct {
	AllowContainerActions bool `json:"allowContainerActions"`
}

// Update carries a partial settings change; nil fields keep their
// current value.
type Update struct {
	AllowContainerActions *bool `json:"allowContainerActions"`
}

type Store struct {
	path string

	mu      sync.Mutex
	cached  *Settings
	watcher *fsnotify.Watcher
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Watch invalidates the cache when the settings file changes on disk,
// so edits made outside the dashboard take effect without a restart.
// It returns the watcher so the caller owns its shutdown.
func (s *Store) Watch() (*fsnotify.Watcher, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("creating settings directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating settings watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace the file and
	// a file watch dies with the old inode.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching settings directory: %w", err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == s.path {
					s.mu.Lock()
					s.cached = nil
					s.mu.Unlock()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("settings watcher error", "error", err)
			}
		}
	}()

	return watcher, nil
}

func (s *Store) read() Settings {
	var settings Settings
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to read settings file", "path", s.path, "error", err)
		}
		return settings
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		slog.Warn("failed to parse settings file", "path", s.path, "error", err)
	}
	return settings
}

// Get returns the current settings, defaulting every field when the
// file is missing or malformed.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		settings := s.read()
		s.cached = &settings
	}
	return *s.cached
}

// Apply merges a partial update into the stored settings and persists
// the result.
func (s *Store) Apply(update Update) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := s.read()
	if update.AllowContainerActions != nil {
		settings.AllowContainerActions = *update.AllowContainerActions
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return Settings{}, fmt.Errorf("creating settings directory: %w", err)
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return Settings{}, fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return Settings{}, fmt.Errorf("writing settings: %w", err)
	}

	s.cached = &settings
	return settings, nil
}
