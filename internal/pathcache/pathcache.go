// Package pathcache persists the installation paths of the companion
// application and its adapters, and tells the database layer where the
// primary database lives.
package pathcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// Version is written into new cache files.
	Version = "1.0.0"

	// MaxAdapters bounds the number of adapter roots.
	MaxAdapters = 50

	// PrimaryDatabaseRelPath locates the primary database under the main root.
	PrimaryDatabaseRelPath = "data/MaiBot.db"
)

var (
	ErrInvalidPath     = errors.New("invalid path")
	ErrAdapterName     = errors.New("adapter name must not be empty")
	ErrAdapterExists   = errors.New("adapter already exists")
	ErrAdapterNotFound = errors.New("adapter not found")
	ErrAdapterLimit    = errors.New("adapter limit reached")
)

// AdapterRoot is the installation directory of one adapter.
type AdapterRoot struct {
	AdapterName string `json:"adapter_name"`
	RootPath    string `json:"root_path"`
}

// Data is the on-disk layout of pathCache.json.
type Data struct {
	MainRoot     *string       `json:"main_root"`
	AdapterRoots []AdapterRoot `json:"adapter_roots"`
	LastUpdated  string        `json:"last_updated"`
	Version      string        `json:"version"`
}

// Stats summarizes the cache.
type Stats struct {
	HasMainRoot  bool   `json:"has_main_root"`
	AdapterCount int    `json:"adapter_count"`
	LastUpdated  string `json:"last_updated"`
}

func defaultData() Data {
	return Data{
		AdapterRoots: []AdapterRoot{},
		LastUpdated:  time.Now().Format(time.RFC3339),
		Version:      Version,
	}
}

// Manager owns pathCache.json. Methods are safe for concurrent use.
type Manager struct {
	path string

	mu   sync.RWMutex
	data Data
}

// New creates a Manager for the cache file at path. Call Load before use.
func New(path string) *Manager {
	return &Manager{path: path, data: defaultData()}
}

// Path returns the cache file path.
func (m *Manager) Path() string {
	return m.path
}

// Load reads the cache file. A missing or unreadable file is replaced by
// an empty cache, which is written back.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info().Str("path", m.path).Msg("Path cache not found, creating default")
		m.data = defaultData()
		return m.saveLocked()
	case err != nil:
		return fmt.Errorf("failed to read path cache: %w", err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil || data.Version == "" {
		log.Warn().Err(err).Str("path", m.path).Msg("Path cache is invalid, resetting to default")
		m.data = defaultData()
		return m.saveLocked()
	}
	if data.AdapterRoots == nil {
		data.AdapterRoots = []AdapterRoot{}
	}

	m.data = data
	log.Debug().Str("path", m.path).Int("adapters", len(data.AdapterRoots)).Msg("Path cache loaded")
	return nil
}

func (m *Manager) saveLocked() error {
	m.data.LastUpdated = time.Now().Format(time.RFC3339)

	raw, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode path cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create path cache directory: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write path cache: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to replace path cache: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the cached data.
func (m *Manager) Snapshot() Data {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.data
	out.AdapterRoots = append([]AdapterRoot{}, m.data.AdapterRoots...)
	if m.data.MainRoot != nil {
		root := *m.data.MainRoot
		out.MainRoot = &root
	}
	return out
}

// MainRoot returns the main application root, if set.
func (m *Manager) MainRoot() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data.MainRoot == nil || *m.data.MainRoot == "" {
		return "", false
	}
	return *m.data.MainRoot, true
}

// SetMainRoot stores the absolute form of root, which must be an existing
// directory.
func (m *Manager) SetMainRoot(root string) error {
	abs, err := validateDir(root)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.data.MainRoot = &abs
	if err := m.saveLocked(); err != nil {
		return err
	}
	log.Info().Str("main_root", abs).Msg("Main root updated")
	return nil
}

// LookupPrimaryDatabasePath returns <main_root>/data/MaiBot.db when the main
// root is set.
func (m *Manager) LookupPrimaryDatabasePath() (string, bool) {
	root, ok := m.MainRoot()
	if !ok {
		return "", false
	}
	return filepath.Join(root, filepath.FromSlash(PrimaryDatabaseRelPath)), true
}

// Adapters returns a copy of the adapter roots.
func (m *Manager) Adapters() []AdapterRoot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AdapterRoot{}, m.data.AdapterRoots...)
}

// AdapterRoot returns the root of the named adapter.
func (m *Manager) AdapterRoot(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexLocked(strings.TrimSpace(name)); i >= 0 {
		return m.data.AdapterRoots[i].RootPath, true
	}
	return "", false
}

// AddAdapterRoot registers a new adapter.
func (m *Manager) AddAdapterRoot(name, root string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrAdapterName
	}
	abs, err := validateDir(root)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.data.AdapterRoots) >= MaxAdapters {
		return fmt.Errorf("%w (%d)", ErrAdapterLimit, MaxAdapters)
	}
	if m.indexLocked(name) >= 0 {
		return fmt.Errorf("%w: %s", ErrAdapterExists, name)
	}

	m.data.AdapterRoots = append(m.data.AdapterRoots, AdapterRoot{AdapterName: name, RootPath: abs})
	if err := m.saveLocked(); err != nil {
		return err
	}
	log.Info().Str("adapter", name).Str("root", abs).Msg("Adapter root added")
	return nil
}

// UpdateAdapterRoot changes the root of an existing adapter.
func (m *Manager) UpdateAdapterRoot(name, root string) error {
	name = strings.TrimSpace(name)
	abs, err := validateDir(root)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrAdapterNotFound, name)
	}
	m.data.AdapterRoots[i].RootPath = abs
	if err := m.saveLocked(); err != nil {
		return err
	}
	log.Info().Str("adapter", name).Str("root", abs).Msg("Adapter root updated")
	return nil
}

// RemoveAdapterRoot deletes the named adapter and reports whether it existed.
func (m *Manager) RemoveAdapterRoot(name string) (bool, error) {
	name = strings.TrimSpace(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(name)
	if i < 0 {
		return false, nil
	}
	m.data.AdapterRoots = append(m.data.AdapterRoots[:i], m.data.AdapterRoots[i+1:]...)
	if err := m.saveLocked(); err != nil {
		return true, err
	}
	log.Info().Str("adapter", name).Msg("Adapter root removed")
	return true, nil
}

// Clear resets the cache to its empty state.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = defaultData()
	if err := m.saveLocked(); err != nil {
		return err
	}
	log.Info().Msg("Path cache cleared")
	return nil
}

// Stats summarizes the cache.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		HasMainRoot:  m.data.MainRoot != nil && *m.data.MainRoot != "",
		AdapterCount: len(m.data.AdapterRoots),
		LastUpdated:  m.data.LastUpdated,
	}
}

func (m *Manager) indexLocked(name string) int {
	for i, a := range m.data.AdapterRoots {
		if a.AdapterName == name {
			return i
		}
	}
	return -1
}

func validateDir(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: path is empty", ErrInvalidPath)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s does not exist", ErrInvalidPath, abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, abs)
	}
	return abs, nil
}
