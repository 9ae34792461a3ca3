package database

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// PrimaryName is the registry name of the companion application's database.
const PrimaryName = "maibot"

// PrimaryPathLookup locates the primary database file.
type PrimaryPathLookup interface {
	LookupPrimaryDatabasePath() (string, bool)
}

// State is the lifecycle stage of a Manager.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ManagerConfig holds the connection defaults applied to discovered
// databases.
type ManagerConfig struct {
	TimeoutSeconds      int
	AllowCrossThreadUse bool
}

// DefaultManagerConfig returns the defaults used for the primary database.
// HTTP handlers share the primary connection, so cross-goroutine use is on.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		TimeoutSeconds:      DefaultTimeoutSeconds,
		AllowCrossThreadUse: true,
	}
}

type entry struct {
	conn     *Connection
	operator *Operator
}

// Manager is the registry of named connections. The mutex guards the
// registry only; statements on a Connection are not serialized here.
type Manager struct {
	lookup PrimaryPathLookup
	config ManagerConfig

	mu      sync.RWMutex
	state   State
	entries map[string]*entry
}

// NewManager creates an uninitialized Manager. lookup may be nil, in which
// case Initialize registers nothing.
func NewManager(lookup PrimaryPathLookup, cfg ManagerConfig) *Manager {
	return &Manager{
		lookup:  lookup,
		config:  cfg,
		entries: make(map[string]*entry),
	}
}

// State returns the current lifecycle stage.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Initialize discovers and opens the primary database. A missing or
// unreadable primary database is logged and leaves the Manager Ready with
// no connections.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	switch m.state {
	case StateUninitialized, StateClosed:
		m.state = StateInitializing
	default:
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot initialize database manager in state %s", state)
	}
	m.mu.Unlock()

	if err := m.connectPrimary(); err != nil {
		log.Warn().Err(err).Msg("Primary database unavailable, continuing without it")
	}

	m.setState(StateReady)
	log.Info().Int("connections", len(m.ListConnections())).Msg("Database manager ready")
	return nil
}

func (m *Manager) primaryConfig() (ConnectionConfig, error) {
	if m.lookup == nil {
		return ConnectionConfig{}, fmt.Errorf("no primary database lookup configured")
	}

	path, ok := m.lookup.LookupPrimaryDatabasePath()
	if !ok {
		return ConnectionConfig{}, fmt.Errorf("primary database path not configured")
	}
	if _, err := os.Stat(path); err != nil {
		return ConnectionConfig{}, fmt.Errorf("primary database file not found: %w", err)
	}

	return ConnectionConfig{
		Path:                path,
		TimeoutSeconds:      m.config.TimeoutSeconds,
		AllowCrossThreadUse: m.config.AllowCrossThreadUse,
	}, nil
}

func (m *Manager) connectPrimary() error {
	cfg, err := m.primaryConfig()
	if err != nil {
		return err
	}
	return m.AddConnection(PrimaryName, cfg)
}

// AddConnection opens and registers a connection. Registering a name twice
// logs a warning and keeps the existing connection.
func (m *Manager) AddConnection(name string, cfg ConnectionConfig) error {
	m.mu.RLock()
	_, exists := m.entries[name]
	m.mu.RUnlock()
	if exists {
		log.Warn().Str("name", name).Msg("Database connection already registered")
		return nil
	}

	conn := NewConnection(cfg)
	if err := conn.Connect(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.entries[name]; exists {
		m.mu.Unlock()
		conn.Disconnect()
		log.Warn().Str("name", name).Msg("Database connection already registered")
		return nil
	}
	m.entries[name] = &entry{conn: conn, operator: NewOperator(conn)}
	m.mu.Unlock()

	log.Info().Str("name", name).Str("path", cfg.Path).Msg("Database connection registered")
	return nil
}

// RemoveConnection disconnects and unregisters name. Unknown names are
// logged and ignored.
func (m *Manager) RemoveConnection(name string) {
	m.mu.Lock()
	e, ok := m.entries[name]
	delete(m.entries, name)
	m.mu.Unlock()

	if !ok {
		log.Warn().Str("name", name).Msg("Database connection not registered")
		return
	}

	e.conn.Disconnect()
	log.Info().Str("name", name).Msg("Database connection removed")
}

// GetConnection returns the connection registered as name, or nil.
func (m *Manager) GetConnection(name string) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[name]; ok {
		return e.conn
	}
	return nil
}

// GetOperator returns the operator registered as name, or nil.
func (m *Manager) GetOperator(name string) *Operator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[name]; ok {
		return e.operator
	}
	return nil
}

// ListConnections returns the registered names in sorted order.
func (m *Manager) ListConnections() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

// DatabaseInfo describes the database registered as name.
func (m *Manager) DatabaseInfo(name string) (*DatabaseInfo, error) {
	conn := m.GetConnection(name)
	if conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, name)
	}
	return conn.GetDatabaseInfo()
}

// TestConnection probes the connection registered as name.
func (m *Manager) TestConnection(name string) bool {
	conn := m.GetConnection(name)
	if conn == nil {
		return false
	}
	return conn.ValidateConnection()
}

// Primary returns the operator of the primary database, or nil.
func (m *Manager) Primary() *Operator {
	return m.GetOperator(PrimaryName)
}

// IsPrimaryConnected reports whether the primary database answers a probe.
func (m *Manager) IsPrimaryConnected() bool {
	return m.TestConnection(PrimaryName)
}

// Reload re-runs primary discovery. When the discovered path differs from
// the registered one, the primary connection is replaced once the new file
// has been opened. When discovery or the open fails, the current primary
// connection is kept.
func (m *Manager) Reload() error {
	if state := m.State(); state != StateReady {
		return fmt.Errorf("cannot reload database manager in state %s", state)
	}

	cfg, err := m.primaryConfig()
	if err != nil {
		log.Warn().Err(err).Msg("Primary database discovery failed, keeping current connection")
		return err
	}

	if current := m.GetConnection(PrimaryName); current != nil && current.Path() == cfg.Path && current.IsConnected() {
		log.Debug().Str("path", cfg.Path).Msg("Primary database unchanged")
		return nil
	}

	conn := NewConnection(cfg)
	if err := conn.Connect(); err != nil {
		log.Warn().Err(err).Str("path", cfg.Path).Msg("Failed to open new primary database, keeping current connection")
		return err
	}

	m.mu.Lock()
	if m.state != StateReady {
		state := m.state
		m.mu.Unlock()
		conn.Disconnect()
		return fmt.Errorf("cannot reload database manager in state %s", state)
	}
	old := m.entries[PrimaryName]
	m.entries[PrimaryName] = &entry{conn: conn, operator: NewOperator(conn)}
	m.mu.Unlock()

	if old != nil {
		old.conn.Disconnect()
	}
	log.Info().Str("name", PrimaryName).Str("path", cfg.Path).Msg("Primary database connection replaced")
	return nil
}

// CloseAll disconnects every registered connection and clears the
// registry.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.state = StateShuttingDown
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entries[name].conn.Disconnect()
		log.Debug().Str("name", name).Msg("Database connection closed")
	}

	m.setState(StateClosed)
	log.Info().Int("closed", len(names)).Msg("All database connections closed")
}
