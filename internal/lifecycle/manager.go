// Package lifecycle owns the single live database handle and its namespace
// association.
//
// Exactly one embedded database is open per process. Initialization and
// switching suspend on slow I/O (engine runtime load, snapshot load), so
// every resumption point re-validates the switch version: a mismatch means
// a newer switch superseded the in-flight work, and the only correct move
// is to discard it and restart against the live version. Version mismatches
// are resolved internally and never surface as errors.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/jotworks/daybook/internal/blob"
	"github.com/jotworks/daybook/internal/engine"
	"github.com/jotworks/daybook/internal/metrics"
	"github.com/jotworks/daybook/internal/notedb"
)

// Manager is the database lifecycle manager.
type Manager struct {
	store  blob.Store
	logger *log.Logger

	mu       sync.Mutex
	current  Namespace
	version  int64
	handle   *notedb.DB
	handleNS Namespace
}

// State is a read-only view of the manager for debug introspection.
type State struct {
	CurrentNamespace string `json:"currentNamespace"`
	SwitchVersion    int64  `json:"switchVersion"`
	HandleOpen       bool   `json:"handleOpen"`
	HandleNamespace  string `json:"handleNamespace,omitempty"`
}

// New creates a Manager over the given durable store.
//
// If logger is nil, a default logger writing to stderr is used.
func New(store blob.Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[lifecycle] ", log.LstdFlags)
	}
	return &Manager{
		store:   store,
		logger:  logger,
		current: Anonymous,
	}
}

// Current returns the current namespace.
func (m *Manager) Current() Namespace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Version returns the live switch version.
func (m *Manager) Version() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// DebugState returns a snapshot of the manager's state.
func (m *Manager) DebugState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		CurrentNamespace: m.current.String(),
		SwitchVersion:    m.version,
		HandleOpen:       m.handle != nil,
		HandleNamespace:  m.handleNS.String(),
	}
}

// SwitchTo makes ns the current namespace and eagerly initializes its
// database at the new version.
//
// Switching to the already-current namespace with an open, matching handle
// is a no-op. Any in-flight initialization or persist for the old namespace
// is abandoned through the version guard, not cancelled.
func (m *Manager) SwitchTo(ctx context.Context, ns Namespace) (*notedb.DB, error) {
	m.mu.Lock()
	if ns == m.current && m.handle != nil && m.handleNS == ns {
		h := m.handle
		m.mu.Unlock()
		return h, nil
	}

	m.version++
	expected := m.version
	if m.handle != nil {
		_ = m.handle.Close()
		m.handle = nil
	}
	m.current = ns
	m.mu.Unlock()

	m.logger.Printf("Switching to namespace %s (version %d)", ns, expected)
	return m.initialize(ctx, expected)
}

// EnsureInitialized returns the current namespace's database, initializing
// it if necessary.
func (m *Manager) EnsureInitialized(ctx context.Context) (*notedb.DB, error) {
	m.mu.Lock()
	if m.handle != nil && m.handleNS == m.current {
		h := m.handle
		m.mu.Unlock()
		return h, nil
	}
	expected := m.version
	m.mu.Unlock()
	return m.initialize(ctx, expected)
}

// EnsureInitializedFor is EnsureInitialized with a namespace hint: a hint
// differing from the current namespace delegates to SwitchTo first.
func (m *Manager) EnsureInitializedFor(ctx context.Context, ns Namespace) (*notedb.DB, error) {
	m.mu.Lock()
	differs := ns != m.current
	m.mu.Unlock()
	if differs {
		return m.SwitchTo(ctx, ns)
	}
	return m.EnsureInitialized(ctx)
}

// initialize opens the database for the current namespace at the expected
// switch version.
//
// The routine suspends twice (engine runtime load, snapshot load) and
// re-validates the version after each suspension. A failed guard discards
// the in-flight work and restarts against the live version; stale results
// are never applied. Only irrecoverable failures (engine load, corrupt
// snapshot) reach the caller.
func (m *Manager) initialize(ctx context.Context, expected int64) (*notedb.DB, error) {
	m.mu.Lock()
	if m.handle != nil && m.handleNS == m.current && m.version == expected {
		h := m.handle
		m.mu.Unlock()
		return h, nil
	}
	if m.handle != nil {
		_ = m.handle.Close()
		m.handle = nil
	}
	if m.version != expected {
		live := m.version
		m.mu.Unlock()
		metrics.RaceRetries.Inc()
		return m.initialize(ctx, live)
	}
	ns := m.current
	m.mu.Unlock()

	// Engine runtime load. Slow on a cold compilation cache.
	if err := engine.Warmup(ctx); err != nil {
		return nil, fmt.Errorf("engine load failed: %w", err)
	}
	if live, stale := m.versionChanged(expected); stale {
		metrics.RaceRetries.Inc()
		return m.initialize(ctx, live)
	}

	// Snapshot load. The widest race window: a switch can land while
	// bytes for the old namespace are still in flight.
	snapshot, err := m.store.Load(ctx, ns.Key())
	if err != nil && !errors.Is(err, blob.ErrNotFound) {
		m.logger.Printf("WARNING: failed to load snapshot for %s, starting empty: %v", ns, err)
		snapshot = nil
	}
	if live, stale := m.versionChanged(expected); stale {
		metrics.RaceRetries.Inc()
		return m.initialize(ctx, live)
	}

	db, err := notedb.Open(ctx, snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to open database for %s: %w", ns, err)
	}

	m.mu.Lock()
	if m.version != expected || m.current != ns {
		live := m.version
		m.mu.Unlock()
		_ = db.Close()
		metrics.RaceRetries.Inc()
		return m.initialize(ctx, live)
	}
	if m.handle != nil && m.handleNS == ns {
		// A concurrent initialize for the same version already won.
		h := m.handle
		m.mu.Unlock()
		_ = db.Close()
		return h, nil
	}
	m.handle = db
	m.handleNS = ns
	m.mu.Unlock()

	m.logger.Printf("Initialized namespace %s (version %d)", ns, expected)
	return db, nil
}

func (m *Manager) versionChanged(expected int64) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version, m.version != expected
}

// Persist exports the open handle and writes it under the namespace the
// handle was opened for, captured before the export. If the namespace or
// version changes during the export, the persist is silently skipped:
// writing stale bytes under the wrong key is the one unrecoverable mistake.
func (m *Manager) Persist(ctx context.Context) error {
	m.mu.Lock()
	db := m.handle
	ns := m.handleNS
	version := m.version
	m.mu.Unlock()

	if db == nil {
		return nil
	}

	data, err := db.Export()
	if err != nil {
		return fmt.Errorf("failed to export database for %s: %w", ns, err)
	}

	m.mu.Lock()
	stale := m.version != version || m.handleNS != ns
	m.mu.Unlock()
	if stale {
		metrics.SkippedPersists.Inc()
		m.logger.Printf("Skipping stale persist for %s (version %d)", ns, version)
		return nil
	}

	if err := m.store.Save(ctx, ns.Key(), data); err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", ns, err)
	}
	return nil
}

// Close releases the handle and clears its namespace association. The
// current namespace and switch version are unchanged.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil {
		_ = m.handle.Close()
		m.handle = nil
	}
	m.handleNS = Anonymous
}

// ClearData wipes the durable snapshot for ns. If ns is current and open,
// the handle is replaced with a fresh empty database at the live version.
func (m *Manager) ClearData(ctx context.Context, ns Namespace) error {
	if err := m.store.Delete(ctx, ns.Key()); err != nil {
		return fmt.Errorf("failed to clear data for %s: %w", ns, err)
	}

	m.mu.Lock()
	isOpen := m.handle != nil && m.handleNS == ns
	if isOpen {
		_ = m.handle.Close()
		m.handle = nil
	}
	expected := m.version
	m.mu.Unlock()

	if isOpen {
		if _, err := m.initialize(ctx, expected); err != nil {
			return err
		}
	}
	m.logger.Printf("Cleared data for namespace %s", ns)
	return nil
}

// HasData reports whether ns has any stored rows. For the open namespace
// this inspects the live handle; otherwise it peeks at the durable
// snapshot without disturbing the open handle.
func (m *Manager) HasData(ctx context.Context, ns Namespace) (bool, error) {
	m.mu.Lock()
	db := m.handle
	isOpen := db != nil && m.handleNS == ns
	m.mu.Unlock()

	if isOpen {
		n, err := db.CountRows()
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}

	snapshot, err := m.store.Load(ctx, ns.Key())
	if errors.Is(err, blob.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load snapshot for %s: %w", ns, err)
	}

	peek, err := notedb.Open(ctx, snapshot)
	if err != nil {
		return false, fmt.Errorf("failed to inspect snapshot for %s: %w", ns, err)
	}
	defer peek.Close()

	n, err := peek.CountRows()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
