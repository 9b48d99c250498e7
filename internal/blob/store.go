// Package blob provides the durable byte store that holds exported database
// snapshots, one per namespace.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned by Load when no snapshot exists for a key.
var ErrNotFound = errors.New("snapshot not found")

// Store persists opaque byte snapshots keyed by namespace storage key.
type Store interface {
	// Load returns the snapshot for key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save durably writes the snapshot for key, replacing any previous one.
	Save(ctx context.Context, key string, data []byte) error
	// Delete removes the snapshot for key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error
}

// FSStore stores each snapshot as a file <dir>/<key>.db.
//
// Writes go through a temp file and rename so a crash mid-write never
// corrupts the previous snapshot.
type FSStore struct {
	dir string
}

// NewFSStore creates the store directory if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

// Dir returns the directory snapshots are stored in.
func (s *FSStore) Dir() string {
	return s.dir
}

func (s *FSStore) path(key string) string {
	return filepath.Join(s.dir, key+".db")
}

// Load implements Store.
func (s *FSStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}
	return data, nil
}

// Save implements Store.
func (s *FSStore) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *FSStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot %s: %w", key, err)
	}
	return nil
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

// Load implements Store.
func (s *MemStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Save implements Store.
func (s *MemStore) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[key] = cp
	return nil
}

// Delete implements Store.
func (s *MemStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Keys returns the keys currently present, for test assertions.
func (s *MemStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}
