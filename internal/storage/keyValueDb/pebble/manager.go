package pebble

import (
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/interledger/ilp-settlement-iroha/internal/storage/keyValueDb"
)

// Manager opens one pebble database per namespace under a common directory.
type Manager struct {
	dbs  map[string]*pebble.DB
	path string
}

func NewManager(path string) *Manager {
	return &Manager{
		dbs:  make(map[string]*pebble.DB),
		path: path,
	}
}

func (m *Manager) OpenDB(name string) (keyValueDb.DB, error) {
	if db, exists := m.dbs[name]; exists {
		return NewPebbleDB(db), nil
	}

	dbPath := filepath.Join(m.path, name)
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyValueDb %s: %w", name, err)
	}

	m.dbs[name] = db
	return NewPebbleDB(db), nil
}

func (m *Manager) CloseDB(name string) error {
	db, exists := m.dbs[name]
	if !exists {
		return fmt.Errorf("keyValueDb %s: %w", name, keyValueDb.ErrNamespaceNotFound)
	}

	if err := db.Close(); err != nil {
		return fmt.Errorf("failed to close keyValueDb %s: %w", name, err)
	}

	delete(m.dbs, name)
	return nil
}

func (m *Manager) Close() error {
	for name, db := range m.dbs {
		if err := db.Close(); err != nil {
			return fmt.Errorf("failed to close keyValueDb %s: %w", name, err)
		}
		delete(m.dbs, name)
	}
	return nil
}
