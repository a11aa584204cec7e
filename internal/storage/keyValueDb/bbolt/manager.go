package bbolt

import (
	"fmt"
	"path/filepath"

	"github.com/interledger/ilp-settlement-iroha/internal/storage/keyValueDb"
	"go.etcd.io/bbolt"
)

// Manager opens one bbolt file per namespace under a common directory.
type Manager struct {
	dbs  map[string]*bbolt.DB
	path string
}

func NewManager(path string) *Manager {
	return &Manager{
		dbs:  make(map[string]*bbolt.DB),
		path: path,
	}
}

func (m *Manager) OpenDB(name string) (keyValueDb.DB, error) {
	if db, exists := m.dbs[name]; exists {
		return NewBBoltDB(db, []byte(name)), nil
	}

	dbPath := filepath.Join(m.path, name+".db")
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyValueDb %s: %w", name, err)
	}

	// Create default bucket
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket for %s: %w", name, err)
	}

	m.dbs[name] = db
	return NewBBoltDB(db, []byte(name)), nil
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
