package pebble

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/interledger/ilp-settlement-iroha/internal/storage/keyValueDb"
)

// PebbleDB wraps a single pebble database serving one namespace.
type PebbleDB struct {
	db *pebble.DB
}

func NewPebbleDB(db *pebble.DB) *PebbleDB {
	return &PebbleDB{db: db}
}

func (p *PebbleDB) Read(ctx context.Context, key []byte) ([]byte, error) {
	if p.db == nil {
		return nil, keyValueDb.ErrDBClosed
	}

	value, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, keyValueDb.ErrKeyNotFound
		}
		return nil, err
	}

	// The returned slice is only valid until the closer is released
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	if err := closer.Close(); err != nil {
		return nil, err
	}

	return valueCopy, nil
}

func (p *PebbleDB) Write(ctx context.Context, key []byte, value []byte) error {
	if p.db == nil {
		return keyValueDb.ErrDBClosed
	}

	return p.db.Set(key, value, pebble.Sync)
}

func (p *PebbleDB) Delete(ctx context.Context, key []byte) error {
	if p.db == nil {
		return keyValueDb.ErrDBClosed
	}

	return p.db.Delete(key, pebble.Sync)
}

func (p *PebbleDB) Batch(ctx context.Context, ops []keyValueDb.BatchOperation) error {
	if p.db == nil {
		return keyValueDb.ErrDBClosed
	}

	batch := p.db.NewBatch()
	defer batch.Close()

	for _, op := range ops {
		var err error
		switch op.Type {
		case keyValueDb.BatchPut:
			err = batch.Set(op.Key, op.Value, nil)
		case keyValueDb.BatchDelete:
			err = batch.Delete(op.Key, nil)
		default:
			return fmt.Errorf("unknown batch operation type: %d", op.Type)
		}
		if err != nil {
			return err
		}
	}

	return p.db.Apply(batch, pebble.Sync)
}

type PebbleIterator struct {
	iter    *pebble.Iterator
	started bool
}

func (p *PebbleDB) Iterator(ctx context.Context, start, end []byte) (keyValueDb.Iterator, error) {
	if p.db == nil {
		return nil, keyValueDb.ErrDBClosed
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: end,
	})
	if err != nil {
		return nil, err
	}

	return &PebbleIterator{iter: iter}, nil
}

func (it *PebbleIterator) Next() bool {
	if !it.started {
		it.started = true
		return it.iter.First()
	}
	return it.iter.Next()
}

func (it *PebbleIterator) Key() []byte {
	// pebble reuses key buffers between positioning calls
	key := make([]byte, len(it.iter.Key()))
	copy(key, it.iter.Key())
	return key
}

func (it *PebbleIterator) Value() []byte {
	value := make([]byte, len(it.iter.Value()))
	copy(value, it.iter.Value())
	return value
}

func (it *PebbleIterator) Error() error {
	return it.iter.Error()
}

func (it *PebbleIterator) Close() error {
	return it.iter.Close()
}
