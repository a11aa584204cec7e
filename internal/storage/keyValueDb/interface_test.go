package keyValueDb_test

import (
	"context"
	"errors"
	"testing"

	"github.com/interledger/ilp-settlement-iroha/internal/storage/keyValueDb"
	"github.com/interledger/ilp-settlement-iroha/internal/storage/keyValueDb/bbolt"
	"github.com/interledger/ilp-settlement-iroha/internal/storage/keyValueDb/pebble"
)

// Both backends must behave identically through the DB interface.
func TestBackends(t *testing.T) {
	backends := map[string]func(t *testing.T) keyValueDb.Manager{
		"pebble": func(t *testing.T) keyValueDb.Manager {
			return pebble.NewManager(t.TempDir())
		},
		"bbolt": func(t *testing.T) keyValueDb.Manager {
			return bbolt.NewManager(t.TempDir())
		},
	}

	for name, newManager := range backends {
		t.Run(name, func(t *testing.T) {
			manager := newManager(t)
			defer manager.Close()

			ctx := context.Background()

			db, err := manager.OpenDB("test")
			if err != nil {
				t.Fatalf("Failed to open database: %v", err)
			}

			t.Run("ReadWriteDelete", func(t *testing.T) {
				key := []byte("some-key")
				value := []byte("some-value")

				if err := db.Write(ctx, key, value); err != nil {
					t.Fatalf("Write failed: %v", err)
				}

				got, err := db.Read(ctx, key)
				if err != nil {
					t.Fatalf("Read failed: %v", err)
				}
				if string(got) != string(value) {
					t.Errorf("Wrong value read: got %s, want %s", got, value)
				}

				if err := db.Delete(ctx, key); err != nil {
					t.Fatalf("Delete failed: %v", err)
				}

				_, err = db.Read(ctx, key)
				if !errors.Is(err, keyValueDb.ErrKeyNotFound) {
					t.Errorf("Read after delete: got %v, want ErrKeyNotFound", err)
				}
			})

			t.Run("MissingKey", func(t *testing.T) {
				_, err := db.Read(ctx, []byte("never-written"))
				if !errors.Is(err, keyValueDb.ErrKeyNotFound) {
					t.Errorf("got %v, want ErrKeyNotFound", err)
				}
			})

			t.Run("Batch", func(t *testing.T) {
				ops := []keyValueDb.BatchOperation{
					{Type: keyValueDb.BatchPut, Key: []byte("a"), Value: []byte("1")},
					{Type: keyValueDb.BatchPut, Key: []byte("b"), Value: []byte("2")},
					{Type: keyValueDb.BatchDelete, Key: []byte("a")},
				}
				if err := db.Batch(ctx, ops); err != nil {
					t.Fatalf("Batch failed: %v", err)
				}

				if _, err := db.Read(ctx, []byte("a")); !errors.Is(err, keyValueDb.ErrKeyNotFound) {
					t.Errorf("key a should have been deleted in batch, got %v", err)
				}
				got, err := db.Read(ctx, []byte("b"))
				if err != nil || string(got) != "2" {
					t.Errorf("key b: got %s, %v", got, err)
				}
			})

			t.Run("PrefixIteration", func(t *testing.T) {
				entries := map[string]string{
					"unchecked/h1": "",
					"unchecked/h2": "",
					"checked/h3":   "",
				}
				for k, v := range entries {
					if err := db.Write(ctx, []byte(k), []byte(v)); err != nil {
						t.Fatalf("Write failed: %v", err)
					}
				}

				prefix := []byte("unchecked/")
				it, err := db.Iterator(ctx, prefix, keyValueDb.PrefixEnd(prefix))
				if err != nil {
					t.Fatalf("Iterator failed: %v", err)
				}
				defer it.Close()

				var keys []string
				for it.Next() {
					keys = append(keys, string(it.Key()))
				}
				if err := it.Error(); err != nil {
					t.Fatalf("Iterator error: %v", err)
				}

				if len(keys) != 2 {
					t.Fatalf("got %d keys %v, want 2", len(keys), keys)
				}
				if keys[0] != "unchecked/h1" || keys[1] != "unchecked/h2" {
					t.Errorf("wrong keys: %v", keys)
				}
			})
		})
	}
}

func TestPrefixEnd(t *testing.T) {
	cases := []struct {
		prefix, want []byte
	}{
		{[]byte("abc"), []byte("abd")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, c := range cases {
		got := keyValueDb.PrefixEnd(c.prefix)
		if string(got) != string(c.want) {
			t.Errorf("PrefixEnd(%v) = %v, want %v", c.prefix, got, c.want)
		}
	}
}
