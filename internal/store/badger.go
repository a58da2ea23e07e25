package store

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore - Store backed by an embedded Badger database.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore - opens (or creates) the database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// NewInMemoryStore - a throwaway store for tests and ephemeral runs.
func NewInMemoryStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

func (that *BadgerStore) Get(key string) (string, bool, error) {
	var value string

	err := that.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("failed to get key %q: %w", key, err)
	}

	return value, true, nil
}

func (that *BadgerStore) Set(key, value string) error {
	err := that.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}

	return nil
}

func (that *BadgerStore) Remove(key string) error {
	err := that.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to remove key %q: %w", key, err)
	}

	return nil
}

func (that *BadgerStore) Close() error {
	if err := that.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger store: %w", err)
	}

	return nil
}
