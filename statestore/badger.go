package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AltairaLabs/callkit/logger"
)

const badgerKeyPrefix = "call/"

// BadgerStore is a Store backed by an embedded BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool
}

// NewBadgerStore opens a BadgerDB-backed record store.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("statestore: badger directory is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Save writes rec as JSON.
func (s *BadgerStore) Save(_ context.Context, rec *CallRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	rec.SavedAt = time.Now()
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(rec.ID), data)
	})
}

// Load reads a record.
func (s *BadgerStore) Load(_ context.Context, id string) (*CallRecord, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get failed: %w", err)
	}
	return decodeRecord(data)
}

// List iterates over every record under the key prefix.
func (s *BadgerStore) List(_ context.Context, opts ListOptions) ([]*CallRecord, error) {
	var recs []*CallRecord
	prefix := []byte(badgerKeyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decodeRecord(data)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list failed: %w", err)
	}
	return sortAndPage(recs, opts), nil
}

// Delete removes a record.
func (s *BadgerStore) Delete(_ context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(badgerKey(id))
	})
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func badgerKey(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

// badgerLogger routes badger warnings and errors to the package logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...any) {
	logger.Error("badger: "+fmt.Sprintf(f, v...), "component", "statestore")
}

func (badgerLogger) Warningf(f string, v ...any) {
	logger.Warn("badger: "+fmt.Sprintf(f, v...), "component", "statestore")
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}
