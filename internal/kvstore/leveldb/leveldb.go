// Package leveldb adapts syndtr/goleveldb to the kvstore.Store contract.
// It exists to prove the persistence contract really is backend-agnostic
// (spec.md §6): every exchange component only ever talks to
// kvstore.Store, never to pebble or goleveldb directly, so an operator
// can pick either without touching business logic.
package leveldb

import (
	"bytes"
	"context"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/camppoints/exchanged/internal/kvstore"
)

// Store is a goleveldb-backed kvstore.Store.
type Store struct {
	db *leveldb.DB
	mu sync.Mutex // guards CompareAndSwap, see pebble.Store for rationale
}

// Open creates or opens a goleveldb database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func namespacedKey(namespace string, key []byte) []byte {
	buf := make([]byte, 0, len(namespace)+1+len(key))
	buf = append(buf, namespace...)
	buf = append(buf, '/')
	buf = append(buf, key...)
	return buf
}

func (s *Store) Get(_ context.Context, namespace string, key []byte) ([]byte, error) {
	value, err := s.db.Get(namespacedKey(namespace, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, kvstore.ErrNotFound
	}
	return value, err
}

func (s *Store) Put(_ context.Context, namespace string, key, value []byte) error {
	return s.db.Put(namespacedKey(namespace, key), value, nil)
}

func (s *Store) Delete(_ context.Context, namespace string, key []byte) error {
	return s.db.Delete(namespacedKey(namespace, key), nil)
}

func (s *Store) CompareAndSwap(_ context.Context, namespace string, key []byte, oldValue, newValue []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	full := namespacedKey(namespace, key)
	current, err := s.db.Get(full, nil)
	if err != nil && err != leveldb.ErrNotFound {
		return err
	}

	if oldValue == nil {
		if err != leveldb.ErrNotFound {
			return kvstore.ErrConflict
		}
	} else {
		if err == leveldb.ErrNotFound || !bytes.Equal(current, oldValue) {
			return kvstore.ErrConflict
		}
	}

	if newValue == nil {
		return s.db.Delete(full, nil)
	}
	return s.db.Put(full, newValue, nil)
}

func (s *Store) Iterate(_ context.Context, namespace string, start, end []byte, fn func(key, value []byte) bool) error {
	prefix := []byte(namespace + "/")
	rng := &util.Range{Start: namespacedKey(namespace, start)}
	if end != nil {
		rng.Limit = namespacedKey(namespace, end)
	} else {
		rng.Limit = append([]byte(namespace), '0')
	}

	iter := s.db.NewIterator(rng, nil)
	defer iter.Release()

	for iter.Next() {
		k := iter.Key()
		trimmed := make([]byte, len(k)-len(prefix))
		copy(trimmed, k[len(prefix):])
		v := make([]byte, len(iter.Value()))
		copy(v, iter.Value())
		if !fn(trimmed, v) {
			break
		}
	}
	return iter.Error()
}

func (s *Store) Close() error {
	return s.db.Close()
}
