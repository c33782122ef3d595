// Package pebble adapts cockroachdb/pebble, the teacher's own embedded
// storage engine (internal/storage/nodestore), to the kvstore.Store
// contract. Namespaces are modeled as key prefixes since pebble has no
// native bucket concept, the same prefixing trick the teacher's keylet
// package uses to partition one flat keyspace by entry type.
package pebble

import (
	"bytes"
	"context"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/camppoints/exchanged/internal/kvstore"
)

// Store is a pebble-backed kvstore.Store.
type Store struct {
	db *pebble.DB

	// mu serializes CompareAndSwap. Pebble has no native per-key CAS, so
	// the atomic compare-and-decrement the Ledger depends on (spec.md
	// §4.A) is implemented as a single in-process critical section here;
	// every balance mutation goes through this path rather than a bare
	// read-modify-write.
	mu sync.Mutex
}

// Open creates or opens a pebble database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
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
	value, closer, err := s.db.Get(namespacedKey(namespace, key))
	if err == pebble.ErrNotFound {
		return nil, kvstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(value))
	copy(out, value)
	_ = closer.Close()
	return out, nil
}

func (s *Store) Put(_ context.Context, namespace string, key, value []byte) error {
	return s.db.Set(namespacedKey(namespace, key), value, pebble.Sync)
}

func (s *Store) Delete(_ context.Context, namespace string, key []byte) error {
	return s.db.Delete(namespacedKey(namespace, key), pebble.Sync)
}

func (s *Store) CompareAndSwap(_ context.Context, namespace string, key []byte, oldValue, newValue []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	full := namespacedKey(namespace, key)
	current, closer, err := s.db.Get(full)
	if err != nil && err != pebble.ErrNotFound {
		return err
	}
	var currentCopy []byte
	if err == nil {
		currentCopy = make([]byte, len(current))
		copy(currentCopy, current)
		_ = closer.Close()
	}

	if oldValue == nil {
		if err != pebble.ErrNotFound {
			return kvstore.ErrConflict
		}
	} else {
		if err == pebble.ErrNotFound || !bytes.Equal(currentCopy, oldValue) {
			return kvstore.ErrConflict
		}
	}

	if newValue == nil {
		return s.db.Delete(full, pebble.Sync)
	}
	return s.db.Set(full, newValue, pebble.Sync)
}

func (s *Store) Iterate(_ context.Context, namespace string, start, end []byte, fn func(key, value []byte) bool) error {
	lower := namespacedKey(namespace, start)
	var upper []byte
	if end == nil {
		// Upper bound is the exclusive end of the namespace prefix.
		upper = append([]byte(namespace), '0')
	} else {
		upper = namespacedKey(namespace, end)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()

	prefix := []byte(namespace + "/")
	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()
		trimmed := k[len(prefix):]
		if !fn(trimmed, iter.Value()) {
			break
		}
	}
	return iter.Error()
}

func (s *Store) Close() error {
	return s.db.Close()
}
