// Package kvstore is the abstract key-value half of the persistence
// contract (spec.md §6): a namespaced find/update store with a
// compare-and-set primitive on a single field. The Ledger's
// compare-and-decrement (spec.md §4.A) is built on CompareAndSwap here;
// concrete backends (pebble, leveldb) satisfy the same Store interface so
// swapping the backend never touches business logic, mirroring the
// teacher's keyValueDb.DB abstraction.
package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key doesn't exist.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrConflict is returned by CompareAndSwap when the observed value
	// did not match what the caller expected.
	ErrConflict = errors.New("kvstore: compare-and-swap conflict")
	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("kvstore: store is closed")
)

// Store is the minimal contract any backend must support.
type Store interface {
	// Get reads the raw value stored at key, or ErrNotFound.
	Get(ctx context.Context, namespace string, key []byte) ([]byte, error)

	// Put unconditionally writes key to value.
	Put(ctx context.Context, namespace string, key []byte, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, namespace string, key []byte) error

	// CompareAndSwap atomically replaces the value at key with newValue
	// iff the current stored bytes equal oldValue (oldValue == nil means
	// "key must not exist"). This is the single primitive every balance
	// mutation in the Ledger is built from (spec.md §4.A, §9): never a
	// plain read followed by a write.
	CompareAndSwap(ctx context.Context, namespace string, key []byte, oldValue, newValue []byte) error

	// Iterate walks all keys in namespace within [start, end) in
	// ascending key order, calling fn for each. Iteration stops early if
	// fn returns false.
	Iterate(ctx context.Context, namespace string, start, end []byte, fn func(key, value []byte) bool) error

	// Close releases the backend's resources.
	Close() error
}
