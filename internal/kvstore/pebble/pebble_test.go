package pebble

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camppoints/exchanged/internal/kvstore"
)

func TestPebbleCompareAndSwap(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.CompareAndSwap(ctx, "users", []byte("u1"), nil, []byte("100")))

	err = s.CompareAndSwap(ctx, "users", []byte("u1"), nil, []byte("200"))
	require.ErrorIs(t, err, kvstore.ErrConflict)

	require.NoError(t, s.CompareAndSwap(ctx, "users", []byte("u1"), []byte("100"), []byte("50")))

	v, err := s.Get(ctx, "users", []byte("u1"))
	require.NoError(t, err)
	require.Equal(t, "50", string(v))
}

func TestPebbleIterateNamespaced(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "orders", []byte("a"), []byte("1")))
	require.NoError(t, s.Put(ctx, "orders", []byte("b"), []byte("2")))
	require.NoError(t, s.Put(ctx, "users", []byte("a"), []byte("should-not-appear")))

	var keys []string
	require.NoError(t, s.Iterate(ctx, "orders", nil, nil, func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	}))
	require.ElementsMatch(t, []string{"a", "b"}, keys)
}
