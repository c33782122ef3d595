package directory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camppoints/exchanged/internal/kvstore/pebble"
	"github.com/camppoints/exchanged/internal/xerr"
)

func TestRegisterAndResolve(t *testing.T) {
	kv, err := pebble.Open(filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	d := New(kv)
	ctx := context.Background()
	require.NoError(t, d.Register(ctx, "alice", "u1"))

	uid, err := d.ResolveUID(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "u1", uid)

	_, err = d.ResolveUID(ctx, "ghost")
	require.ErrorIs(t, err, xerr.ErrUnknownRecipient)
}

func TestRegisterRejectsTakenUsername(t *testing.T) {
	kv, err := pebble.Open(filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	d := New(kv)
	ctx := context.Background()
	require.NoError(t, d.Register(ctx, "alice", "u1"))
	require.NoError(t, d.Register(ctx, "alice", "u1")) // idempotent

	err = d.Register(ctx, "alice", "u2")
	require.Error(t, err)
}
