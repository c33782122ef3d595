// Package directory maps camp usernames to uids for the Transfer
// Service's username-addressed transfers (spec.md §4.F). It is a thin
// KV-backed lookup table, following the same namespaced-store
// convention as every other kernel component rather than introducing
// a second storage technology for what is a single string-to-string
// mapping.
package directory

import (
	"context"

	"github.com/camppoints/exchanged/internal/kvstore"
	"github.com/camppoints/exchanged/internal/xerr"
)

const namespace = "directory"

// Directory resolves usernames to uids.
type Directory struct {
	kv kvstore.Store
}

// New builds a Directory over the given KV store.
func New(kv kvstore.Store) *Directory {
	return &Directory{kv: kv}
}

// Register binds username to uid, rejecting if the username is
// already taken by a different uid.
func (d *Directory) Register(ctx context.Context, username, uid string) error {
	if err := d.kv.CompareAndSwap(ctx, namespace, []byte(username), nil, []byte(uid)); err != nil {
		if err == kvstore.ErrConflict {
			existing, getErr := d.kv.Get(ctx, namespace, []byte(username))
			if getErr == nil && string(existing) == uid {
				return nil // idempotent re-registration
			}
			return xerr.New(xerr.CodeInvalidArgs, "username already taken")
		}
		return xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	return nil
}

// ResolveUID looks up the uid bound to username.
func (d *Directory) ResolveUID(ctx context.Context, username string) (string, error) {
	raw, err := d.kv.Get(ctx, namespace, []byte(username))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return "", xerr.ErrUnknownRecipient
		}
		return "", xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	return string(raw), nil
}
