package kvstore

import (
	"fmt"

	"github.com/camppoints/exchanged/internal/kvstore/leveldb"
	"github.com/camppoints/exchanged/internal/kvstore/pebble"
)

// Open constructs the configured backend. This is the only place in the
// codebase that knows concrete backend types exist; everything else
// depends on Store.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "pebble":
		return pebble.Open(path)
	case "leveldb":
		return leveldb.Open(path)
	default:
		return nil, fmt.Errorf("kvstore: unknown backend %q", backend)
	}
}
