package ledgerlog

import (
	"fmt"

	"github.com/camppoints/exchanged/internal/ledgerlog/postgres"
	"github.com/camppoints/exchanged/internal/ledgerlog/sqlite"
)

// Open constructs the configured backend, mirroring kvstore.Open: this
// is the only place that knows concrete backend types exist.
func Open(backend, dsn string) (Store, error) {
	switch backend {
	case "sqlite":
		return sqlite.Open(dsn)
	case "postgres":
		return postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("ledgerlog: unknown backend %q", backend)
	}
}
