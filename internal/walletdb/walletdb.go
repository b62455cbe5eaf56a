// Package walletdb persists wallets in SQLite or PostgreSQL.
//
// Both backends store one row per wallet in a "wallets" table keyed by the
// unique public key. They are safe for concurrent use: poll loops update
// credentials from many goroutines at once.
package walletdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jpalmerr/walletfleet"
)

var (
	// ErrNotFound is returned when no wallet has the given public key.
	ErrNotFound = errors.New("wallet not found")

	// ErrDuplicate is returned when inserting a public key that already exists.
	ErrDuplicate = errors.New("wallet already exists")
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB is a wallet store with a lifetime.
type DB interface {
	walletfleet.IdentityStore
	Close() error
}

// Open connects to the database for driver ("sqlite" or "postgres") and
// creates the wallets table if needed.
//
// For sqlite, dsn is a file path (or ":memory:"). For postgres it is any
// connection string pgx accepts.
func Open(ctx context.Context, driver, dsn string) (DB, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}

	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(ctx, dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
