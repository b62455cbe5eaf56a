package walletdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jpalmerr/walletfleet"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS wallets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	public_key TEXT UNIQUE NOT NULL,
	private_key TEXT NOT NULL,
	access_token TEXT NOT NULL DEFAULT ''
);`

// SQLite stores wallets in a SQLite file through modernc.org/sqlite.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := ensureDirectory(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	// one writer; busy_timeout covers other processes sharing the file
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

const busyTimeoutPragma = "_pragma=busy_timeout(5000)"

// sqliteDSN turns a path or file: URI into a DSN that carries the busy
// timeout. A file: URI that already sets busy_timeout is left alone.
func sqliteDSN(path string) string {
	if path == ":memory:" {
		return path
	}
	if !strings.HasPrefix(path, "file:") {
		return "file:" + path + "?" + busyTimeoutPragma
	}
	if strings.Contains(path, "busy_timeout") {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&" + busyTimeoutPragma
	}
	return path + "?" + busyTimeoutPragma
}

func ensureDirectory(path string) error {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}
	return nil
}

// LoadAll returns every wallet in insertion order.
func (s *SQLite) LoadAll(ctx context.Context) ([]walletfleet.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT public_key, private_key, access_token FROM wallets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []walletfleet.Identity
	for rows.Next() {
		var id walletfleet.Identity
		if err := rows.Scan(&id.PublicID, &id.SecretKey, &id.Credential); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertCredential replaces the stored credential of an existing wallet.
func (s *SQLite) UpsertCredential(ctx context.Context, publicID, credential string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE wallets SET access_token = ? WHERE public_key = ?`, credential, publicID)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, publicID)
	}
	return nil
}

// Insert adds a new wallet.
func (s *SQLite) Insert(ctx context.Context, id walletfleet.Identity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallets (public_key, private_key, access_token) VALUES (?, ?, ?)`,
		id.PublicID, id.SecretKey, id.Credential)
	if err != nil {
		if isSQLiteUnique(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, id.PublicID)
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
