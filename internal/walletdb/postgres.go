package walletdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jpalmerr/walletfleet"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS wallets (
	id BIGSERIAL PRIMARY KEY,
	public_key TEXT UNIQUE NOT NULL,
	private_key TEXT NOT NULL,
	access_token TEXT NOT NULL DEFAULT ''
)`

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Postgres stores wallets in PostgreSQL through a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and bootstraps the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// LoadAll returns every wallet in insertion order.
func (p *Postgres) LoadAll(ctx context.Context) ([]walletfleet.Identity, error) {
	rows, err := p.pool.Query(ctx, `SELECT public_key, private_key, access_token FROM wallets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer rows.Close()

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
func (p *Postgres) UpsertCredential(ctx context.Context, publicID, credential string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE wallets SET access_token = $1 WHERE public_key = $2`, credential, publicID)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, publicID)
	}
	return nil
}

// Insert adds a new wallet.
func (p *Postgres) Insert(ctx context.Context, id walletfleet.Identity) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO wallets (public_key, private_key, access_token) VALUES ($1, $2, $3)`,
		id.PublicID, id.SecretKey, id.Credential)
	if err != nil {
		if isPgUnique(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, id.PublicID)
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
