// ABOUTME: PostgreSQL whitelist store using a pgx connection pool
// ABOUTME: Same whitelist(identifier) table layout as the MySQL store

package whitelist

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/2389/whitelist-bot/internal/store"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Postgres is a whitelist store backed by a guild's own PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
}

// PostgresConnString builds a connection URL from a descriptor.
func PostgresConnString(d store.Descriptor) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   d.Address,
		Path:   "/" + d.Name,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.Username, d.Password)
	} else if d.Username != "" {
		u.User = url.User(d.Username)
	}
	return u.String()
}

// OpenPostgres builds a pool for the descriptor and eagerly verifies connectivity.
func OpenPostgres(ctx context.Context, d store.Descriptor, opts Options) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(PostgresConnString(d))
	if err != nil {
		return nil, fmt.Errorf("parse pgx pool config: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	if opts.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", d.Address, err)
	}

	return &Postgres{pool: pool}, nil
}

// List returns all identifiers in the whitelist table.
func (p *Postgres) List(ctx context.Context) ([]Entry, error) {
	rows, err := p.pool.Query(ctx, "SELECT identifier FROM "+TableName+" ORDER BY identifier")
	if err != nil {
		return nil, fmt.Errorf("listing whitelist: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Identifier); err != nil {
			return nil, fmt.Errorf("scanning whitelist row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating whitelist: %w", err)
	}
	return entries, nil
}

// Add inserts an identifier.
func (p *Postgres) Add(ctx context.Context, identifier string) error {
	_, err := p.pool.Exec(ctx, "INSERT INTO "+TableName+" (identifier) VALUES ($1)", identifier)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("adding to whitelist: %w", err)
	}
	return nil
}

// Remove deletes an identifier.
func (p *Postgres) Remove(ctx context.Context, identifier string) error {
	tag, err := p.pool.Exec(ctx, "DELETE FROM "+TableName+" WHERE identifier = $1", identifier)
	if err != nil {
		return fmt.Errorf("removing from whitelist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Ping checks the pool.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts the pool down.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

var _ Store = (*Postgres)(nil)
