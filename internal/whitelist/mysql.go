// ABOUTME: MySQL/MariaDB whitelist store for FiveM servers using the ESX whitelist table
// ABOUTME: Built on database/sql with go-sql-driver/mysql and a small per-guild pool

package whitelist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/2389/whitelist-bot/internal/store"
)

// mysqlDuplicateKey is ER_DUP_ENTRY.
const mysqlDuplicateKey = 1062

// MySQL is a whitelist store backed by a guild's own MySQL database.
type MySQL struct {
	db *sql.DB
}

// MySQLConfig converts a descriptor into a driver config.
func MySQLConfig(d store.Descriptor, opts Options) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = d.Address
	cfg.DBName = d.Name
	cfg.User = d.Username
	cfg.Passwd = d.Password
	cfg.ParseTime = true
	if opts.ConnectTimeout > 0 {
		cfg.Timeout = opts.ConnectTimeout
		cfg.ReadTimeout = opts.ConnectTimeout
		cfg.WriteTimeout = opts.ConnectTimeout
	}
	return cfg
}

// OpenMySQL opens a pool to the descriptor's database and pings it.
func OpenMySQL(ctx context.Context, d store.Descriptor, opts Options) (*MySQL, error) {
	connector, err := mysql.NewConnector(MySQLConfig(d, opts))
	if err != nil {
		return nil, fmt.Errorf("configuring mysql: %w", err)
	}

	db := sql.OpenDB(connector)
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
		db.SetMaxIdleConns(opts.MaxConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql %s: %w", d.Address, err)
	}

	return &MySQL{db: db}, nil
}

// List returns all identifiers in the whitelist table.
func (m *MySQL) List(ctx context.Context) ([]Entry, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT identifier FROM "+TableName+" ORDER BY identifier")
	if err != nil {
		return nil, fmt.Errorf("listing whitelist: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
func (m *MySQL) Add(ctx context.Context, identifier string) error {
	_, err := m.db.ExecContext(ctx, "INSERT INTO "+TableName+" (identifier) VALUES (?)", identifier)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateKey {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("adding to whitelist: %w", err)
	}
	return nil
}

// Remove deletes an identifier.
func (m *MySQL) Remove(ctx context.Context, identifier string) error {
	res, err := m.db.ExecContext(ctx, "DELETE FROM "+TableName+" WHERE identifier = ?", identifier)
	if err != nil {
		return fmt.Errorf("removing from whitelist: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Ping checks the connection.
func (m *MySQL) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Close closes the pool.
func (m *MySQL) Close() error {
	return m.db.Close()
}

var _ Store = (*MySQL)(nil)
