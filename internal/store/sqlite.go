// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides guild, cache state and local whitelist persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is ISO-8601 with sub-second precision so refresh ordering survives a round trip
const timeFormat = time.RFC3339Nano

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS guilds (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			snowflake  TEXT NOT NULL UNIQUE,
			joined     TEXT NOT NULL,
			admin_role TEXT
		);

		CREATE TABLE IF NOT EXISTS caches (
			guild_id     TEXT PRIMARY KEY REFERENCES guilds(snowflake) ON DELETE CASCADE,
			last_refresh TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS databases (
			guild_id TEXT PRIMARY KEY REFERENCES guilds(snowflake) ON DELETE CASCADE,
			driver   TEXT NOT NULL DEFAULT 'mysql',
			address  TEXT NOT NULL,
			name     TEXT NOT NULL,
			username TEXT NOT NULL,
			password TEXT NOT NULL DEFAULT '',

			CHECK (driver IN ('mysql', 'postgres'))
		);

		CREATE TABLE IF NOT EXISTS whitelist (
			guild_id   TEXT NOT NULL REFERENCES guilds(snowflake) ON DELETE CASCADE,
			identifier TEXT NOT NULL,
			added_at   TEXT NOT NULL,

			UNIQUE(guild_id, identifier)
		);

		CREATE INDEX IF NOT EXISTS idx_whitelist_guild ON whitelist(guild_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// Migration: databases written by the first release kept caches as an
	// append-only log without a key. Collapse it to the latest row per guild.
	var pk int
	err := s.db.QueryRow(`SELECT pk FROM pragma_table_info('caches') WHERE name = 'guild_id'`).Scan(&pk)
	if err != nil {
		return fmt.Errorf("inspecting caches table: %w", err)
	}
	if pk > 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning caches migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	steps := []string{
		`CREATE TABLE caches_current (
			guild_id     TEXT PRIMARY KEY REFERENCES guilds(snowflake) ON DELETE CASCADE,
			last_refresh TEXT NOT NULL
		)`,
		`INSERT INTO caches_current (guild_id, last_refresh)
			SELECT guild_id, MAX(last_refresh) FROM caches
			WHERE guild_id IN (SELECT snowflake FROM guilds)
			GROUP BY guild_id`,
		`DROP TABLE caches`,
		`ALTER TABLE caches_current RENAME TO caches`,
	}
	for _, step := range steps {
		if _, err := tx.Exec(step); err != nil {
			return fmt.Errorf("migrating caches table: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing caches migration: %w", err)
	}

	s.logger.Info("applied migration", "table", "caches", "change", "one row per guild")
	return nil
}

// Ping checks that the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation checks if the error means the owning guild row is gone
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// ListGuilds returns every stored guild together with its external descriptor, if any.
func (s *SQLiteStore) ListGuilds(ctx context.Context) ([]*Guild, error) {
	query := `
		SELECT g.id, g.snowflake, g.joined, g.admin_role,
		       d.driver, d.address, d.name, d.username, d.password
		FROM guilds g
		LEFT JOIN databases d ON d.guild_id = g.snowflake
		ORDER BY g.id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing guilds: %w", err)
	}
	defer rows.Close()

	var guilds []*Guild
	for rows.Next() {
		var g Guild
		var joined string
		var adminRole sql.NullString
		var driver, address, name, username, password sql.NullString

		if err := rows.Scan(&g.ID, &g.Snowflake, &joined, &adminRole,
			&driver, &address, &name, &username, &password); err != nil {
			return nil, fmt.Errorf("scanning guild: %w", err)
		}

		g.Joined, err = time.Parse(timeFormat, joined)
		if err != nil {
			return nil, fmt.Errorf("parsing joined for guild %s: %w", g.Snowflake, err)
		}
		g.AdminRole = adminRole.String
		if address.Valid {
			g.Database = &Descriptor{
				Driver:   driver.String,
				Address:  address.String,
				Name:     name.String,
				Username: username.String,
				Password: password.String,
			}
		}
		guilds = append(guilds, &g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating guilds: %w", err)
	}

	return guilds, nil
}

// AddGuild inserts a guild and sets g.ID to the assigned local id.
// Returns ErrDuplicateGuild if the snowflake is already stored.
func (s *SQLiteStore) AddGuild(ctx context.Context, g *Guild) error {
	query := `INSERT INTO guilds (snowflake, joined, admin_role) VALUES (?, ?, ?)`

	var adminRole sql.NullString
	if g.AdminRole != "" {
		adminRole = sql.NullString{String: g.AdminRole, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, query,
		g.Snowflake,
		g.Joined.UTC().Format(timeFormat),
		adminRole,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateGuild
		}
		return fmt.Errorf("inserting guild: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading guild id: %w", err)
	}
	g.ID = id

	s.logger.Debug("added guild", "snowflake", g.Snowflake, "id", id)
	return nil
}

// RemoveGuild deletes a guild and every row owned by it in one transaction.
// Returns ErrNotFound if the guild is not stored.
func (s *SQLiteStore) RemoveGuild(ctx context.Context, snowflake string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"caches", "databases", "whitelist"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE guild_id = ?", snowflake); err != nil {
			return fmt.Errorf("deleting %s rows: %w", table, err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM guilds WHERE snowflake = ?`, snowflake)
	if err != nil {
		return fmt.Errorf("deleting guild: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing guild removal: %w", err)
	}

	s.logger.Debug("removed guild", "snowflake", snowflake)
	return nil
}

// UpdateAdminRole sets the role required for privileged commands.
// An empty role stores NULL, which means the configured default.
func (s *SQLiteStore) UpdateAdminRole(ctx context.Context, snowflake, role string) error {
	var adminRole sql.NullString
	if role != "" {
		adminRole = sql.NullString{String: role, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `UPDATE guilds SET admin_role = ? WHERE snowflake = ?`, adminRole, snowflake)
	if err != nil {
		return fmt.Errorf("updating admin role: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDatabase stores or replaces a guild's external descriptor.
func (s *SQLiteStore) SetDatabase(ctx context.Context, snowflake string, d *Descriptor) error {
	query := `
		INSERT INTO databases (guild_id, driver, address, name, username, password)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			driver = excluded.driver,
			address = excluded.address,
			name = excluded.name,
			username = excluded.username,
			password = excluded.password
	`

	_, err := s.db.ExecContext(ctx, query, snowflake, d.Driver, d.Address, d.Name, d.Username, d.Password)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("saving database descriptor: %w", err)
	}
	return nil
}

// ClearDatabase removes a guild's external descriptor. Clearing a guild
// without one succeeds silently.
func (s *SQLiteStore) ClearDatabase(ctx context.Context, snowflake string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM databases WHERE guild_id = ?`, snowflake); err != nil {
		return fmt.Errorf("clearing database descriptor: %w", err)
	}
	return nil
}

// ListCacheStates returns the stored refresh timestamp of every guild.
func (s *SQLiteStore) ListCacheStates(ctx context.Context) ([]*CacheState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, last_refresh FROM caches`)
	if err != nil {
		return nil, fmt.Errorf("listing cache states: %w", err)
	}
	defer rows.Close()

	var states []*CacheState
	for rows.Next() {
		var state CacheState
		var lastRefresh string
		if err := rows.Scan(&state.GuildID, &lastRefresh); err != nil {
			return nil, fmt.Errorf("scanning cache state: %w", err)
		}
		state.LastRefresh, err = time.Parse(timeFormat, lastRefresh)
		if err != nil {
			return nil, fmt.Errorf("parsing last_refresh for guild %s: %w", state.GuildID, err)
		}
		states = append(states, &state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cache states: %w", err)
	}
	return states, nil
}

// SaveCacheState overwrites the guild's refresh row. Last writer wins.
// Returns ErrNotFound if the guild no longer exists.
func (s *SQLiteStore) SaveCacheState(ctx context.Context, state *CacheState) error {
	query := `
		INSERT INTO caches (guild_id, last_refresh) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET last_refresh = excluded.last_refresh
	`

	_, err := s.db.ExecContext(ctx, query, state.GuildID, state.LastRefresh.UTC().Format(timeFormat))
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("saving cache state: %w", err)
	}
	return nil
}

// DeleteCacheState removes the guild's refresh row, if present.
func (s *SQLiteStore) DeleteCacheState(ctx context.Context, guildID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM caches WHERE guild_id = ?`, guildID); err != nil {
		return fmt.Errorf("deleting cache state: %w", err)
	}
	return nil
}

// ListEntries returns the guild's local whitelist ordered by identifier.
func (s *SQLiteStore) ListEntries(ctx context.Context, guildID string) ([]*Entry, error) {
	query := `SELECT identifier, added_at FROM whitelist WHERE guild_id = ? ORDER BY identifier`

	rows, err := s.db.QueryContext(ctx, query, guildID)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		var e Entry
		var addedAt string
		if err := rows.Scan(&e.Identifier, &addedAt); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.AddedAt, err = time.Parse(timeFormat, addedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing added_at: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}

// AddEntry whitelists an identifier for the guild.
// Returns ErrDuplicateEntry if it is already present.
func (s *SQLiteStore) AddEntry(ctx context.Context, guildID string, entry *Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO whitelist (guild_id, identifier, added_at) VALUES (?, ?, ?)`,
		guildID, entry.Identifier, entry.AddedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateEntry
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting entry: %w", err)
	}
	return nil
}

// RemoveEntry removes an identifier from the guild's whitelist.
// Returns ErrNotFound if it was not present.
func (s *SQLiteStore) RemoveEntry(ctx context.Context, guildID, identifier string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM whitelist WHERE guild_id = ? AND identifier = ?`, guildID, identifier)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DB exposes the underlying handle for collectors that read pool statistics.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

var _ Store = (*SQLiteStore)(nil)
