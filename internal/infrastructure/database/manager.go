package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// TableDefinition describes one table owned by some repository. CreateSQL
// runs exactly once, when the table is physically absent. Migrations run in
// order on existing tables; each table tracks its own applied version in
// __migrations.
type TableDefinition struct {
	Name       string
	CreateSQL  string
	Migrations []string
}

type Config struct {
	Driver string // "sqlite" or "postgres"
	Path   string // sqlite database file
	DSN    string // postgres connection string
}

// Manager owns the physical connection pool and the table registry. One
// Manager backs one storage path for the process lifetime; repositories
// share it by reference and register their tables before Initialize.
type Manager struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger

	mu          sync.Mutex
	tables      []TableDefinition
	initialized bool
}

func Open(cfg Config, logger *slog.Logger) (*Manager, error) {
	var (
		db  *sql.DB
		d   dialect
		err error
	)

	switch cfg.Driver {
	case "sqlite", "":
		db, err = sql.Open("sqlite", cfg.Path)
		d = sqliteDialect{}
	case "postgres":
		db, err = sql.Open("postgres", cfg.DSN)
		d = postgresDialect{}
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	if d.Name() == "sqlite" {
		// single writer: serialize access instead of fighting SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Manager{
		db:      db,
		dialect: d,
		logger:  logger.With("component", "database"),
	}, nil
}

func (m *Manager) Close() error {
	return m.db.Close()
}

// RegisterTable adds a table definition to the registry. Chainable, startup
// only; registrations after Initialize are ignored.
func (m *Manager) RegisterTable(def TableDefinition) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		m.logger.Warn("table registered after initialize, ignored", "table", def.Name)
		return m
	}
	m.tables = append(m.tables, def)
	return m
}

// Initialize creates the migration bookkeeping table, then brings every
// registered table to its target version. Safe to call on every startup:
// a second run against the same store is a no-op. Any failure other than an
// already-applied additive column aborts; the schema is never left to run
// half-migrated.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	const bookkeeping = `CREATE TABLE IF NOT EXISTS __migrations (
		table_name TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0
	)`
	if _, err := m.db.ExecContext(ctx, bookkeeping); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	for _, def := range m.tables {
		if err := m.initTable(ctx, def); err != nil {
			return err
		}
	}

	m.initialized = true
	return nil
}

func (m *Manager) initTable(ctx context.Context, def TableDefinition) error {
	exists, err := m.dialect.TableExists(ctx, m.db, def.Name)
	if err != nil {
		return fmt.Errorf("failed to probe table %s: %w", def.Name, err)
	}

	if !exists {
		if _, err := m.db.ExecContext(ctx, def.CreateSQL); err != nil {
			return fmt.Errorf("failed to create table %s: %w", def.Name, err)
		}
		m.logger.Info("table created", "table", def.Name)
		return m.setVersion(ctx, def.Name, 0)
	}

	version, err := m.version(ctx, def.Name)
	if err != nil {
		return err
	}
	return m.applyMigrations(ctx, def, version)
}

func (m *Manager) applyMigrations(ctx context.Context, def TableDefinition, current int) error {
	for ver := current; ver < len(def.Migrations); ver++ {
		stmt := def.Migrations[ver]

		// Additive columns are probed via schema introspection first so a
		// half-recorded run does not trip over its own earlier step.
		if column, ok := addedColumn(stmt); ok {
			exists, err := m.dialect.ColumnExists(ctx, m.db, def.Name, column)
			if err != nil {
				return fmt.Errorf("failed to probe column %s.%s: %w", def.Name, column, err)
			}
			if exists {
				if err := m.setVersion(ctx, def.Name, ver+1); err != nil {
					return err
				}
				continue
			}
		}

		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			// fallback: the driver telling us the column is already there
			if m.dialect.IsDuplicateColumn(err) {
				if err := m.setVersion(ctx, def.Name, ver+1); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("failed to migrate table %s to version %d: %w", def.Name, ver+1, err)
		}

		if err := m.setVersion(ctx, def.Name, ver+1); err != nil {
			return err
		}
		m.logger.Info("migration applied", "table", def.Name, "version", ver+1)
	}
	return nil
}

func (m *Manager) version(ctx context.Context, table string) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx,
		m.dialect.Rebind(`SELECT version FROM __migrations WHERE table_name = ?`),
		table,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read migration version for %s: %w", table, err)
	}
	return version, nil
}

func (m *Manager) setVersion(ctx context.Context, table string, version int) error {
	_, err := m.db.ExecContext(ctx, m.dialect.Rebind(
		`INSERT INTO __migrations (table_name, version) VALUES (?, ?)
		ON CONFLICT(table_name) DO UPDATE SET version = excluded.version`),
		table, version,
	)
	if err != nil {
		return fmt.Errorf("failed to record migration version for %s: %w", table, err)
	}
	return nil
}

// Query runs a read statement (written with ? placeholders) and returns the
// rows as column-name maps. Each call checks a connection out of the pool and
// returns it before the call completes.
func (m *Manager) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := m.db.QueryContext(ctx, m.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Write runs a mutating statement (written with ? placeholders) and commits.
func (m *Manager) Write(ctx context.Context, query string, args ...any) error {
	if _, err := m.db.ExecContext(ctx, m.dialect.Rebind(query), args...); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// Typed pass-throughs for repositories that scan into structs. Queries use
// ? placeholders regardless of backend.

func (m *Manager) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return m.db.QueryRowContext(ctx, m.dialect.Rebind(query), args...)
}

func (m *Manager) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return m.db.QueryContext(ctx, m.dialect.Rebind(query), args...)
}

func (m *Manager) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return m.db.ExecContext(ctx, m.dialect.Rebind(query), args...)
}

// BeginTx starts a transaction whose statements get the same rebinding.
func (m *Manager) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx, dialect: m.dialect}, nil
}

type Tx struct {
	tx      *sql.Tx
	dialect dialect
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }
