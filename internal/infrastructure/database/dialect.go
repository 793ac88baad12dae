package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// dialect hides the backend differences the schema store cares about:
// existence probing, duplicate-column classification and placeholder style.
type dialect interface {
	Name() string
	TableExists(ctx context.Context, db *sql.DB, table string) (bool, error)
	ColumnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error)
	IsDuplicateColumn(err error) bool
	// Rebind rewrites ? placeholders into the backend's native style.
	Rebind(query string) string
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) TableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (sqliteDialect) ColumnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	// PRAGMA does not take bind parameters; table names come from the
	// in-process registry, not user input.
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (sqliteDialect) IsDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column")
}

func (sqliteDialect) Rebind(query string) string { return query }

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) TableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, table,
	).Scan(&exists)
	return exists, err
}

func (postgresDialect) ColumnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
		)`, table, column,
	).Scan(&exists)
	return exists, err
}

func (postgresDialect) IsDuplicateColumn(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42701" // duplicate_column
	}
	return err != nil && strings.Contains(err.Error(), "already exists")
}

func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// addedColumn extracts the column name from an additive ALTER TABLE step.
func addedColumn(stmt string) (string, bool) {
	fields := strings.Fields(stmt)
	for i := 0; i+2 < len(fields); i++ {
		if strings.EqualFold(fields[i], "ADD") && strings.EqualFold(fields[i+1], "COLUMN") {
			return strings.Trim(fields[i+2], `"`), true
		}
	}
	return "", false
}
