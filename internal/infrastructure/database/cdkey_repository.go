package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/groupgate/groupgate/internal/domain"
)

var cdkeyTable = TableDefinition{
	Name: "cdkey",
	CreateSQL: `CREATE TABLE cdkey (
		cdkey TEXT PRIMARY KEY,
		days INTEGER NOT NULL,
		created TIMESTAMP NOT NULL,
		expires TIMESTAMP,
		used BOOLEAN NOT NULL DEFAULT FALSE,
		used_by TEXT,
		used_at TIMESTAMP
	)`,
}

// CDKeyRepository persists redemption codes. Registering the table happens in
// the constructor; the shared Manager applies it on Initialize.
type CDKeyRepository struct {
	db *Manager
}

func NewCDKeyRepository(db *Manager) *CDKeyRepository {
	db.RegisterTable(cdkeyTable)
	return &CDKeyRepository{db: db}
}

func (r *CDKeyRepository) Create(ctx context.Context, key *domain.CDKey) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cdkey (cdkey, days, created, expires, used) VALUES (?, ?, ?, ?, FALSE)`,
		key.Code, key.Days, key.Created, key.Expires,
	)
	if err != nil {
		return fmt.Errorf("failed to create cdkey: %w", err)
	}
	return nil
}

func (r *CDKeyRepository) Get(ctx context.Context, code string) (*domain.CDKey, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT cdkey, days, created, expires, used, used_by, used_at FROM cdkey WHERE cdkey = ?`,
		code,
	)
	return scanCDKey(row)
}

func (r *CDKeyRepository) List(ctx context.Context) ([]domain.CDKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT cdkey, days, created, expires, used, used_by, used_at FROM cdkey ORDER BY created DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cdkeys: %w", err)
	}
	defer rows.Close()

	var keys []domain.CDKey
	for rows.Next() {
		key, err := scanCDKeyRow(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *key)
	}
	return keys, rows.Err()
}

func (r *CDKeyRepository) Delete(ctx context.Context, code string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM cdkey WHERE cdkey = ?`, code)
	if err != nil {
		return fmt.Errorf("failed to delete cdkey: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Redeem marks the key used and credits the group in one transaction, so the
// store never holds a redeemed-but-uncredited key. The WHERE used = FALSE
// guard re-checks single-use under the transaction.
func (r *CDKeyRepository) Redeem(ctx context.Context, code, groupID string, days int, newExpires time.Time) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()

	result, err := tx.ExecContext(ctx,
		`UPDATE cdkey SET used = TRUE, used_by = ?, used_at = ? WHERE cdkey = ? AND used = FALSE`,
		groupID, now, code,
	)
	if err != nil {
		return fmt.Errorf("failed to mark cdkey used: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrCodeAlreadyUsed
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO group_info (group_id, cdkey, days, expires, authed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET
			cdkey = excluded.cdkey,
			days = excluded.days,
			expires = excluded.expires,
			authed_at = excluded.authed_at`,
		groupID, code, days, newExpires, now,
	)
	if err != nil {
		return fmt.Errorf("failed to credit group %s: %w", groupID, err)
	}

	return tx.Commit()
}

func scanCDKey(row *sql.Row) (*domain.CDKey, error) {
	key := &domain.CDKey{}
	var usedBy sql.NullString
	var expires, usedAt sql.NullTime

	err := row.Scan(&key.Code, &key.Days, &key.Created, &expires, &key.Used, &usedBy, &usedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan error: %w", err)
	}
	fillCDKey(key, expires, usedBy, usedAt)
	return key, nil
}

func scanCDKeyRow(rows *sql.Rows) (*domain.CDKey, error) {
	key := &domain.CDKey{}
	var usedBy sql.NullString
	var expires, usedAt sql.NullTime

	err := rows.Scan(&key.Code, &key.Days, &key.Created, &expires, &key.Used, &usedBy, &usedAt)
	if err != nil {
		return nil, fmt.Errorf("scan row error: %w", err)
	}
	fillCDKey(key, expires, usedBy, usedAt)
	return key, nil
}

func fillCDKey(key *domain.CDKey, expires sql.NullTime, usedBy sql.NullString, usedAt sql.NullTime) {
	if expires.Valid {
		key.Expires = expires.Time
	}
	if usedBy.Valid {
		key.UsedBy = usedBy.String
	}
	if usedAt.Valid {
		t := usedAt.Time
		key.UsedAt = &t
	}
}
