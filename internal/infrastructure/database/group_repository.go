package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/groupgate/groupgate/internal/domain"
)

var groupTable = TableDefinition{
	Name: "group_info",
	CreateSQL: `CREATE TABLE group_info (
		group_id TEXT PRIMARY KEY,
		cdkey TEXT,
		days INTEGER,
		expires TIMESTAMP,
		authed_at TIMESTAMP,
		plugins TEXT
	)`,
}

// GroupRepository persists per-group authorization and the plugin-state map.
// The map lives in one JSON column, so SetPlugins is whole-map last-write-wins.
type GroupRepository struct {
	db *Manager
}

func NewGroupRepository(db *Manager) *GroupRepository {
	db.RegisterTable(groupTable)
	return &GroupRepository{db: db}
}

func (r *GroupRepository) Get(ctx context.Context, groupID string) (*domain.GroupAuth, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT group_id, cdkey, days, expires, authed_at, plugins FROM group_info WHERE group_id = ?`,
		groupID,
	)

	group, err := scanGroup(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group %s: %w", groupID, err)
	}
	return group, nil
}

func (r *GroupRepository) EnsureExists(ctx context.Context, groupID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO group_info (group_id) VALUES (?) ON CONFLICT(group_id) DO NOTHING`,
		groupID,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure group %s: %w", groupID, err)
	}
	return nil
}

func (r *GroupRepository) Plugins(ctx context.Context, groupID string) (map[string]bool, error) {
	var raw sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT plugins FROM group_info WHERE group_id = ?`, groupID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plugins for group %s: %w", groupID, err)
	}
	return decodePlugins(raw)
}

func (r *GroupRepository) SetPlugins(ctx context.Context, groupID string, plugins map[string]bool) error {
	raw, err := json.Marshal(plugins)
	if err != nil {
		return fmt.Errorf("failed to encode plugins: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO group_info (group_id, plugins) VALUES (?, ?)
		ON CONFLICT(group_id) DO UPDATE SET plugins = excluded.plugins`,
		groupID, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to set plugins for group %s: %w", groupID, err)
	}
	return nil
}

// Expiring filters in process rather than comparing timestamps in SQL; the
// two backends disagree on timestamp literal formats and the group table
// stays small.
func (r *GroupRepository) Expiring(ctx context.Context, from time.Time, window time.Duration) ([]domain.GroupAuth, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT group_id, cdkey, days, expires, authed_at, plugins FROM group_info WHERE expires IS NOT NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring groups: %w", err)
	}
	defer rows.Close()

	deadline := from.Add(window)
	var groups []domain.GroupAuth
	for rows.Next() {
		group, err := scanGroup(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan row error: %w", err)
		}
		if group.Expires.After(from) && !group.Expires.After(deadline) {
			groups = append(groups, *group)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Expires.Before(*groups[j].Expires)
	})
	return groups, nil
}

func scanGroup(scan func(...any) error) (*domain.GroupAuth, error) {
	group := &domain.GroupAuth{}
	var (
		cdkey, plugins    sql.NullString
		days              sql.NullInt64
		expires, authedAt sql.NullTime
	)

	if err := scan(&group.GroupID, &cdkey, &days, &expires, &authedAt, &plugins); err != nil {
		return nil, err
	}

	if cdkey.Valid {
		group.CDKey = cdkey.String
	}
	if days.Valid {
		group.Days = int(days.Int64)
	}
	if expires.Valid {
		t := expires.Time
		group.Expires = &t
	}
	if authedAt.Valid {
		t := authedAt.Time
		group.AuthedAt = &t
	}

	var err error
	group.Plugins, err = decodePlugins(plugins)
	if err != nil {
		return nil, err
	}
	return group, nil
}

func decodePlugins(raw sql.NullString) (map[string]bool, error) {
	plugins := map[string]bool{}
	if !raw.Valid || raw.String == "" {
		return plugins, nil
	}
	if err := json.Unmarshal([]byte(raw.String), &plugins); err != nil {
		return nil, fmt.Errorf("failed to decode plugins: %w", err)
	}
	return plugins, nil
}
