package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"codeberg.org/dirmirror/dirmirror/pkg/directory"
)

// GroupRecord is a mirrored group row.
type GroupRecord struct {
	ID                    string  `db:"id" json:"id"`
	Name                  *string `db:"name" json:"name,omitempty"`
	DisplayName           string  `db:"display_name" json:"displayName"`
	Description           *string `db:"description" json:"description,omitempty"`
	DirectoryLastModified *string `db:"directory_last_modified" json:"directoryLastModified,omitempty"`
	CreatedAt             string  `db:"created_at" json:"createdAt"`
	UpdatedAt             string  `db:"updated_at" json:"updatedAt"`
}

func (r GroupRecord) Canonical() directory.Group {
	return directory.Group{
		ID:                    r.ID,
		Name:                  r.Name,
		DisplayName:           r.DisplayName,
		Description:           r.Description,
		DirectoryLastModified: r.DirectoryLastModified,
	}
}

const groupCols = `id, name, display_name, description,
	directory_last_modified, created_at, updated_at`

// GroupSnapshot loads every mirrored group keyed by id in one bulk read.
func (m *Mirror) GroupSnapshot(ctx context.Context) (map[string]directory.Group, error) {
	var rows []GroupRecord
	if err := m.db.SelectContext(ctx, &rows, "SELECT "+groupCols+" FROM user_groups"); err != nil {
		return nil, fmt.Errorf("load group snapshot: %w", err)
	}

	snapshot := make(map[string]directory.Group, len(rows))
	for _, r := range rows {
		snapshot[r.ID] = r.Canonical()
	}
	return snapshot, nil
}

// GetGroup returns one mirrored group or ErrNotFound.
func (m *Mirror) GetGroup(ctx context.Context, id string) (*GroupRecord, error) {
	var row GroupRecord
	err := m.db.GetContext(ctx, &row,
		m.rebind("SELECT "+groupCols+" FROM user_groups WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group %s: %w", id, err)
	}
	return &row, nil
}

// GetGroupByName resolves the short machine name, used to reject
// duplicate names before a create.
func (m *Mirror) GetGroupByName(ctx context.Context, name string) (*GroupRecord, error) {
	var row GroupRecord
	err := m.db.GetContext(ctx, &row,
		m.rebind("SELECT "+groupCols+" FROM user_groups WHERE name = ?"), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group by name %s: %w", name, err)
	}
	return &row, nil
}

// ListGroups returns one page of groups plus the total match count.
// Search matches a substring of name, displayName or description.
func (m *Mirror) ListGroups(ctx context.Context, startIndex, count int, search string) ([]GroupRecord, int, error) {
	var sb strings.Builder
	var args []any

	sb.WriteString(" WHERE 1=1")
	if v := strings.TrimSpace(search); v != "" {
		pattern := "%" + strings.ToLower(v) + "%"
		sb.WriteString(" AND (LOWER(name) LIKE ?" +
			" OR LOWER(display_name) LIKE ?" +
			" OR LOWER(description) LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	where := sb.String()

	var total int
	if err := m.db.GetContext(ctx, &total,
		m.rebind("SELECT COUNT(*) FROM user_groups"+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count groups: %w", err)
	}

	query := "SELECT " + groupCols + " FROM user_groups" + where + " ORDER BY created_at DESC"
	query, pageArgs := m.paginate(query, args, startIndex, count)

	rows := []GroupRecord{}
	if err := m.db.SelectContext(ctx, &rows, m.rebind(query), pageArgs...); err != nil {
		return nil, 0, fmt.Errorf("list groups: %w", err)
	}
	return rows, total, nil
}

// UpsertGroup writes one group inside a stage transaction; update
// first, insert when no row matched.
func (t *Tx) UpsertGroup(ctx context.Context, g directory.Group) error {
	return upsertGroup(ctx, t.tx, g)
}

// UpsertGroup is the single-record variant used by the HTTP API.
func (m *Mirror) UpsertGroup(ctx context.Context, g directory.Group) error {
	return upsertGroup(ctx, m.db, g)
}

func upsertGroup(ctx context.Context, q sqlx.ExtContext, g directory.Group) error {
	now := nowUTC()

	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE user_groups SET
		name = ?, display_name = ?, description = ?,
		directory_last_modified = ?, updated_at = ?
		WHERE id = ?`),
		g.Name, g.DisplayName, g.Description, g.DirectoryLastModified, now, g.ID)
	if err != nil {
		return fmt.Errorf("update group %s: %w", g.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update group %s: %w", g.ID, err)
	}
	if affected > 0 {
		return nil
	}

	_, err = q.ExecContext(ctx, q.Rebind(`INSERT INTO user_groups (
		id, name, display_name, description, directory_last_modified,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		g.ID, g.Name, g.DisplayName, g.Description, g.DirectoryLastModified, now, now)
	if err != nil {
		return fmt.Errorf("insert group %s: %w", g.ID, err)
	}
	return nil
}

// DeleteGroup removes the group and its membership edges.
func (t *Tx) DeleteGroup(ctx context.Context, id string) error {
	return deleteGroup(ctx, t.tx, id)
}

// DeleteGroup is the single-record variant used by the HTTP API; the
// cascade runs in its own transaction.
func (m *Mirror) DeleteGroup(ctx context.Context, id string) error {
	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	if err := deleteGroup(ctx, tx.tx, id); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func deleteGroup(ctx context.Context, q sqlx.ExtContext, id string) error {
	if err := removeGroupEdges(ctx, q, id); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, q.Rebind("DELETE FROM user_groups WHERE id = ?"), id); err != nil {
		return fmt.Errorf("delete group %s: %w", id, err)
	}
	return nil
}
