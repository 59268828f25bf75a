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

// UserRecord is a mirrored user row. The db tags bind sqlx scans, the
// json tags shape API payloads.
type UserRecord struct {
	ID                    string  `db:"id" json:"id"`
	LoginName             string  `db:"login_name" json:"loginName"`
	Email                 string  `db:"email" json:"email"`
	LastName              string  `db:"last_name" json:"lastName"`
	UserType              string  `db:"user_type" json:"userType"`
	Status                string  `db:"status" json:"status"`
	FirstName             *string `db:"first_name" json:"firstName,omitempty"`
	ValidFrom             *string `db:"valid_from" json:"validFrom,omitempty"`
	ValidTo               *string `db:"valid_to" json:"validTo,omitempty"`
	Company               *string `db:"company" json:"company,omitempty"`
	Country               *string `db:"country" json:"country,omitempty"`
	City                  *string `db:"city" json:"city,omitempty"`
	DirectoryLastModified *string `db:"directory_last_modified" json:"directoryLastModified,omitempty"`
	CreatedAt             string  `db:"created_at" json:"createdAt"`
	UpdatedAt             string  `db:"updated_at" json:"updatedAt"`
}

// Canonical converts the row back into the shape the diff engine
// compares. Stored dates are re-normalized so a row written by an older
// schema still compares day-granular.
func (r UserRecord) Canonical() directory.User {
	return directory.User{
		ID:                    r.ID,
		LoginName:             r.LoginName,
		Email:                 r.Email,
		LastName:              r.LastName,
		FirstName:             r.FirstName,
		UserType:              r.UserType,
		Status:                r.Status,
		ValidFrom:             dateOnlyOpt(r.ValidFrom),
		ValidTo:               dateOnlyOpt(r.ValidTo),
		Company:               r.Company,
		Country:               r.Country,
		City:                  r.City,
		DirectoryLastModified: r.DirectoryLastModified,
	}
}

func dateOnlyOpt(s *string) *string {
	if s == nil {
		return nil
	}
	return directory.DateOnly(*s)
}

const userCols = `id, login_name, email, last_name, user_type, status,
	first_name, valid_from, valid_to, company, country, city,
	directory_last_modified, created_at, updated_at`

// UserSnapshot loads every mirrored user keyed by id in one bulk read.
func (m *Mirror) UserSnapshot(ctx context.Context) (map[string]directory.User, error) {
	var rows []UserRecord
	if err := m.db.SelectContext(ctx, &rows, "SELECT "+userCols+" FROM users"); err != nil {
		return nil, fmt.Errorf("load user snapshot: %w", err)
	}

	snapshot := make(map[string]directory.User, len(rows))
	for _, r := range rows {
		snapshot[r.ID] = r.Canonical()
	}
	return snapshot, nil
}

// GetUser returns one mirrored user or ErrNotFound.
func (m *Mirror) GetUser(ctx context.Context, id string) (*UserRecord, error) {
	var row UserRecord
	err := m.db.GetContext(ctx, &row,
		m.rebind("SELECT "+userCols+" FROM users WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &row, nil
}

// UserFilter narrows ListUsers. Exact-match fields compare
// case-insensitively; Search matches a substring of loginName, email,
// firstName or lastName.
type UserFilter struct {
	StartIndex int
	Count      int
	Search     string
	Email      string
	Status     string
	UserType   string
	Country    string
}

func (f UserFilter) where() (string, []any) {
	var sb strings.Builder
	var args []any

	sb.WriteString(" WHERE 1=1")

	if v := strings.TrimSpace(f.Email); v != "" {
		sb.WriteString(" AND LOWER(email) = LOWER(?)")
		args = append(args, v)
	}
	if v := strings.TrimSpace(f.Status); v != "" {
		sb.WriteString(" AND UPPER(status) = UPPER(?)")
		args = append(args, v)
	}
	if v := strings.TrimSpace(f.UserType); v != "" {
		sb.WriteString(" AND LOWER(user_type) = LOWER(?)")
		args = append(args, v)
	}
	if v := strings.TrimSpace(f.Country); v != "" {
		sb.WriteString(" AND UPPER(country) = UPPER(?)")
		args = append(args, v)
	}
	if v := strings.TrimSpace(f.Search); v != "" {
		pattern := "%" + strings.ToLower(v) + "%"
		sb.WriteString(" AND (LOWER(login_name) LIKE ?" +
			" OR LOWER(email) LIKE ?" +
			" OR LOWER(first_name) LIKE ?" +
			" OR LOWER(last_name) LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern)
	}

	return sb.String(), args
}

// ListUsers returns one page of users plus the total match count.
// Pages are newest-first; count is clamped to [1,200] and startIndex is
// 1-based.
func (m *Mirror) ListUsers(ctx context.Context, f UserFilter) ([]UserRecord, int, error) {
	where, args := f.where()

	var total int
	if err := m.db.GetContext(ctx, &total,
		m.rebind("SELECT COUNT(*) FROM users"+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query := "SELECT " + userCols + " FROM users" + where + " ORDER BY created_at DESC"
	query, pageArgs := m.paginate(query, args, f.StartIndex, f.Count)

	rows := []UserRecord{}
	if err := m.db.SelectContext(ctx, &rows, m.rebind(query), pageArgs...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return rows, total, nil
}

// paginate appends the dialect's limit clause and its arguments.
func (m *Mirror) paginate(query string, args []any, startIndex, count int) (string, []any) {
	offset := max(0, startIndex-1)
	limit := min(max(1, count), 200)

	clause, offsetFirst := m.limitClause()
	if offsetFirst {
		return query + clause, append(args, offset, limit)
	}
	return query + clause, append(args, limit, offset)
}

// UpsertUser writes one user inside a stage transaction; update first,
// insert when no row matched. The same record written twice is a no-op
// apart from updated_at.
func (t *Tx) UpsertUser(ctx context.Context, u directory.User) error {
	return upsertUser(ctx, t.tx, u)
}

// UpsertUser is the single-record variant used by the HTTP API.
func (m *Mirror) UpsertUser(ctx context.Context, u directory.User) error {
	return upsertUser(ctx, m.db, u)
}

func upsertUser(ctx context.Context, q sqlx.ExtContext, u directory.User) error {
	now := nowUTC()

	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE users SET
		login_name = ?, email = ?, last_name = ?, user_type = ?, status = ?,
		first_name = ?, valid_from = ?, valid_to = ?, company = ?,
		country = ?, city = ?, directory_last_modified = ?, updated_at = ?
		WHERE id = ?`),
		u.LoginName, u.Email, u.LastName, u.UserType, u.Status,
		u.FirstName, u.ValidFrom, u.ValidTo, u.Company,
		u.Country, u.City, u.DirectoryLastModified, now, u.ID)
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.ID, err)
	}
	if affected > 0 {
		return nil
	}

	_, err = q.ExecContext(ctx, q.Rebind(`INSERT INTO users (
		id, login_name, email, last_name, user_type, status,
		first_name, valid_from, valid_to, company, country, city,
		directory_last_modified, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.LoginName, u.Email, u.LastName, u.UserType, u.Status,
		u.FirstName, u.ValidFrom, u.ValidTo, u.Company, u.Country, u.City,
		u.DirectoryLastModified, now, now)
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.ID, err)
	}
	return nil
}

// DeleteUser removes the user and its membership edges.
func (t *Tx) DeleteUser(ctx context.Context, id string) error {
	return deleteUser(ctx, t.tx, id)
}

// DeleteUser is the single-record variant used by the HTTP API; the
// cascade runs in its own transaction.
func (m *Mirror) DeleteUser(ctx context.Context, id string) error {
	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	if err := deleteUser(ctx, tx.tx, id); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func deleteUser(ctx context.Context, q sqlx.ExtContext, id string) error {
	if err := removeUserEdges(ctx, q, id); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, q.Rebind("DELETE FROM users WHERE id = ?"), id); err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	return nil
}
