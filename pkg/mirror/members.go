package mirror

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"codeberg.org/dirmirror/dirmirror/pkg/directory"
)

// GroupMemberRecord is one row of a group's member listing: the joined
// user plus when the edge was written.
type GroupMemberRecord struct {
	ID        string  `db:"id" json:"id"`
	LoginName string  `db:"login_name" json:"loginName"`
	Email     string  `db:"email" json:"email"`
	FirstName *string `db:"first_name" json:"firstName,omitempty"`
	LastName  string  `db:"last_name" json:"lastName"`
	Status    string  `db:"status" json:"status"`
	JoinedAt  string  `db:"joined_at" json:"joinedAt"`
}

// UserGroupRecord is one row of a user's group listing.
type UserGroupRecord struct {
	ID          string  `db:"id" json:"id"`
	Name        *string `db:"name" json:"name,omitempty"`
	DisplayName string  `db:"display_name" json:"displayName"`
	Description *string `db:"description" json:"description,omitempty"`
	JoinedAt    string  `db:"joined_at" json:"joinedAt"`
}

// MemberSnapshot loads every membership edge keyed by userID/groupID.
func (m *Mirror) MemberSnapshot(ctx context.Context) (map[string]directory.Member, error) {
	var rows []struct {
		GroupID string `db:"group_id"`
		UserID  string `db:"user_id"`
	}
	if err := m.db.SelectContext(ctx, &rows, "SELECT group_id, user_id FROM group_members"); err != nil {
		return nil, fmt.Errorf("load member snapshot: %w", err)
	}

	snapshot := make(map[string]directory.Member, len(rows))
	for _, r := range rows {
		edge := directory.Member{UserID: r.UserID, GroupID: r.GroupID}
		snapshot[edge.Key()] = edge
	}
	return snapshot, nil
}

// GroupMembers lists a group's members joined with their user rows,
// newest edge first.
func (m *Mirror) GroupMembers(ctx context.Context, groupID string) ([]GroupMemberRecord, error) {
	rows := []GroupMemberRecord{}
	err := m.db.SelectContext(ctx, &rows, m.rebind(`SELECT
		u.id, u.login_name, u.email, u.first_name, u.last_name, u.status,
		gm.created_at AS joined_at
		FROM group_members gm
		INNER JOIN users u ON gm.user_id = u.id
		WHERE gm.group_id = ?
		ORDER BY gm.created_at DESC`), groupID)
	if err != nil {
		return nil, fmt.Errorf("list members of group %s: %w", groupID, err)
	}
	return rows, nil
}

// UserGroups lists the groups a user belongs to, newest edge first.
func (m *Mirror) UserGroups(ctx context.Context, userID string) ([]UserGroupRecord, error) {
	rows := []UserGroupRecord{}
	err := m.db.SelectContext(ctx, &rows, m.rebind(`SELECT
		g.id, g.name, g.display_name, g.description,
		gm.created_at AS joined_at
		FROM group_members gm
		INNER JOIN user_groups g ON gm.group_id = g.id
		WHERE gm.user_id = ?
		ORDER BY gm.created_at DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list groups of user %s: %w", userID, err)
	}
	return rows, nil
}

// IsMember reports whether the edge exists.
func (m *Mirror) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var n int
	err := m.db.GetContext(ctx, &n,
		m.rebind("SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?"),
		groupID, userID)
	if err != nil {
		return false, fmt.Errorf("check membership %s/%s: %w", userID, groupID, err)
	}
	return n > 0, nil
}

// AddMember writes one edge inside a stage transaction. Adding an edge
// that already exists is a no-op; the bool reports whether a row was
// written.
func (t *Tx) AddMember(ctx context.Context, groupID, userID string) (bool, error) {
	return addMember(ctx, t.tx, groupID, userID)
}

// AddMember is the single-edge variant used by the HTTP API.
func (m *Mirror) AddMember(ctx context.Context, groupID, userID string) (bool, error) {
	return addMember(ctx, m.db, groupID, userID)
}

func addMember(ctx context.Context, q sqlx.ExtContext, groupID, userID string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n,
		q.Rebind("SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?"),
		groupID, userID)
	if err != nil {
		return false, fmt.Errorf("check membership %s/%s: %w", userID, groupID, err)
	}
	if n > 0 {
		return false, nil
	}

	_, err = q.ExecContext(ctx,
		q.Rebind("INSERT INTO group_members (group_id, user_id, created_at) VALUES (?, ?, ?)"),
		groupID, userID, nowUTC())
	if err != nil {
		return false, fmt.Errorf("add member %s/%s: %w", userID, groupID, err)
	}
	return true, nil
}

// RemoveMember deletes one edge. The bool reports whether a row was
// removed.
func (t *Tx) RemoveMember(ctx context.Context, groupID, userID string) (bool, error) {
	return removeMember(ctx, t.tx, groupID, userID)
}

// RemoveMember is the single-edge variant used by the HTTP API.
func (m *Mirror) RemoveMember(ctx context.Context, groupID, userID string) (bool, error) {
	return removeMember(ctx, m.db, groupID, userID)
}

func removeMember(ctx context.Context, q sqlx.ExtContext, groupID, userID string) (bool, error) {
	res, err := q.ExecContext(ctx,
		q.Rebind("DELETE FROM group_members WHERE group_id = ? AND user_id = ?"),
		groupID, userID)
	if err != nil {
		return false, fmt.Errorf("remove member %s/%s: %w", userID, groupID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove member %s/%s: %w", userID, groupID, err)
	}
	return affected > 0, nil
}

// RemoveUserEdges deletes every edge of a user, part of the user delete
// cascade.
func (t *Tx) RemoveUserEdges(ctx context.Context, userID string) error {
	return removeUserEdges(ctx, t.tx, userID)
}

func removeUserEdges(ctx context.Context, q sqlx.ExtContext, userID string) error {
	if _, err := q.ExecContext(ctx,
		q.Rebind("DELETE FROM group_members WHERE user_id = ?"), userID); err != nil {
		return fmt.Errorf("remove edges of user %s: %w", userID, err)
	}
	return nil
}

// RemoveGroupEdges deletes every edge of a group, part of the group
// delete cascade.
func (t *Tx) RemoveGroupEdges(ctx context.Context, groupID string) error {
	return removeGroupEdges(ctx, t.tx, groupID)
}

func removeGroupEdges(ctx context.Context, q sqlx.ExtContext, groupID string) error {
	if _, err := q.ExecContext(ctx,
		q.Rebind("DELETE FROM group_members WHERE group_id = ?"), groupID); err != nil {
		return fmt.Errorf("remove edges of group %s: %w", groupID, err)
	}
	return nil
}
