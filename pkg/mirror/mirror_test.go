package mirror

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"codeberg.org/dirmirror/dirmirror/pkg/config"
	"codeberg.org/dirmirror/dirmirror/pkg/directory"
)

func newTestMirror(t *testing.T) *Mirror {
	t.Helper()

	cfg := &config.StorageConfig{
		Driver: "sqlite",
		DSN:    "file:" + filepath.Join(t.TempDir(), "mirror.db"),
	}

	m, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	require.NoError(t, m.Setup(context.Background()))
	return m
}

func strPtr(s string) *string { return &s }

func testUser(id string) directory.User {
	return directory.User{
		ID:        id,
		LoginName: "login-" + id,
		Email:     id + "@example.com",
		LastName:  "Lastname",
		FirstName: strPtr("First"),
		UserType:  "employee",
		Status:    directory.StatusActive,
		ValidFrom: strPtr("2024-01-15"),
		Country:   strPtr("DE"),
		City:      strPtr("Berlin"),
	}
}

func testGroup(id string) directory.Group {
	return directory.Group{
		ID:          id,
		Name:        strPtr("name-" + id),
		DisplayName: "Display " + id,
		Description: strPtr("desc"),
	}
}

func mustUpsertUser(t *testing.T, m *Mirror, u directory.User) {
	t.Helper()
	require.NoError(t, m.UpsertUser(context.Background(), u))
}

func mustUpsertGroup(t *testing.T, m *Mirror, g directory.Group) {
	t.Helper()
	require.NoError(t, m.UpsertGroup(context.Background(), g))
}

// setCreatedAt pins bookkeeping timestamps so ordering assertions do
// not depend on the wall clock.
func setCreatedAt(t *testing.T, m *Mirror, table, id, ts string) {
	t.Helper()
	_, err := m.db.Exec(m.rebind("UPDATE "+table+" SET created_at = ? WHERE id = ?"), ts, id)
	require.NoError(t, err)
}

func TestSetupIsIdempotent(t *testing.T) {
	m := newTestMirror(t)
	require.NoError(t, m.Setup(context.Background()))
}

func TestUpsertUserInsertsThenUpdates(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()

	u := testUser("u1")
	mustUpsertUser(t, m, u)

	row, err := m.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "login-u1", row.LoginName)
	assert.Equal(t, "u1@example.com", row.Email)
	require.NotNil(t, row.ValidFrom)
	assert.Equal(t, "2024-01-15", *row.ValidFrom)
	created := row.CreatedAt

	u.Email = "changed@example.com"
	mustUpsertUser(t, m, u)

	row, err = m.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "changed@example.com", row.Email)
	assert.Equal(t, created, row.CreatedAt)

	var n int
	require.NoError(t, m.db.Get(&n, "SELECT COUNT(*) FROM users"))
	assert.Equal(t, 1, n)
}

func TestGetUserNotFound(t *testing.T) {
	m := newTestMirror(t)

	_, err := m.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserSnapshotRoundTrip(t *testing.T) {
	m := newTestMirror(t)

	u := testUser("u1")
	u.ValidTo = strPtr("2030-12-31")
	u.DirectoryLastModified = strPtr("2024-06-01T10:00:00Z")
	mustUpsertUser(t, m, u)
	mustUpsertUser(t, m, testUser("u2"))

	snapshot, err := m.UserSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot, 2)

	got := snapshot["u1"]
	assert.Equal(t, u, got)
	assert.Empty(t, got.Diff(u))
}

func TestTxRollbackDiscardsWrites(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertUser(ctx, testUser("u1")))
	require.NoError(t, tx.Rollback())

	_, err = m.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListUsersFilters(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()

	alice := testUser("u1")
	alice.LoginName = "alice"
	alice.Email = "alice@example.com"
	alice.Country = strPtr("DE")
	mustUpsertUser(t, m, alice)

	bob := testUser("u2")
	bob.LoginName = "bob"
	bob.Email = "bob@example.com"
	bob.Status = directory.StatusInactive
	bob.UserType = "contractor"
	bob.Country = strPtr("US")
	mustUpsertUser(t, m, bob)

	tests := []struct {
		name    string
		filter  UserFilter
		wantIDs []string
	}{
		{
			name:    "no filter returns all",
			filter:  UserFilter{StartIndex: 1, Count: 100},
			wantIDs: []string{"u1", "u2"},
		},
		{
			name:    "exact email case-insensitive",
			filter:  UserFilter{StartIndex: 1, Count: 100, Email: "ALICE@example.com"},
			wantIDs: []string{"u1"},
		},
		{
			name:    "status filter",
			filter:  UserFilter{StartIndex: 1, Count: 100, Status: "inactive"},
			wantIDs: []string{"u2"},
		},
		{
			name:    "userType filter",
			filter:  UserFilter{StartIndex: 1, Count: 100, UserType: "CONTRACTOR"},
			wantIDs: []string{"u2"},
		},
		{
			name:    "country filter",
			filter:  UserFilter{StartIndex: 1, Count: 100, Country: "de"},
			wantIDs: []string{"u1"},
		},
		{
			name:    "search matches login name",
			filter:  UserFilter{StartIndex: 1, Count: 100, Search: "ALI"},
			wantIDs: []string{"u1"},
		},
		{
			name:    "search without match",
			filter:  UserFilter{StartIndex: 1, Count: 100, Search: "zzz"},
			wantIDs: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, total, err := m.ListUsers(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, len(tt.wantIDs), total)

			ids := make([]string, 0, len(rows))
			for _, r := range rows {
				ids = append(ids, r.ID)
			}
			assert.ElementsMatch(t, tt.wantIDs, ids)
		})
	}
}

func TestListUsersPagination(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()

	mustUpsertUser(t, m, testUser("u1"))
	mustUpsertUser(t, m, testUser("u2"))
	mustUpsertUser(t, m, testUser("u3"))
	setCreatedAt(t, m, "users", "u1", "2024-01-01T00:00:00Z")
	setCreatedAt(t, m, "users", "u2", "2024-01-02T00:00:00Z")
	setCreatedAt(t, m, "users", "u3", "2024-01-03T00:00:00Z")

	rows, total, err := m.ListUsers(ctx, UserFilter{StartIndex: 1, Count: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, rows, 2)
	// Newest first.
	assert.Equal(t, "u3", rows[0].ID)
	assert.Equal(t, "u2", rows[1].ID)

	rows, _, err = m.ListUsers(ctx, UserFilter{StartIndex: 3, Count: 2})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "u1", rows[0].ID)

	// Count below 1 is clamped up, not rejected.
	rows, _, err = m.ListUsers(ctx, UserFilter{StartIndex: 1, Count: 0})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestGroupUpsertAndLookup(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()

	g := testGroup("g1")
	mustUpsertGroup(t, m, g)

	row, err := m.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "Display g1", row.DisplayName)

	byName, err := m.GetGroupByName(ctx, "name-g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", byName.ID)

	_, err = m.GetGroupByName(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	g.DisplayName = "Renamed"
	mustUpsertGroup(t, m, g)

	snapshot, err := m.GroupSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "Renamed", snapshot["g1"].DisplayName)
}

func TestListGroupsSearch(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()

	engineering := testGroup("g1")
	engineering.DisplayName = "Engineering Team"
	mustUpsertGroup(t, m, engineering)

	sales := testGroup("g2")
	sales.DisplayName = "Sales"
	sales.Description = strPtr("Quota chasers")
	mustUpsertGroup(t, m, sales)

	rows, total, err := m.ListGroups(ctx, 1, 100, "engineering")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "g1", rows[0].ID)

	rows, total, err = m.ListGroups(ctx, 1, 100, "quota")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "g2", rows[0].ID)

	_, total, err = m.ListGroups(ctx, 1, 100, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestMembershipEdges(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()

	mustUpsertUser(t, m, testUser("u1"))
	mustUpsertGroup(t, m, testGroup("g1"))

	added, err := m.AddMember(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.True(t, added)

	// Second add is a no-op.
	added, err = m.AddMember(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.False(t, added)

	ok, err := m.IsMember(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	snapshot, err := m.MemberSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	edge, ok := snapshot["u1/g1"]
	require.True(t, ok)
	assert.Equal(t, directory.Member{UserID: "u1", GroupID: "g1"}, edge)

	members, err := m.GroupMembers(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "u1", members[0].ID)
	assert.Equal(t, "login-u1", members[0].LoginName)
	assert.NotEmpty(t, members[0].JoinedAt)

	groups, err := m.UserGroups(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "g1", groups[0].ID)
	assert.Equal(t, "Display g1", groups[0].DisplayName)

	removed, err := m.RemoveMember(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = m.RemoveMember(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDeleteUserCascadesEdges(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()

	mustUpsertUser(t, m, testUser("u1"))
	mustUpsertGroup(t, m, testGroup("g1"))
	_, err := m.AddMember(ctx, "g1", "u1")
	require.NoError(t, err)

	require.NoError(t, m.DeleteUser(ctx, "u1"))

	_, err = m.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := m.IsMember(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteGroupCascadesEdges(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()

	mustUpsertUser(t, m, testUser("u1"))
	mustUpsertGroup(t, m, testGroup("g1"))
	_, err := m.AddMember(ctx, "g1", "u1")
	require.NoError(t, err)

	require.NoError(t, m.DeleteGroup(ctx, "g1"))

	_, err = m.GetGroup(ctx, "g1")
	assert.ErrorIs(t, err, ErrNotFound)

	snapshot, err := m.MemberSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshot)

	// The user itself is untouched.
	_, err = m.GetUser(ctx, "u1")
	require.NoError(t, err)
}
