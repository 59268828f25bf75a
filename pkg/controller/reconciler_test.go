package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"codeberg.org/dirmirror/dirmirror/pkg/config"
	"codeberg.org/dirmirror/dirmirror/pkg/directory"
	"codeberg.org/dirmirror/dirmirror/pkg/mirror"
)

func newMirror(t *testing.T) *mirror.Mirror {
	t.Helper()

	cfg := &config.StorageConfig{
		Driver: "sqlite",
		DSN:    "file:" + filepath.Join(t.TempDir(), "mirror.db"),
	}
	m, err := mirror.Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	require.NoError(t, m.Setup(context.Background()))
	return m
}

func strPtr(s string) *string { return &s }

func validUser(id string) directory.User {
	return directory.User{
		ID:        id,
		LoginName: "login-" + id,
		Email:     id + "@example.com",
		LastName:  "Lastname",
		UserType:  "employee",
		Status:    directory.StatusActive,
	}
}

func validGroup(id string) directory.Group {
	return directory.Group{ID: id, DisplayName: "Display " + id}
}

func changeFor(t *testing.T, result StageResult, entityID string) ChangeRecord {
	t.Helper()
	for _, c := range result.Changes {
		if c.EntityID == entityID {
			return c
		}
	}
	t.Fatalf("no change record for %s", entityID)
	return ChangeRecord{}
}

func TestRunUsersInsertsIntoEmptyMirror(t *testing.T) {
	m := newMirror(t)
	dir := &fakeDirectory{users: []directory.User{validUser("u1")}}
	r := NewReconciler(dir, m, zap.NewNop())

	result := r.Run(context.Background(), StageUsers)

	require.True(t, result.Success)
	assert.Equal(t, RunStats{Fetched: 1, Inserted: 1}, result.Stats)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, "u1", result.Changes[0].EntityID)
	assert.Equal(t, ActionInserted, result.Changes[0].Action)
	assert.Empty(t, result.Changes[0].ChangedFields)
	assert.False(t, result.Changes[0].Timestamp.IsZero())

	// Completeness: the mirrored record equals the canonical one.
	snapshot, err := m.UserSnapshot(context.Background())
	require.NoError(t, err)
	require.Contains(t, snapshot, "u1")
	assert.Empty(t, snapshot["u1"].Diff(dir.users[0]))
}

func TestRunUsersIsIdempotent(t *testing.T) {
	m := newMirror(t)
	dir := &fakeDirectory{users: []directory.User{validUser("u1"), validUser("u2")}}
	r := NewReconciler(dir, m, zap.NewNop())

	first := r.Run(context.Background(), StageUsers)
	require.True(t, first.Success)
	assert.Equal(t, 2, first.Stats.Inserted)

	second := r.Run(context.Background(), StageUsers)
	require.True(t, second.Success)
	assert.Equal(t, 0, second.Stats.Inserted)
	assert.Equal(t, 0, second.Stats.Updated)
	assert.Equal(t, 0, second.Stats.Deleted)
	assert.Equal(t, 2, second.Stats.Unchanged)
	assert.Empty(t, second.Changes)
}

func TestRunUsersChangedFieldPrecision(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*directory.User)
		wantFields []string
	}{
		{
			name:       "status only",
			mutate:     func(u *directory.User) { u.Status = directory.StatusInactive },
			wantFields: []string{"status"},
		},
		{
			name:       "email only",
			mutate:     func(u *directory.User) { u.Email = "changed@example.com" },
			wantFields: []string{"email"},
		},
		{
			name: "several fields",
			mutate: func(u *directory.User) {
				u.Email = "changed@example.com"
				u.City = strPtr("Hamburg")
			},
			wantFields: []string{"email", "city"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMirror(t)
			dir := &fakeDirectory{users: []directory.User{validUser("u1")}}
			r := NewReconciler(dir, m, zap.NewNop())
			require.True(t, r.Run(context.Background(), StageUsers).Success)

			tt.mutate(&dir.users[0])
			result := r.Run(context.Background(), StageUsers)

			require.True(t, result.Success)
			assert.Equal(t, 1, result.Stats.Updated)
			change := changeFor(t, result, "u1")
			assert.Equal(t, ActionUpdated, change.Action)
			assert.ElementsMatch(t, tt.wantFields, change.ChangedFields)
		})
	}
}

func TestRunUsersLastModifiedAloneIsNoChange(t *testing.T) {
	m := newMirror(t)
	u := validUser("u1")
	u.DirectoryLastModified = strPtr("2024-01-01T00:00:00Z")
	dir := &fakeDirectory{users: []directory.User{u}}
	r := NewReconciler(dir, m, zap.NewNop())
	require.True(t, r.Run(context.Background(), StageUsers).Success)

	dir.users[0].DirectoryLastModified = strPtr("2024-06-01T00:00:00Z")
	result := r.Run(context.Background(), StageUsers)

	require.True(t, result.Success)
	assert.Equal(t, 1, result.Stats.Unchanged)
	assert.Equal(t, 0, result.Stats.Updated)
	assert.Empty(t, result.Changes)
}

func TestRunUsersSkipsInvalidRecords(t *testing.T) {
	m := newMirror(t)
	broken := validUser("u2")
	broken.LastName = ""
	dir := &fakeDirectory{users: []directory.User{validUser("u1"), broken}}
	r := NewReconciler(dir, m, zap.NewNop())

	result := r.Run(context.Background(), StageUsers)

	require.True(t, result.Success)
	assert.Equal(t, 2, result.Stats.Fetched)
	assert.Equal(t, 1, result.Stats.Skipped)
	assert.Equal(t, 1, result.Stats.Inserted)

	snapshot, err := m.UserSnapshot(context.Background())
	require.NoError(t, err)
	assert.Contains(t, snapshot, "u1")
	assert.NotContains(t, snapshot, "u2")
}

func TestRunUsersDeletesOrphansWithEdges(t *testing.T) {
	m := newMirror(t)
	ctx := context.Background()

	require.NoError(t, m.UpsertUser(ctx, validUser("u1")))
	require.NoError(t, m.UpsertGroup(ctx, validGroup("g1")))
	_, err := m.AddMember(ctx, "g1", "u1")
	require.NoError(t, err)

	dir := &fakeDirectory{} // directory returns no users at all
	r := NewReconciler(dir, m, zap.NewNop())
	result := r.Run(ctx, StageUsers)

	require.True(t, result.Success)
	assert.Equal(t, 1, result.Stats.Deleted)
	change := changeFor(t, result, "u1")
	assert.Equal(t, ActionDeleted, change.Action)

	snapshot, err := m.UserSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshot)

	edges, err := m.MemberSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestRunGroupsDeleteCascadesEdges(t *testing.T) {
	m := newMirror(t)
	ctx := context.Background()

	require.NoError(t, m.UpsertUser(ctx, validUser("u1")))
	require.NoError(t, m.UpsertGroup(ctx, validGroup("g1")))
	_, err := m.AddMember(ctx, "g1", "u1")
	require.NoError(t, err)

	dir := &fakeDirectory{users: []directory.User{validUser("u1")}}
	r := NewReconciler(dir, m, zap.NewNop())
	result := r.Run(ctx, StageGroups)

	require.True(t, result.Success)
	assert.Equal(t, 1, result.Stats.Deleted)
	change := changeFor(t, result, "g1")
	assert.Equal(t, ActionDeleted, change.Action)

	edges, err := m.MemberSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, edges)

	// Users are out of scope for the groups stage.
	users, err := m.UserSnapshot(ctx)
	require.NoError(t, err)
	assert.Contains(t, users, "u1")
}

func TestRunUsersFetchFailureAbortsStage(t *testing.T) {
	m := newMirror(t)
	ctx := context.Background()
	require.NoError(t, m.UpsertUser(ctx, validUser("u1")))

	dir := &fakeDirectory{
		usersErr: fmt.Errorf("%w: GET /Users: status 500", directory.ErrUnavailable),
	}
	r := NewReconciler(dir, m, zap.NewNop())
	result := r.Run(ctx, StageUsers)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "status 500")
	assert.Empty(t, result.Changes)
	assert.Equal(t, RunStats{}, result.Stats)

	// The mirror keeps its state; an unavailable directory never
	// triggers deletions.
	snapshot, err := m.UserSnapshot(ctx)
	require.NoError(t, err)
	assert.Contains(t, snapshot, "u1")
}

func TestRunMembershipStages(t *testing.T) {
	m := newMirror(t)
	ctx := context.Background()

	require.NoError(t, m.UpsertUser(ctx, validUser("u1")))
	require.NoError(t, m.UpsertGroup(ctx, validGroup("g1")))

	edge := directory.Member{UserID: "u1", GroupID: "g1"}
	dir := &fakeDirectory{
		byUser:  []directory.Member{edge},
		byGroup: []directory.Member{edge},
	}
	r := NewReconciler(dir, m, zap.NewNop())

	byUser := r.Run(ctx, StageMembershipsByUser)
	require.True(t, byUser.Success)
	assert.Equal(t, 1, byUser.Stats.Inserted)
	change := changeFor(t, byUser, "u1/g1")
	assert.Equal(t, ActionInserted, change.Action)

	// The by-group view sees the same edge as unchanged.
	byGroup := r.Run(ctx, StageMembershipsByGroup)
	require.True(t, byGroup.Success)
	assert.Equal(t, 0, byGroup.Stats.Inserted)
	assert.Equal(t, 1, byGroup.Stats.Unchanged)

	// Dropping the edge remotely removes it.
	dir.byUser = nil
	removal := r.Run(ctx, StageMembershipsByUser)
	require.True(t, removal.Success)
	assert.Equal(t, 1, removal.Stats.Deleted)
}

func TestRunUnknownStage(t *testing.T) {
	m := newMirror(t)
	r := NewReconciler(&fakeDirectory{}, m, zap.NewNop())

	result := r.Run(context.Background(), Stage("SYNC_NOPE"))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown stage")
}

func TestRunUsersDuplicateRemoteIDsLastWins(t *testing.T) {
	m := newMirror(t)
	older := validUser("u1")
	newer := validUser("u1")
	newer.Email = "newer@example.com"
	dir := &fakeDirectory{users: []directory.User{older, newer}}
	r := NewReconciler(dir, m, zap.NewNop())

	result := r.Run(context.Background(), StageUsers)
	require.True(t, result.Success)
	assert.Equal(t, 1, result.Stats.Inserted)

	row, err := m.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "newer@example.com", row.Email)
}

// fakeDirectory is a canned directory.Reader. Error fields override the
// corresponding fetch; blockUsers, when set, makes Users wait until the
// channel closes (startedUsers signals entry).
type fakeDirectory struct {
	users   []directory.User
	groups  []directory.Group
	byUser  []directory.Member
	byGroup []directory.Member

	usersErr   error
	groupsErr  error
	byUserErr  error
	byGroupErr error

	blockUsers   chan struct{}
	startedUsers chan struct{}
}

func (f *fakeDirectory) Name() string { return "fake" }

func (f *fakeDirectory) Users(ctx context.Context) ([]directory.User, error) {
	if f.startedUsers != nil {
		close(f.startedUsers)
		f.startedUsers = nil
	}
	if f.blockUsers != nil {
		select {
		case <-f.blockUsers:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	out := make([]directory.User, len(f.users))
	copy(out, f.users)
	return out, nil
}

func (f *fakeDirectory) Groups(context.Context) ([]directory.Group, error) {
	if f.groupsErr != nil {
		return nil, f.groupsErr
	}
	out := make([]directory.Group, len(f.groups))
	copy(out, f.groups)
	return out, nil
}

func (f *fakeDirectory) UserMemberships(context.Context) ([]directory.Member, error) {
	if f.byUserErr != nil {
		return nil, f.byUserErr
	}
	out := make([]directory.Member, len(f.byUser))
	copy(out, f.byUser)
	return out, nil
}

func (f *fakeDirectory) GroupMemberships(context.Context) ([]directory.Member, error) {
	if f.byGroupErr != nil {
		return nil, f.byGroupErr
	}
	out := make([]directory.Member, len(f.byGroup))
	copy(out, f.byGroup)
	return out, nil
}

func (f *fakeDirectory) Close() error { return nil }
