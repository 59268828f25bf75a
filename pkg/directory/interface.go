package directory

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable wraps transport and protocol failures talking to
	// the remote directory. A fetch that returns it aborts the current
	// stage for that entity type.
	ErrUnavailable = errors.New("directory unavailable")

	// ErrNotFound is returned by write operations against a resource
	// the directory does not know.
	ErrNotFound = errors.New("not found in directory")

	// ErrReadOnly is returned when a write is requested from a driver
	// that only reads.
	ErrReadOnly = errors.New("directory is read-only")
)

// Reader fetches complete directory state. Every method returns the
// full canonical set for its entity type; there is no incremental
// variant.
type Reader interface {
	Name() string

	Users(ctx context.Context) ([]User, error)
	Groups(ctx context.Context) ([]Group, error)

	// UserMemberships derives edges from the user side, one per group
	// the user belongs to.
	UserMemberships(ctx context.Context) ([]Member, error)

	// GroupMemberships derives edges from the group side, one per
	// member listed on the group.
	GroupMemberships(ctx context.Context) ([]Member, error)

	Close() error
}

// Writer is the optional write surface. API-issued edits go to the
// directory first and are mirrored locally only on success. Patch
// changes are keyed by canonical field name.
type Writer interface {
	CreateUser(ctx context.Context, u User) (*User, error)
	PatchUser(ctx context.Context, id string, changes map[string]string) error
	DeleteUser(ctx context.Context, id string) error

	CreateGroup(ctx context.Context, g Group) (*Group, error)
	PatchGroup(ctx context.Context, id string, changes map[string]string) error
	DeleteGroup(ctx context.Context, id string) error

	AddMembers(ctx context.Context, groupID string, userIDs []string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
}
