package directory

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRecord marks a record that fails required-field validation.
// Invalid records are excluded from reconciliation and counted as
// skipped, never partially written.
var ErrInvalidRecord = errors.New("invalid record")

// ValidateUser checks the fields every mirrored user must carry. A
// blank login name falls back to the email address before the check.
func ValidateUser(u *User) error {
	if strings.TrimSpace(u.LoginName) == "" {
		u.LoginName = u.Email
	}

	var missing []string
	if strings.TrimSpace(u.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(u.LoginName) == "" {
		missing = append(missing, "loginName")
	}
	if strings.TrimSpace(u.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(u.LastName) == "" {
		missing = append(missing, "lastName")
	}
	if strings.TrimSpace(u.UserType) == "" {
		missing = append(missing, "userType")
	}
	if strings.TrimSpace(u.Status) == "" {
		missing = append(missing, "status")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: user %q missing %s", ErrInvalidRecord, u.ID, strings.Join(missing, ", "))
	}
	return nil
}

func ValidateGroup(g *Group) error {
	var missing []string
	if strings.TrimSpace(g.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(g.DisplayName) == "" {
		missing = append(missing, "displayName")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: group %q missing %s", ErrInvalidRecord, g.ID, strings.Join(missing, ", "))
	}
	return nil
}

func ValidateMember(m *Member) error {
	if strings.TrimSpace(m.UserID) == "" || strings.TrimSpace(m.GroupID) == "" {
		return fmt.Errorf("%w: membership %q/%q missing ids", ErrInvalidRecord, m.UserID, m.GroupID)
	}
	return nil
}
