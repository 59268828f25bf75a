package directory

import (
	"strings"
	"time"
)

const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// User is the canonical user record shared by every driver and the
// mirror. Optional fields are pointers; a nil pointer and an empty
// string are never mixed (OptString normalizes at the boundary).
// Date fields carry day granularity in YYYY-MM-DD form.
type User struct {
	ID        string
	LoginName string
	Email     string
	LastName  string
	FirstName *string
	UserType  string
	Status    string
	ValidFrom *string
	ValidTo   *string
	Company   *string
	Country   *string
	City      *string

	// DirectoryLastModified is directory metadata. It is stored for
	// observability but never participates in change detection.
	DirectoryLastModified *string `hash:"ignore"`
}

func (u User) Key() string {
	return u.ID
}

// Diff returns the names of identity fields whose values differ from
// old. DirectoryLastModified is not compared.
func (u User) Diff(old User) []string {
	var changed []string
	if u.LoginName != old.LoginName {
		changed = append(changed, "loginName")
	}
	if u.Email != old.Email {
		changed = append(changed, "email")
	}
	if u.LastName != old.LastName {
		changed = append(changed, "lastName")
	}
	if !equalOpt(u.FirstName, old.FirstName) {
		changed = append(changed, "firstName")
	}
	if u.UserType != old.UserType {
		changed = append(changed, "userType")
	}
	if u.Status != old.Status {
		changed = append(changed, "status")
	}
	if !equalOpt(u.ValidFrom, old.ValidFrom) {
		changed = append(changed, "validFrom")
	}
	if !equalOpt(u.ValidTo, old.ValidTo) {
		changed = append(changed, "validTo")
	}
	if !equalOpt(u.Company, old.Company) {
		changed = append(changed, "company")
	}
	if !equalOpt(u.Country, old.Country) {
		changed = append(changed, "country")
	}
	if !equalOpt(u.City, old.City) {
		changed = append(changed, "city")
	}
	return changed
}

// Group is the canonical group record. Name and Description come from
// directory extensions and may be absent.
type Group struct {
	ID          string
	Name        *string
	DisplayName string
	Description *string

	DirectoryLastModified *string `hash:"ignore"`
}

func (g Group) Key() string {
	return g.ID
}

func (g Group) Diff(old Group) []string {
	var changed []string
	if !equalOpt(g.Name, old.Name) {
		changed = append(changed, "name")
	}
	if g.DisplayName != old.DisplayName {
		changed = append(changed, "displayName")
	}
	if !equalOpt(g.Description, old.Description) {
		changed = append(changed, "description")
	}
	return changed
}

// Member is a membership edge. Edges have no mutable attributes, so
// they are only ever inserted or deleted.
type Member struct {
	UserID  string
	GroupID string
}

func (m Member) Key() string {
	return m.UserID + "/" + m.GroupID
}

func (m Member) Diff(Member) []string {
	return nil
}

// equalOpt compares optional fields. Two nils are equal; a nil and a
// value are not.
func equalOpt(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// OptString normalizes an optional value: blank input becomes nil, so
// optional fields look the same no matter which boundary produced them.
func OptString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// DateOnly truncates an ISO timestamp to YYYY-MM-DD. Unparseable input
// becomes nil rather than an error; directories ship malformed dates
// more often than absent ones.
func DateOnly(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		d := t.Format(time.DateOnly)
		return &d
	}
	if len(s) >= 10 {
		if t, err := time.Parse(time.DateOnly, s[:10]); err == nil {
			d := t.Format(time.DateOnly)
			return &d
		}
	}
	return nil
}
