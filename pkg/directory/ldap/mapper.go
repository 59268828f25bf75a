package ldap

import (
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"codeberg.org/dirmirror/dirmirror/pkg/directory"
)

// Standard inetOrgPerson / groupOfNames attributes. Deployments with
// different schemas steer what gets found via the search filters.
const (
	attrUID             = "uid"
	attrCN              = "cn"
	attrMail            = "mail"
	attrSurname         = "sn"
	attrGivenName       = "givenName"
	attrEmployeeType    = "employeeType"
	attrOrganization    = "o"
	attrCountry         = "c"
	attrLocality        = "l"
	attrMemberOf        = "memberOf"
	attrMember          = "member"
	attrDisplayName     = "displayName"
	attrDescription     = "description"
	attrModifyTimestamp = "modifyTimestamp"
)

var userAttributes = []string{
	attrUID, attrCN, attrMail, attrSurname, attrGivenName,
	attrEmployeeType, attrOrganization, attrCountry, attrLocality,
	attrMemberOf, attrModifyTimestamp,
}

var groupAttributes = []string{
	attrCN, attrDisplayName, attrDescription, attrMember, attrModifyTimestamp,
}

func mapUser(entry *ldap.Entry) directory.User {
	u := directory.User{
		ID:        entry.GetAttributeValue(attrUID),
		LoginName: entry.GetAttributeValue(attrUID),
		Email:     entry.GetAttributeValue(attrMail),
		LastName:  entry.GetAttributeValue(attrSurname),
		FirstName: directory.OptString(entry.GetAttributeValue(attrGivenName)),
		UserType:  entry.GetAttributeValue(attrEmployeeType),
		Status:    directory.StatusActive,
		Company:   directory.OptString(entry.GetAttributeValue(attrOrganization)),
		Country:   directory.OptString(entry.GetAttributeValue(attrCountry)),
		City:      directory.OptString(entry.GetAttributeValue(attrLocality)),
	}

	if u.UserType == "" {
		u.UserType = "employee"
	}

	u.DirectoryLastModified = generalizedTime(entry.GetAttributeValue(attrModifyTimestamp))

	return u
}

func mapGroup(entry *ldap.Entry) directory.Group {
	cn := entry.GetAttributeValue(attrCN)

	g := directory.Group{
		ID:          cn,
		Name:        directory.OptString(cn),
		DisplayName: entry.GetAttributeValue(attrDisplayName),
		Description: directory.OptString(entry.GetAttributeValue(attrDescription)),
	}

	if g.DisplayName == "" {
		g.DisplayName = cn
	}

	g.DirectoryLastModified = generalizedTime(entry.GetAttributeValue(attrModifyTimestamp))

	return g
}

// generalizedTime converts LDAP generalized time (20240315103000Z) to
// RFC3339. Unparseable values become nil.
func generalizedTime(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse("20060102150405Z", s)
	if err != nil {
		return nil
	}
	v := t.UTC().Format(time.RFC3339)
	return &v
}

// extractCN returns the first CN component of a DN, or "" when the DN
// has none.
func extractCN(dn string) string {
	for _, part := range strings.Split(dn, ",") {
		trimmed := strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(trimmed), "cn=") {
			return trimmed[3:]
		}
	}
	return ""
}
