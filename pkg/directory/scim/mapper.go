package scim

import (
	"strings"

	"codeberg.org/dirmirror/dirmirror/pkg/directory"
)

const defaultUserType = "employee"

func mapUser(r userResource) directory.User {
	u := directory.User{
		ID:        r.ID,
		LoginName: strings.TrimSpace(r.UserName),
		Email:     firstEmail(r),
		UserType:  strings.TrimSpace(r.UserType),
		Status:    userStatus(r),
	}
	if u.UserType == "" {
		u.UserType = defaultUserType
	}

	if r.Name != nil {
		u.LastName = strings.TrimSpace(r.Name.FamilyName)
		u.FirstName = directory.OptString(r.Name.GivenName)
	}

	if r.SAP != nil {
		u.ValidFrom = directory.DateOnly(r.SAP.ValidFrom)
		u.ValidTo = directory.DateOnly(r.SAP.ValidTo)
	}

	if r.Enterprise != nil {
		u.Company = directory.OptString(r.Enterprise.Organization)
	}

	u.Country, u.City = pickAddress(r)

	if r.Meta != nil {
		u.DirectoryLastModified = directory.OptString(r.Meta.LastModified)
	}

	return u
}

func mapGroup(r groupResource) directory.Group {
	g := directory.Group{
		ID:          r.ID,
		DisplayName: strings.TrimSpace(r.DisplayName),
	}

	if r.Extension != nil {
		g.Name = directory.OptString(r.Extension.Name)
		g.Description = directory.OptString(r.Extension.Description)
	}

	if r.Meta != nil {
		g.DirectoryLastModified = directory.OptString(r.Meta.LastModified)
	}

	return g
}

// firstEmail returns the first non-blank email value, core attribute
// first, SAP extension as fallback.
func firstEmail(r userResource) string {
	for _, e := range r.Emails {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	if r.SAP != nil {
		for _, e := range r.SAP.Emails {
			if v := strings.TrimSpace(e.Value); v != "" {
				return v
			}
		}
	}
	return ""
}

// userStatus derives ACTIVE/INACTIVE. The core active flag wins when
// present; otherwise the SAP extension status decides; otherwise the
// user counts as active.
func userStatus(r userResource) string {
	if r.Active != nil {
		if *r.Active {
			return directory.StatusActive
		}
		return directory.StatusInactive
	}
	if r.SAP != nil && strings.EqualFold(strings.TrimSpace(r.SAP.Status), "inactive") {
		return directory.StatusInactive
	}
	return directory.StatusActive
}

// pickAddress selects home over work over first, core addresses before
// the SAP extension ones.
func pickAddress(r userResource) (country, city *string) {
	addr := chooseAddress(r.Addresses)
	if addr == nil && r.SAP != nil {
		addr = chooseAddress(r.SAP.Addresses)
	}
	if addr == nil {
		return nil, nil
	}
	return directory.OptString(addr.Country), directory.OptString(addr.Locality)
}

func chooseAddress(addrs []address) *address {
	if len(addrs) == 0 {
		return nil
	}
	for i := range addrs {
		if strings.EqualFold(addrs[i].Type, "home") {
			return &addrs[i]
		}
	}
	for i := range addrs {
		if strings.EqualFold(addrs[i].Type, "work") {
			return &addrs[i]
		}
	}
	return &addrs[0]
}
