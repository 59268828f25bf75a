package scim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/dirmirror/dirmirror/pkg/directory"
)

func boolPtr(b bool) *bool {
	return &b
}

func TestMapUser_CoreAttributes(t *testing.T) {
	u := mapUser(userResource{
		ID:       "u1",
		UserName: "jdoe",
		Name:     &nameAttribute{FamilyName: "Doe", GivenName: "John"},
		Emails:   []multiValue{{Value: "jdoe@example.com", Primary: true}},
		Active:   boolPtr(true),
		UserType: "contractor",
		Meta:     &meta{LastModified: "2024-03-15T10:30:00Z"},
	})

	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "jdoe", u.LoginName)
	assert.Equal(t, "jdoe@example.com", u.Email)
	assert.Equal(t, "Doe", u.LastName)
	require.NotNil(t, u.FirstName)
	assert.Equal(t, "John", *u.FirstName)
	assert.Equal(t, "contractor", u.UserType)
	assert.Equal(t, directory.StatusActive, u.Status)
	require.NotNil(t, u.DirectoryLastModified)
	assert.Equal(t, "2024-03-15T10:30:00Z", *u.DirectoryLastModified)
}

func TestMapUser_UserTypeDefaults(t *testing.T) {
	u := mapUser(userResource{ID: "u1", UserName: "jdoe"})
	assert.Equal(t, "employee", u.UserType)
}

func TestMapUser_StatusPrecedence(t *testing.T) {
	tests := []struct {
		name string
		r    userResource
		want string
	}{
		{
			name: "core active true",
			r:    userResource{Active: boolPtr(true), SAP: &sapUserExt{Status: "inactive"}},
			want: directory.StatusActive,
		},
		{
			name: "core active false",
			r:    userResource{Active: boolPtr(false)},
			want: directory.StatusInactive,
		},
		{
			name: "extension inactive when core absent",
			r:    userResource{SAP: &sapUserExt{Status: "Inactive"}},
			want: directory.StatusInactive,
		},
		{
			name: "extension other value",
			r:    userResource{SAP: &sapUserExt{Status: "provisioned"}},
			want: directory.StatusActive,
		},
		{
			name: "nothing set",
			r:    userResource{},
			want: directory.StatusActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapUser(tt.r).Status)
		})
	}
}

func TestMapUser_EmailFallbackToExtension(t *testing.T) {
	u := mapUser(userResource{
		ID:     "u1",
		Emails: []multiValue{{Value: "  "}},
		SAP: &sapUserExt{
			Emails: []multiValue{{Value: "ext@example.com"}},
		},
	})

	assert.Equal(t, "ext@example.com", u.Email)
}

func TestMapUser_AddressSelection(t *testing.T) {
	tests := []struct {
		name        string
		r           userResource
		wantCountry string
		wantCity    string
	}{
		{
			name: "home wins over work",
			r: userResource{Addresses: []address{
				{Type: "work", Country: "DE", Locality: "Berlin"},
				{Type: "home", Country: "FR", Locality: "Paris"},
			}},
			wantCountry: "FR",
			wantCity:    "Paris",
		},
		{
			name: "work when no home",
			r: userResource{Addresses: []address{
				{Type: "other", Country: "US", Locality: "Austin"},
				{Type: "work", Country: "DE", Locality: "Berlin"},
			}},
			wantCountry: "DE",
			wantCity:    "Berlin",
		},
		{
			name: "first when neither",
			r: userResource{Addresses: []address{
				{Type: "other", Country: "US", Locality: "Austin"},
			}},
			wantCountry: "US",
			wantCity:    "Austin",
		},
		{
			name: "extension addresses when core empty",
			r: userResource{SAP: &sapUserExt{Addresses: []address{
				{Type: "home", Country: "JP", Locality: "Tokyo"},
			}}},
			wantCountry: "JP",
			wantCity:    "Tokyo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := mapUser(tt.r)
			require.NotNil(t, u.Country)
			require.NotNil(t, u.City)
			assert.Equal(t, tt.wantCountry, *u.Country)
			assert.Equal(t, tt.wantCity, *u.City)
		})
	}
}

func TestMapUser_NoAddresses(t *testing.T) {
	u := mapUser(userResource{ID: "u1"})
	assert.Nil(t, u.Country)
	assert.Nil(t, u.City)
}

func TestMapUser_ValidityDatesTruncated(t *testing.T) {
	u := mapUser(userResource{
		ID: "u1",
		SAP: &sapUserExt{
			ValidFrom: "2023-05-01T00:00:00Z",
			ValidTo:   "2025-12-31T23:59:59Z",
		},
	})

	require.NotNil(t, u.ValidFrom)
	assert.Equal(t, "2023-05-01", *u.ValidFrom)
	require.NotNil(t, u.ValidTo)
	assert.Equal(t, "2025-12-31", *u.ValidTo)
}

func TestMapUser_CompanyFromEnterpriseExtension(t *testing.T) {
	u := mapUser(userResource{
		ID:         "u1",
		Enterprise: &enterpriseExt{Organization: "ACME Corp"},
	})

	require.NotNil(t, u.Company)
	assert.Equal(t, "ACME Corp", *u.Company)
}

func TestMapGroup(t *testing.T) {
	g := mapGroup(groupResource{
		ID:          "g1",
		DisplayName: "Developers",
		Extension:   &groupExt{Name: "developers", Description: "all devs"},
		Meta:        &meta{LastModified: "2024-01-01T00:00:00Z"},
	})

	assert.Equal(t, "g1", g.ID)
	assert.Equal(t, "Developers", g.DisplayName)
	require.NotNil(t, g.Name)
	assert.Equal(t, "developers", *g.Name)
	require.NotNil(t, g.Description)
	assert.Equal(t, "all devs", *g.Description)
	require.NotNil(t, g.DirectoryLastModified)
}

func TestMapGroup_NoExtension(t *testing.T) {
	g := mapGroup(groupResource{ID: "g1", DisplayName: "Developers"})

	assert.Nil(t, g.Name)
	assert.Nil(t, g.Description)
	assert.Nil(t, g.DirectoryLastModified)
}
