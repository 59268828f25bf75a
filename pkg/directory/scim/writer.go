package scim

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"codeberg.org/dirmirror/dirmirror/pkg/directory"
)

func (c *Client) CreateUser(ctx context.Context, u directory.User) (*directory.User, error) {
	var created userResource
	if err := c.do(ctx, http.MethodPost, "/Users", buildUserResource(u), &created); err != nil {
		return nil, err
	}

	mapped := mapUser(created)
	return &mapped, nil
}

func (c *Client) PatchUser(ctx context.Context, id string, changes map[string]string) error {
	ops := make([]patchOperation, 0, len(changes))
	for _, field := range sortedKeys(changes) {
		op, err := userPatchOperation(field, changes[field])
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return nil
	}

	return c.do(ctx, http.MethodPatch, "/Users/"+id, patchRequest{
		Schemas:    []string{patchOpSchema},
		Operations: ops,
	}, nil)
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/Users/"+id, nil, nil)
}

func (c *Client) CreateGroup(ctx context.Context, g directory.Group) (*directory.Group, error) {
	var created groupResource
	if err := c.do(ctx, http.MethodPost, "/Groups", buildGroupResource(g), &created); err != nil {
		return nil, err
	}

	mapped := mapGroup(created)
	return &mapped, nil
}

func (c *Client) PatchGroup(ctx context.Context, id string, changes map[string]string) error {
	ops := make([]patchOperation, 0, len(changes))
	for _, field := range sortedKeys(changes) {
		op, err := groupPatchOperation(field, changes[field])
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return nil
	}

	return c.do(ctx, http.MethodPatch, "/Groups/"+id, patchRequest{
		Schemas:    []string{patchOpSchema},
		Operations: ops,
	}, nil)
}

func (c *Client) DeleteGroup(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/Groups/"+id, nil, nil)
}

func (c *Client) AddMembers(ctx context.Context, groupID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}

	refs := make([]resourceRef, 0, len(userIDs))
	for _, id := range userIDs {
		refs = append(refs, resourceRef{Value: id})
	}

	return c.do(ctx, http.MethodPatch, "/Groups/"+groupID, patchRequest{
		Schemas: []string{patchOpSchema},
		Operations: []patchOperation{
			{Op: "add", Path: "members", Value: refs},
		},
	}, nil)
}

func (c *Client) RemoveMember(ctx context.Context, groupID, userID string) error {
	return c.do(ctx, http.MethodPatch, "/Groups/"+groupID, patchRequest{
		Schemas: []string{patchOpSchema},
		Operations: []patchOperation{
			{Op: "remove", Path: fmt.Sprintf("members[value eq %q]", userID)},
		},
	}, nil)
}

func buildUserResource(u directory.User) userResource {
	r := userResource{
		Schemas:  []string{coreUserSchema},
		UserName: u.LoginName,
		Name: &nameAttribute{
			FamilyName: u.LastName,
		},
		UserType: u.UserType,
	}

	if u.Email != "" {
		r.Emails = []multiValue{{Value: u.Email, Primary: true}}
	}
	if u.FirstName != nil {
		r.Name.GivenName = *u.FirstName
	}

	active := u.Status == directory.StatusActive
	r.Active = &active

	if u.Country != nil || u.City != nil {
		addr := address{Type: "work"}
		if u.Country != nil {
			addr.Country = *u.Country
		}
		if u.City != nil {
			addr.Locality = *u.City
		}
		r.Addresses = []address{addr}
	}

	if u.Company != nil {
		r.Enterprise = &enterpriseExt{Organization: *u.Company}
		r.Schemas = append(r.Schemas, enterpriseSchema)
	}

	if u.ValidFrom != nil || u.ValidTo != nil {
		ext := &sapUserExt{}
		if u.ValidFrom != nil {
			ext.ValidFrom = *u.ValidFrom
		}
		if u.ValidTo != nil {
			ext.ValidTo = *u.ValidTo
		}
		r.SAP = ext
		r.Schemas = append(r.Schemas, sapUserSchema)
	}

	return r
}

func buildGroupResource(g directory.Group) groupResource {
	r := groupResource{
		Schemas:     []string{coreGroupSchema},
		DisplayName: g.DisplayName,
	}

	if g.Name != nil || g.Description != nil {
		ext := &groupExt{}
		if g.Name != nil {
			ext.Name = *g.Name
		}
		if g.Description != nil {
			ext.Description = *g.Description
		}
		r.Extension = ext
		r.Schemas = append(r.Schemas, customGroupSchema)
	}

	return r
}

func userPatchOperation(field, value string) (patchOperation, error) {
	op := patchOperation{Op: "replace", Value: value}

	switch field {
	case "loginName":
		op.Path = "userName"
	case "lastName":
		op.Path = "name.familyName"
	case "firstName":
		op.Path = "name.givenName"
	case "email":
		op.Path = "emails[primary eq true].value"
	case "status":
		op.Path = "active"
		op.Value = value == directory.StatusActive
	case "userType":
		op.Path = "userType"
	case "company":
		op.Path = enterpriseSchema + ":organization"
	case "country":
		op.Path = `addresses[type eq "work"].country`
	case "city":
		op.Path = `addresses[type eq "work"].locality`
	case "validFrom":
		op.Path = sapUserSchema + ":validFrom"
	case "validTo":
		op.Path = sapUserSchema + ":validTo"
	default:
		return patchOperation{}, fmt.Errorf("unsupported user patch field %q", field)
	}

	return op, nil
}

func groupPatchOperation(field, value string) (patchOperation, error) {
	op := patchOperation{Op: "replace", Value: value}

	switch field {
	case "displayName":
		op.Path = "displayName"
	case "name":
		op.Path = customGroupSchema + ":name"
	case "description":
		op.Path = customGroupSchema + ":description"
	default:
		return patchOperation{}, fmt.Errorf("unsupported group patch field %q", field)
	}

	return op, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
