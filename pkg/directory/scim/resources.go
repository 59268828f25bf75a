package scim

const (
	coreUserSchema    = "urn:ietf:params:scim:schemas:core:2.0:User"
	coreGroupSchema   = "urn:ietf:params:scim:schemas:core:2.0:Group"
	enterpriseSchema  = "urn:ietf:params:scim:schemas:extension:enterprise:2.0:User"
	sapUserSchema     = "urn:ietf:params:scim:schemas:extension:sap:2.0:User"
	customGroupSchema = "urn:sap:cloud:scim:schemas:extension:custom:2.0:Group"
	patchOpSchema     = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
)

const (
	acceptHeader    = "application/scim+json, application/json"
	contentTypeSCIM = "application/scim+json"
)

type listResponse[T any] struct {
	TotalResults int `json:"totalResults"`
	StartIndex   int `json:"startIndex"`
	ItemsPerPage int `json:"itemsPerPage"`
	Resources    []T `json:"Resources"`
}

type userResource struct {
	Schemas    []string       `json:"schemas,omitempty"`
	ID         string         `json:"id,omitempty"`
	UserName   string         `json:"userName,omitempty"`
	Name       *nameAttribute `json:"name,omitempty"`
	Emails     []multiValue   `json:"emails,omitempty"`
	Active     *bool          `json:"active,omitempty"`
	UserType   string         `json:"userType,omitempty"`
	Addresses  []address      `json:"addresses,omitempty"`
	Groups     []resourceRef  `json:"groups,omitempty"`
	Meta       *meta          `json:"meta,omitempty"`
	Enterprise *enterpriseExt `json:"urn:ietf:params:scim:schemas:extension:enterprise:2.0:User,omitempty"`
	SAP        *sapUserExt    `json:"urn:ietf:params:scim:schemas:extension:sap:2.0:User,omitempty"`
}

type groupResource struct {
	Schemas     []string      `json:"schemas,omitempty"`
	ID          string        `json:"id,omitempty"`
	DisplayName string        `json:"displayName,omitempty"`
	Members     []resourceRef `json:"members,omitempty"`
	Meta        *meta         `json:"meta,omitempty"`
	Extension   *groupExt     `json:"urn:sap:cloud:scim:schemas:extension:custom:2.0:Group,omitempty"`
}

type nameAttribute struct {
	FamilyName string `json:"familyName,omitempty"`
	GivenName  string `json:"givenName,omitempty"`
}

type multiValue struct {
	Value   string `json:"value,omitempty"`
	Type    string `json:"type,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

type address struct {
	Type     string `json:"type,omitempty"`
	Country  string `json:"country,omitempty"`
	Locality string `json:"locality,omitempty"`
}

type resourceRef struct {
	Value   string `json:"value,omitempty"`
	Display string `json:"display,omitempty"`
}

type meta struct {
	LastModified string `json:"lastModified,omitempty"`
}

type enterpriseExt struct {
	Organization string `json:"organization,omitempty"`
}

type sapUserExt struct {
	ValidFrom string       `json:"validFrom,omitempty"`
	ValidTo   string       `json:"validTo,omitempty"`
	Status    string       `json:"status,omitempty"`
	Emails    []multiValue `json:"emails,omitempty"`
	Addresses []address    `json:"addresses,omitempty"`
}

type groupExt struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

type patchRequest struct {
	Schemas    []string         `json:"schemas"`
	Operations []patchOperation `json:"Operations"`
}

type patchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}
