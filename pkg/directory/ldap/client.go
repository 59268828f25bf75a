package ldap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"codeberg.org/dirmirror/dirmirror/pkg/directory"
)

// Client is the read-only driver for plain LDAP deployments. Writes go
// through directory management tooling, not this mirror, so the driver
// implements directory.Reader only.
type Client struct {
	url          string
	bindDN       string
	bindPassword string
	userBaseDN   string
	groupBaseDN  string
	userFilter   string
	groupFilter  string
	timeout      time.Duration
	logger       *zap.Logger
}

func (c *Client) Name() string {
	return "ldap"
}

func (c *Client) Close() error {
	return nil
}

// Validate dials and binds once so a bad URL or credential fails at
// startup instead of on the first scheduled pass.
func (c *Client) Validate(ctx context.Context) error {
	conn, err := c.connect()
	if err != nil {
		return err
	}
	return conn.Close()
}

func (c *Client) Users(ctx context.Context) ([]directory.User, error) {
	entries, err := c.search(c.userBaseDN, c.userFilter, userAttributes)
	if err != nil {
		return nil, err
	}

	users := make([]directory.User, 0, len(entries))
	for _, entry := range entries {
		users = append(users, mapUser(entry))
	}

	c.logger.Debug("fetched users from directory", zap.Int("count", len(users)))
	return users, nil
}

func (c *Client) Groups(ctx context.Context) ([]directory.Group, error) {
	entries, err := c.search(c.groupBaseDN, c.groupFilter, groupAttributes)
	if err != nil {
		return nil, err
	}

	groups := make([]directory.Group, 0, len(entries))
	for _, entry := range entries {
		groups = append(groups, mapGroup(entry))
	}

	c.logger.Debug("fetched groups from directory", zap.Int("count", len(groups)))
	return groups, nil
}

// UserMemberships derives edges from each user's memberOf attribute.
// Group DNs reduce to their CN, which is also the group key this
// driver mirrors under.
func (c *Client) UserMemberships(ctx context.Context) ([]directory.Member, error) {
	entries, err := c.search(c.userBaseDN, c.userFilter, userAttributes)
	if err != nil {
		return nil, err
	}

	var edges []directory.Member
	for _, entry := range entries {
		userID := entry.GetAttributeValue(attrUID)
		if userID == "" {
			continue
		}
		for _, groupDN := range entry.GetAttributeValues(attrMemberOf) {
			if cn := extractCN(groupDN); cn != "" {
				edges = append(edges, directory.Member{UserID: userID, GroupID: cn})
			}
		}
	}

	c.logger.Debug("derived membership edges from users", zap.Int("count", len(edges)))
	return edges, nil
}

// GroupMemberships derives edges from each group's member attribute.
// Member values are user DNs; they resolve to user IDs through one
// extra user search.
func (c *Client) GroupMemberships(ctx context.Context) ([]directory.Member, error) {
	userEntries, err := c.search(c.userBaseDN, c.userFilter, []string{attrUID})
	if err != nil {
		return nil, err
	}

	uidByDN := make(map[string]string, len(userEntries))
	for _, entry := range userEntries {
		if uid := entry.GetAttributeValue(attrUID); uid != "" {
			uidByDN[entry.DN] = uid
		}
	}

	groupEntries, err := c.search(c.groupBaseDN, c.groupFilter, groupAttributes)
	if err != nil {
		return nil, err
	}

	var edges []directory.Member
	for _, entry := range groupEntries {
		groupID := entry.GetAttributeValue(attrCN)
		if groupID == "" {
			continue
		}
		for _, memberDN := range entry.GetAttributeValues(attrMember) {
			if uid, ok := uidByDN[memberDN]; ok {
				edges = append(edges, directory.Member{UserID: uid, GroupID: groupID})
			}
		}
	}

	c.logger.Debug("derived membership edges from groups", zap.Int("count", len(edges)))
	return edges, nil
}

// connect dials and binds a fresh connection per fetch. Scheduled
// passes can be hours apart, longer than most directory idle timeouts.
func (c *Client) connect() (*ldap.Conn, error) {
	conn, err := ldap.DialURL(c.url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", directory.ErrUnavailable, c.url, err)
	}
	conn.SetTimeout(c.timeout)

	if c.bindDN != "" {
		if err := conn.Bind(c.bindDN, c.bindPassword); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: bind %s: %v", directory.ErrUnavailable, c.bindDN, err)
		}
	}

	return conn, nil
}

func (c *Client) search(baseDN, filter string, attributes []string) ([]*ldap.Entry, error) {
	conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		attributes,
		nil,
	)

	sr, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", directory.ErrUnavailable, baseDN, err)
	}

	return sr.Entries, nil
}
