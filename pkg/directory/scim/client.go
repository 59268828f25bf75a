package scim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"codeberg.org/dirmirror/dirmirror/pkg/directory"
)

const defaultPageSize = 100

// Client talks SCIM 2.0 to the remote directory. It implements both
// directory.Reader and directory.Writer.
type Client struct {
	baseURL  string
	http     *http.Client
	pageSize int
	logger   *zap.Logger
}

func (c *Client) Name() string {
	return "scim"
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) Users(ctx context.Context) ([]directory.User, error) {
	resources, err := fetchAll[userResource](ctx, c, "/Users")
	if err != nil {
		return nil, err
	}

	users := make([]directory.User, 0, len(resources))
	for _, r := range resources {
		users = append(users, mapUser(r))
	}

	c.logger.Debug("fetched users from directory", zap.Int("count", len(users)))
	return users, nil
}

func (c *Client) Groups(ctx context.Context) ([]directory.Group, error) {
	resources, err := fetchAll[groupResource](ctx, c, "/Groups")
	if err != nil {
		return nil, err
	}

	groups := make([]directory.Group, 0, len(resources))
	for _, r := range resources {
		groups = append(groups, mapGroup(r))
	}

	c.logger.Debug("fetched groups from directory", zap.Int("count", len(groups)))
	return groups, nil
}

// UserMemberships walks the users collection and emits one edge per
// entry of each user's groups attribute.
func (c *Client) UserMemberships(ctx context.Context) ([]directory.Member, error) {
	resources, err := fetchAll[userResource](ctx, c, "/Users")
	if err != nil {
		return nil, err
	}

	var edges []directory.Member
	for _, r := range resources {
		for _, ref := range r.Groups {
			if ref.Value == "" {
				continue
			}
			edges = append(edges, directory.Member{UserID: r.ID, GroupID: ref.Value})
		}
	}

	c.logger.Debug("derived membership edges from users", zap.Int("count", len(edges)))
	return edges, nil
}

// GroupMemberships walks the groups collection and emits one edge per
// entry of each group's members attribute.
func (c *Client) GroupMemberships(ctx context.Context) ([]directory.Member, error) {
	resources, err := fetchAll[groupResource](ctx, c, "/Groups")
	if err != nil {
		return nil, err
	}

	var edges []directory.Member
	for _, r := range resources {
		for _, ref := range r.Members {
			if ref.Value == "" {
				continue
			}
			edges = append(edges, directory.Member{UserID: ref.Value, GroupID: r.ID})
		}
	}

	c.logger.Debug("derived membership edges from groups", zap.Int("count", len(edges)))
	return edges, nil
}

// fetchAll pages through a SCIM collection: 1-based startIndex,
// advancing by the returned page length, stopping on an empty or short
// page or once the next index passes the server's totalResults.
func fetchAll[T any](ctx context.Context, c *Client, resource string) ([]T, error) {
	var out []T
	startIndex := 1

	for {
		q := url.Values{}
		q.Set("startIndex", strconv.Itoa(startIndex))
		q.Set("count", strconv.Itoa(c.pageSize))

		var page listResponse[T]
		if err := c.do(ctx, http.MethodGet, resource+"?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}

		out = append(out, page.Resources...)

		n := len(page.Resources)
		if n == 0 || n < c.pageSize {
			break
		}
		startIndex += n
		if page.TotalResults > 0 && startIndex > page.TotalResults {
			break
		}
	}

	return out, nil
}

// do executes one SCIM request. Transport failures and non-2xx
// responses come back wrapped in directory.ErrUnavailable, except 404
// which maps to directory.ErrNotFound.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", acceptHeader)
	if in != nil {
		req.Header.Set("Content-Type", contentTypeSCIM)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", directory.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", directory.ErrNotFound, method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s %s returned %d: %s",
			directory.ErrUnavailable, method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode %s %s: %v", directory.ErrUnavailable, method, path, err)
		}
	}

	return nil
}
