package scim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"codeberg.org/dirmirror/dirmirror/pkg/config"
	"codeberg.org/dirmirror/dirmirror/pkg/directory"
)

func newTestClient(t *testing.T, handler http.Handler, pageSize int) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(&config.SCIMConfig{BaseURL: srv.URL, PageSize: pageSize}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func makeUsers(n int) []userResource {
	users := make([]userResource, n)
	for i := range users {
		users[i] = userResource{
			ID:       fmt.Sprintf("u%03d", i),
			UserName: fmt.Sprintf("user%03d", i),
		}
	}
	return users
}

func pagedHandler(t *testing.T, users []userResource, calls *int32) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)

		assert.Equal(t, acceptHeader, r.Header.Get("Accept"))

		start, err := strconv.Atoi(r.URL.Query().Get("startIndex"))
		require.NoError(t, err)
		count, err := strconv.Atoi(r.URL.Query().Get("count"))
		require.NoError(t, err)

		from := start - 1
		if from > len(users) {
			from = len(users)
		}
		to := from + count
		if to > len(users) {
			to = len(users)
		}

		resp := listResponse[userResource]{
			TotalResults: len(users),
			StartIndex:   start,
			ItemsPerPage: to - from,
			Resources:    users[from:to],
		}
		w.Header().Set("Content-Type", contentTypeSCIM)
		json.NewEncoder(w).Encode(resp)
	}
}

func TestUsers_PaginatesUntilShortPage(t *testing.T) {
	var calls int32
	c := newTestClient(t, pagedHandler(t, makeUsers(250), &calls), 100)

	users, err := c.Users(context.Background())
	require.NoError(t, err)

	assert.Len(t, users, 250)
	assert.Equal(t, "u000", users[0].ID)
	assert.Equal(t, "u249", users[249].ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestUsers_SinglePage(t *testing.T) {
	var calls int32
	c := newTestClient(t, pagedHandler(t, makeUsers(5), &calls), 100)

	users, err := c.Users(context.Background())
	require.NoError(t, err)

	assert.Len(t, users, 5)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUsers_EmptyDirectory(t *testing.T) {
	var calls int32
	c := newTestClient(t, pagedHandler(t, nil, &calls), 100)

	users, err := c.Users(context.Background())
	require.NoError(t, err)

	assert.Empty(t, users)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUsers_StopsAtTotalResults(t *testing.T) {
	// 200 users fill exactly two pages; totalResults must stop the
	// walk before a third request.
	var calls int32
	c := newTestClient(t, pagedHandler(t, makeUsers(200), &calls), 100)

	users, err := c.Users(context.Background())
	require.NoError(t, err)

	assert.Len(t, users, 200)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestUsers_ServerErrorIsUnavailable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusInternalServerError)
	}), 100)

	_, err := c.Users(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, directory.ErrUnavailable))
	assert.Contains(t, err.Error(), "500")
}

func TestUsers_MalformedBodyIsUnavailable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}), 100)

	_, err := c.Users(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, directory.ErrUnavailable))
}

func TestUserMemberships(t *testing.T) {
	users := []userResource{
		{ID: "u1", Groups: []resourceRef{{Value: "g1"}, {Value: "g2"}}},
		{ID: "u2", Groups: []resourceRef{{Value: "g1"}, {Value: ""}}},
		{ID: "u3"},
	}

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(listResponse[userResource]{
			TotalResults: len(users),
			Resources:    users,
		})
	}), 100)

	edges, err := c.UserMemberships(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []directory.Member{
		{UserID: "u1", GroupID: "g1"},
		{UserID: "u1", GroupID: "g2"},
		{UserID: "u2", GroupID: "g1"},
	}, edges)
}

func TestGroupMemberships(t *testing.T) {
	groups := []groupResource{
		{ID: "g1", DisplayName: "Devs", Members: []resourceRef{{Value: "u1"}, {Value: "u2"}}},
		{ID: "g2", DisplayName: "Ops"},
	}

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(listResponse[groupResource]{
			TotalResults: len(groups),
			Resources:    groups,
		})
	}), 100)

	edges, err := c.GroupMemberships(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []directory.Member{
		{UserID: "u1", GroupID: "g1"},
		{UserID: "u2", GroupID: "g1"},
	}, edges)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(&config.SCIMConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestClient_TokenFlow(t *testing.T) {
	var tokenCalls, apiCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client-id", user)
		assert.Equal(t, "client-secret", pass)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/Users", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(listResponse[userResource]{})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(&config.SCIMConfig{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/oauth/token",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Users(context.Background())
	require.NoError(t, err)
	_, err = c.Users(context.Background())
	require.NoError(t, err)

	// Two fetches share one cached token.
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&apiCalls))
}
