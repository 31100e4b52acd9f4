package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type recordedRequest struct {
	Path          string
	Query         url.Values
	Authorization string
}

func newAPIServer(t *testing.T, status int, body string) (*httptest.Server, func() []recordedRequest) {
	t.Helper()

	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqs = append(reqs, recordedRequest{
			Path:          r.URL.Path,
			Query:         r.URL.Query(),
			Authorization: r.Header.Get("Authorization"),
		})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	c, err := New(
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-123", TokenType: "Bearer"}),
		WithBaseURL(baseURL+"/v1/"),
	)
	require.NoError(t, err)
	return c
}

func TestClient_Username(t *testing.T) {
	srv, requests := newAPIServer(t, http.StatusOK, `{"username":"jane"}`)
	c := newTestClient(t, srv.URL)

	name, err := c.Username(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jane", name)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/v1/market/private/user/username.json", reqs[0].Path)
	assert.Equal(t, "Bearer tok-123", reqs[0].Authorization)
}

func TestClient_Account(t *testing.T) {
	srv, _ := newAPIServer(t, http.StatusOK, `{"account":{"firstname":"Jane","surname":"Doe","balance":"12.50","country":"AU"}}`)
	c := newTestClient(t, srv.URL)

	acct, err := c.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Jane", acct.Firstname)
	assert.Equal(t, "12.50", acct.Balance)
	assert.Equal(t, "AU", acct.Country)
}

func TestClient_Endpoints(t *testing.T) {
	tests := []struct {
		name      string
		call      func(c *Client) (Response, error)
		wantPath  string
		wantQuery url.Values
	}{
		{
			name:     "items default site",
			call:     func(c *Client) (Response, error) { return c.UserItemsBySite(context.Background(), "") },
			wantPath: "/v1/market/user-items-by-site:themeforest.json",
		},
		{
			name:     "items codecanyon",
			call:     func(c *Client) (Response, error) { return c.UserItemsBySite(context.Background(), "codecanyon") },
			wantPath: "/v1/market/user-items-by-site:codecanyon.json",
		},
		{
			name:     "collections",
			call:     func(c *Client) (Response, error) { return c.Collections(context.Background()) },
			wantPath: "/v1/market/user-collections.json",
		},
		{
			name:      "item",
			call:      func(c *Client) (Response, error) { return c.Item(context.Background(), "12345") },
			wantPath:  "/v1/market/catalog/item",
			wantQuery: url.Values{"id": {"12345"}},
		},
		{
			name: "search",
			call: func(c *Client) (Response, error) {
				return c.Search(context.Background(), "wordpress", "", "")
			},
			wantPath:  "/v1/discovery/search/search/item",
			wantQuery: url.Values{"term": {"wordpress"}, "site": {"themeforest"}},
		},
		{
			name: "search with category",
			call: func(c *Client) (Response, error) {
				return c.Search(context.Background(), "blog", "themeforest", "wordpress")
			},
			wantPath: "/v1/discovery/search/search/item",
			wantQuery: url.Values{
				"term":     {"blog"},
				"site":     {"themeforest"},
				"category": {"wordpress"},
			},
		},
		{
			name:      "popular",
			call:      func(c *Client) (Response, error) { return c.Popular(context.Background(), "audiojungle") },
			wantPath:  "/v1/discovery/search/search/item",
			wantQuery: url.Values{"site": {"audiojungle"}, "sort_by": {"sales"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, requests := newAPIServer(t, http.StatusOK, `{"matches":[{"id":1}]}`)
			c := newTestClient(t, srv.URL)

			resp, err := tt.call(c)
			require.NoError(t, err)
			assert.Contains(t, resp, "matches")

			reqs := requests()
			require.Len(t, reqs, 1)
			assert.Equal(t, tt.wantPath, reqs[0].Path)
			if tt.wantQuery == nil {
				assert.Empty(t, reqs[0].Query)
			} else {
				assert.Equal(t, tt.wantQuery, reqs[0].Query)
			}
		})
	}
}

func TestClient_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		body           string
		wantMessage    string
		wantSuggestion bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{}`, "Authentication failed", true},
		{"forbidden", http.StatusForbidden, `{}`, "Access forbidden", true},
		{"not found json", http.StatusNotFound, `{"error":"Item not found"}`, "HTTP 404: Item not found", false},
		{"not found text", http.StatusNotFound, `nope`, "HTTP 404: nope", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newAPIServer(t, tt.status, tt.body)
			c := newTestClient(t, srv.URL)

			_, err := c.Collections(context.Background())
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
			assert.Equal(t, tt.wantSuggestion, apiErr.Suggestion != "")
		})
	}
}

func TestNewAPIError_RateLimited(t *testing.T) {
	err := newAPIError(http.StatusTooManyRequests, nil)
	assert.Equal(t, "Rate limit exceeded", err.Message)
	assert.Equal(t, "Wait before making more requests", err.Suggestion)
}

func TestErrorDetail_Truncates(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, errorDetail(long), 200)
	assert.Equal(t, "Unknown error", errorDetail(nil))
}

type failingSource struct{ err error }

func (f failingSource) Token() (*oauth2.Token, error) { return nil, f.err }

func TestClient_NoToken(t *testing.T) {
	srv, requests := newAPIServer(t, http.StatusOK, `{}`)
	errNoToken := errors.New("not authenticated")

	c, err := New(failingSource{err: errNoToken}, WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Username(context.Background())
	assert.ErrorIs(t, err, errNoToken)
	assert.Empty(t, requests(), "no request without a token")
}

func TestClient_ItemRequiresID(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0")
	_, err := c.Item(context.Background(), " ")
	assert.Error(t, err)
}

func TestNew_RequiresSource(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
