// Package market is a small client for the Envato marketplace REST API,
// authorized with the tokens kept by package auth.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the v1 marketplace API root.
	DefaultBaseURL = "https://api.envato.com/v1"
	// DefaultSite is the marketplace used when none is given.
	DefaultSite = "themeforest"

	requestTimeout  = 30 * time.Second
	maxResponseSize = 10 << 20
)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTransport sets the transport underneath the authorizing transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.base = rt
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// Client issues authorized GET requests to the marketplace API. Requests are
// retried on transient failures.
type Client struct {
	baseURL string
	source  oauth2.TokenSource
	base    http.RoundTripper
	retry   *retry.Client
	logger  *slog.Logger
}

// New creates a Client that takes its bearer token from ts. Expired tokens
// are refreshed by ts before each request.
func New(ts oauth2.TokenSource, opts ...Option) (*Client, error) {
	if ts == nil {
		return nil, errors.New("token source is required")
	}

	c := &Client{
		baseURL: DefaultBaseURL,
		source:  ts,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	httpClient := &http.Client{
		Timeout: requestTimeout,
		Transport: &oauth2.Transport{
			Source: ts,
			Base:   c.base,
		},
	}

	rc, err := retry.NewClient(retry.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}
	c.retry = rc

	return c, nil
}

// Username returns the account's username.
func (c *Client) Username(ctx context.Context) (string, error) {
	var out struct {
		Username string `json:"username"`
	}
	if err := c.get(ctx, "market/private/user/username.json", nil, &out); err != nil {
		return "", err
	}
	return out.Username, nil
}

// Email returns the account's email address.
func (c *Client) Email(ctx context.Context) (string, error) {
	var out struct {
		Email string `json:"email"`
	}
	if err := c.get(ctx, "market/private/user/email.json", nil, &out); err != nil {
		return "", err
	}
	return out.Email, nil
}

// Account holds the private account details.
type Account struct {
	Image             string `json:"image"`
	Firstname         string `json:"firstname"`
	Surname           string `json:"surname"`
	AvailableEarnings string `json:"available_earnings"`
	TotalDeposits     string `json:"total_deposits"`
	Balance           string `json:"balance"`
	Country           string `json:"country"`
}

// Account returns the private account details.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	var out struct {
		Account Account `json:"account"`
	}
	if err := c.get(ctx, "market/private/user/account.json", nil, &out); err != nil {
		return nil, err
	}
	return &out.Account, nil
}

// Response is an undecoded JSON object returned by the API.
type Response map[string]any

// UserItemsBySite lists the user's items on one marketplace site.
func (c *Client) UserItemsBySite(ctx context.Context, site string) (Response, error) {
	return c.getResponse(ctx, "market/user-items-by-site:"+siteOrDefault(site)+".json", nil)
}

// Collections lists the user's collections.
func (c *Client) Collections(ctx context.Context) (Response, error) {
	return c.getResponse(ctx, "market/user-collections.json", nil)
}

// Item returns the catalog entry for one item.
func (c *Client) Item(ctx context.Context, id string) (Response, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("item id cannot be empty")
	}
	return c.getResponse(ctx, "market/catalog/item", url.Values{"id": {id}})
}

// Search finds items matching term on site, optionally within a category.
func (c *Client) Search(ctx context.Context, term, site, category string) (Response, error) {
	params := url.Values{
		"term": {term},
		"site": {siteOrDefault(site)},
	}
	if category != "" {
		params.Set("category", category)
	}
	return c.getResponse(ctx, "discovery/search/search/item", params)
}

// Popular lists the best-selling items on site.
func (c *Client) Popular(ctx context.Context, site string) (Response, error) {
	return c.getResponse(ctx, "discovery/search/search/item", url.Values{
		"site":    {siteOrDefault(site)},
		"sort_by": {"sales"},
	})
}

func (c *Client) getResponse(ctx context.Context, path string, params url.Values) (Response, error) {
	var out Response
	if err := c.get(ctx, path, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// get performs one authorized GET and decodes a 200 response into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	// Fail fast: a missing token is not worth retrying.
	if _, err := c.source.Token(); err != nil {
		return err
	}

	target, err := url.Parse(c.baseURL + "/" + strings.TrimPrefix(path, "/"))
	if err != nil {
		return fmt.Errorf("invalid request URL: %w", err)
	}
	if len(params) > 0 {
		target.RawQuery = params.Encode()
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.retry.DoWithContext(reqCtx, req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "marketplace request",
		"path", target.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return newAPIError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func siteOrDefault(site string) string {
	if site == "" {
		return DefaultSite
	}
	return site
}
