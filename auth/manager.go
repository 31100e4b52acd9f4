package auth

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
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Envato endpoints.
const (
	DefaultAuthURL  = "https://api.envato.com/authorization"
	DefaultTokenURL = "https://api.envato.com/token"
)

// ExpiryMargin is subtracted from the expiry instant when deciding whether an
// access token is still usable, covering clock skew and in-flight requests.
const ExpiryMargin = 5 * time.Minute

const (
	tokenRequestTimeout = 30 * time.Second
	maxTokenBodySize    = 1 << 20
)

// Config holds the client credentials and endpoints for the Manager.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// Optional. Defaults to DefaultAuthURL, DefaultTokenURL and DefaultTokenFile.
	AuthURL   string
	TokenURL  string
	TokenFile string
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for token endpoint requests.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = c
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger. Token values are never logged.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// Manager owns the token record: it exchanges authorization codes, persists
// the result, and refreshes the access token once it is within ExpiryMargin
// of expiring. Safe for concurrent use.
type Manager struct {
	cfg        Config
	oauthCfg   *oauth2.Config
	store      *FileStore
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger

	mu     sync.Mutex
	record *Record
}

// Compile-time check to ensure Manager implements oauth2.TokenSource
var _ oauth2.TokenSource = (*Manager)(nil)

// NewManager validates cfg and loads any previously stored tokens. A missing
// or unreadable token file means "not authenticated", not an error.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	var missing []string
	if strings.TrimSpace(cfg.ClientID) == "" {
		missing = append(missing, "ENVATO_CLIENT_ID")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		missing = append(missing, "ENVATO_CLIENT_SECRET")
	}
	if strings.TrimSpace(cfg.RedirectURI) == "" {
		missing = append(missing, "ENVATO_REDIRECT_URI")
	}
	if len(missing) > 0 {
		return nil, &ConfigurationError{Missing: missing}
	}

	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = DefaultTokenFile
	}

	store, err := NewFileStore(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	m := &Manager{
		cfg: cfg,
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		store:      store,
		httpClient: &http.Client{Timeout: tokenRequestTimeout},
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.Load()
	return m, nil
}

// TokenFile returns the path tokens are persisted to.
func (m *Manager) TokenFile() string {
	return m.store.Path()
}

// ClientID returns the configured client identifier.
func (m *Manager) ClientID() string {
	return m.cfg.ClientID
}

// RedirectURI returns the redirect URI registered with the provider.
func (m *Manager) RedirectURI() string {
	return m.cfg.RedirectURI
}

// Load replaces the in-memory record with the token file's content. Missing
// or corrupt files leave the manager unauthenticated.
func (m *Manager) Load() {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.Load()
	if err != nil {
		m.logger.Debug("no usable token file", "path", m.store.Path(), "error", err)
		m.record = nil
		return
	}
	m.record = rec
}

// Record returns a copy of the current token record, or nil.
func (m *Manager) Record() *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.Clone()
}

// AuthorizationURL builds the provider authorize URL for the browser.
func (m *Manager) AuthorizationURL() string {
	return m.oauthCfg.AuthCodeURL("")
}

// ExchangeCode trades an authorization code for tokens and persists them.
//
// The provider accepts the grant either form-encoded or as query parameters
// depending on the deployment, so the form body is tried first and the query
// string second. Both failing yields an *ExchangeError.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (*Record, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("authorization code cannot be empty")
	}

	params := url.Values{}
	params.Set("grant_type", "authorization_code")
	params.Set("code", code)
	params.Set("client_id", m.cfg.ClientID)
	params.Set("client_secret", m.cfg.ClientSecret)
	params.Set("redirect_uri", m.cfg.RedirectURI)

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, formErr := m.requestToken(ctx, params, encodeForm)
	if formErr != nil {
		m.logger.DebugContext(ctx, "form-encoded code exchange failed, trying query parameters",
			"error", formErr)

		var queryErr error
		rec, queryErr = m.requestToken(ctx, params, encodeQuery)
		if queryErr != nil {
			return nil, &ExchangeError{FormErr: formErr, QueryErr: queryErr}
		}
	}

	m.logger.InfoContext(ctx, "authorization code exchanged",
		"has_refresh_token", rec.RefreshToken != "",
		"expires_in", rec.ExpiresIn,
	)

	if err := m.storeLocked(rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Refresh mints a new access token with the stored refresh token. The
// previous refresh token is kept when the provider does not rotate it.
func (m *Manager) Refresh(ctx context.Context) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.refreshLocked(ctx)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (m *Manager) refreshLocked(ctx context.Context) (*Record, error) {
	if m.record == nil || m.record.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	previous := m.record.RefreshToken

	params := url.Values{}
	params.Set("grant_type", "refresh_token")
	params.Set("refresh_token", previous)
	params.Set("client_id", m.cfg.ClientID)
	params.Set("client_secret", m.cfg.ClientSecret)

	// The refresh grant is only accepted as query parameters.
	rec, err := m.requestToken(ctx, params, encodeQuery)
	if err != nil {
		return nil, &RefreshError{Err: err}
	}

	if rec.RefreshToken == "" {
		rec.RefreshToken = previous
	}

	m.logger.InfoContext(ctx, "access token refreshed",
		"rotated", rec.RefreshToken != previous,
		"expires_in", rec.ExpiresIn,
	)

	if err := m.storeLocked(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ValidToken returns a usable access token, refreshing it first when it is
// expired. Any refresh failure is reported as "not authenticated".
func (m *Manager) ValidToken(ctx context.Context) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.record == nil {
		return "", false
	}
	if !m.record.ExpiredAt(m.now(), ExpiryMargin) {
		return m.record.AccessToken, true
	}

	rec, err := m.refreshLocked(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "token refresh failed", "error", err)
		return "", false
	}
	return rec.AccessToken, true
}

// IsExpired reports whether there is no record, no expiry, or the expiry is
// within ExpiryMargin.
func (m *Manager) IsExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.ExpiredAt(m.now(), ExpiryMargin)
}

// IsAuthenticated reports whether a valid access token can be obtained.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	_, ok := m.ValidToken(ctx)
	return ok
}

// AuthHeaders returns the headers for an authorized marketplace API request.
func (m *Manager) AuthHeaders(ctx context.Context) (http.Header, error) {
	token, ok := m.ValidToken(ctx)
	if !ok {
		return nil, ErrNotAuthenticated
	}

	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	return h, nil
}

// Token implements oauth2.TokenSource so the manager can back an
// oauth2.Transport.
func (m *Manager) Token() (*oauth2.Token, error) {
	if _, ok := m.ValidToken(context.Background()); !ok {
		return nil, ErrNotAuthenticated
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		// revoked between the two critical sections
		return nil, ErrNotAuthenticated
	}
	return m.record.OAuth2Token(), nil
}

// Revoke forgets the tokens locally and deletes the token file. The provider
// offers no revocation endpoint, so issued tokens stay valid until they expire.
func (m *Manager) Revoke() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record = nil
	if err := m.store.Delete(); err != nil {
		return err
	}

	m.logger.Info("tokens revoked locally", "path", m.store.Path())
	return nil
}

// Info summarises the authentication state without exposing full secrets.
type Info struct {
	Authenticated   bool       `json:"authenticated"`
	TokenFile       string     `json:"token_file"`
	TokenPreview    string     `json:"token_preview,omitempty"`
	ClientID        string     `json:"client_id,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	HasRefreshToken bool       `json:"has_refresh_token"`
}

// Info reports the authentication state, refreshing the token if needed.
func (m *Manager) Info(ctx context.Context) Info {
	token, ok := m.ValidToken(ctx)

	info := Info{
		Authenticated: ok,
		TokenFile:     m.store.Path(),
		ClientID:      Preview(m.cfg.ClientID, 10),
	}
	if ok {
		info.TokenPreview = Preview(token, 20)
	}
	if rec := m.Record(); rec != nil {
		info.ExpiresAt = rec.ExpiresAt
		info.HasRefreshToken = rec.RefreshToken != ""
	}
	return info
}

// Preview shortens a secret to its first n characters followed by "...".
func Preview(s string, n int) string {
	if s == "" {
		return ""
	}
	if len(s) > n {
		s = s[:n]
	}
	return s + "..."
}

func (m *Manager) storeLocked(rec *Record) error {
	m.record = rec
	if err := m.store.Save(rec); err != nil {
		m.logger.Error("failed to persist tokens", "path", m.store.Path(), "error", err)
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

type requestEncoding int

const (
	encodeForm requestEncoding = iota
	encodeQuery
)

func (e requestEncoding) String() string {
	if e == encodeQuery {
		return "query"
	}
	return "form"
}

// ErrorResponse is the OAuth error body returned by the token endpoint.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// requestToken performs one POST to the token endpoint with the given
// parameter encoding and decodes the token response.
func (m *Manager) requestToken(
	ctx context.Context,
	params url.Values,
	enc requestEncoding,
) (*Record, error) {
	reqCtx, cancel := context.WithTimeout(ctx, tokenRequestTimeout)
	defer cancel()

	var (
		req *http.Request
		err error
	)
	switch enc {
	case encodeQuery:
		target, perr := url.Parse(m.cfg.TokenURL)
		if perr != nil {
			return nil, fmt.Errorf("invalid token URL: %w", perr)
		}
		q := target.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(reqCtx, http.MethodPost, target.String(), nil)
	default:
		req, err = http.NewRequestWithContext(
			reqCtx,
			http.MethodPost,
			m.cfg.TokenURL,
			strings.NewReader(params.Encode()),
		)
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s token request: %w", enc, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s token request failed: %w", enc, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		rerr := &oauth2.RetrieveError{
			Response: resp,
			Body:     body,
		}
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil {
			rerr.ErrorCode = errResp.Error
			rerr.ErrorDescription = errResp.ErrorDescription
		}
		return nil, rerr
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if err := validateTokenResponse(rec.AccessToken, rec.TokenType, rec.ExpiresIn); err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}

	// expiry is always derived locally from expires_in
	rec.ExpiresAt = nil
	if rec.ExpiresIn > 0 {
		expiresAt := m.now().Add(time.Duration(rec.ExpiresIn) * time.Second)
		rec.ExpiresAt = &expiresAt
	}

	return &rec, nil
}

// validateTokenResponse checks the fields every token response must carry.
func validateTokenResponse(accessToken, tokenType string, expiresIn int) error {
	if accessToken == "" {
		return errors.New("access_token is empty")
	}

	if expiresIn < 0 {
		return fmt.Errorf("expires_in must not be negative, got: %d", expiresIn)
	}

	// token_type is optional; Envato sends lowercase "bearer"
	if tokenType != "" && !strings.EqualFold(tokenType, "bearer") {
		return fmt.Errorf("unexpected token_type: %s (expected Bearer)", tokenType)
	}

	return nil
}
