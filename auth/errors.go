package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

var (
	// ErrNoRefreshToken is returned by Refresh when no refresh token is stored.
	ErrNoRefreshToken = errors.New("no refresh token available, re-authorization required")

	// ErrNotAuthenticated is returned when a valid access token cannot be obtained.
	ErrNotAuthenticated = errors.New("no valid access token, authentication required")
)

// ConfigurationError reports required settings that are missing or invalid.
type ConfigurationError struct {
	Missing []string
	Err     error
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required settings: "+strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return "invalid configuration"
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ExchangeError is returned when the authorization code could not be exchanged
// with either request encoding.
type ExchangeError struct {
	FormErr  error
	QueryErr error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf(
		"failed to exchange code for tokens (both methods tried): form: %v; query: %v",
		e.FormErr,
		e.QueryErr,
	)
}

func (e *ExchangeError) Unwrap() []error {
	return []error{e.FormErr, e.QueryErr}
}

// RefreshError is returned when the refresh grant fails.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("failed to refresh access token: %v", e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// Revoked reports whether the provider rejected the refresh token itself,
// meaning only a new interactive login can recover.
func (e *RefreshError) Revoked() bool {
	var rerr *oauth2.RetrieveError
	if !errors.As(e.Err, &rerr) {
		return false
	}
	return rerr.ErrorCode == "invalid_grant" || rerr.ErrorCode == "invalid_token"
}
