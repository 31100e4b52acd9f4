package auth

import (
	"strings"
	"testing"
)

func TestValidateTokenResponse(t *testing.T) {
	tests := []struct {
		name        string
		accessToken string
		tokenType   string
		expiresIn   int
		wantErr     bool
		errContains string
	}{
		{
			name:        "valid token response",
			accessToken: "valid-access-token-123456",
			tokenType:   "bearer",
			expiresIn:   3600,
		},
		{
			name:        "capitalised token type",
			accessToken: "valid-access-token-123456",
			tokenType:   "Bearer",
			expiresIn:   3600,
		},
		{
			name:        "valid token with empty type (optional field)",
			accessToken: "valid-access-token-123456",
			expiresIn:   3600,
		},
		{
			name:        "no lifetime reported",
			accessToken: "valid-access-token-123456",
			tokenType:   "bearer",
			expiresIn:   0,
		},
		{
			name:        "empty access token",
			accessToken: "",
			tokenType:   "bearer",
			expiresIn:   3600,
			wantErr:     true,
			errContains: "access_token is empty",
		},
		{
			name:        "negative expires_in",
			accessToken: "valid-access-token-123456",
			tokenType:   "bearer",
			expiresIn:   -3600,
			wantErr:     true,
			errContains: "expires_in must not be negative",
		},
		{
			name:        "invalid token type",
			accessToken: "valid-access-token-123456",
			tokenType:   "Basic",
			expiresIn:   3600,
			wantErr:     true,
			errContains: "unexpected token_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTokenResponse(tt.accessToken, tt.tokenType, tt.expiresIn)

			if tt.wantErr {
				if err == nil {
					t.Errorf("validateTokenResponse() expected error but got nil")
					return
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf(
						"validateTokenResponse() error = %v, want error containing %q",
						err,
						tt.errContains,
					)
				}
			} else if err != nil {
				t.Errorf("validateTokenResponse() unexpected error = %v", err)
			}
		})
	}
}
