package auth

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"golang.org/x/oauth2"
)

// legacyTimeLayout is the naive ISO-8601 layout written by older tooling
// (no zone, microsecond precision). Interpreted in local time.
const legacyTimeLayout = "2006-01-02T15:04:05.999999"

// Record is the persisted access/refresh token pair.
type Record struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	// ExpiresIn is the lifetime in seconds the provider reported at acquisition.
	ExpiresIn int
	// ExpiresAt is nil when the provider did not report a lifetime.
	ExpiresAt *time.Time
	// Extra holds every other provider response field, written back unchanged.
	Extra map[string]json.RawMessage
}

// knownFields are the keys owned by Record; everything else lands in Extra.
var knownFields = []string{"access_token", "refresh_token", "token_type", "expires_in", "expires_at"}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	c.Extra = maps.Clone(r.Extra)
	return &c
}

// ExpiredAt reports whether the record must be considered expired at now,
// given a safety margin subtracted from the expiry instant.
func (r *Record) ExpiredAt(now time.Time, margin time.Duration) bool {
	if r == nil || r.ExpiresAt == nil {
		return true
	}
	return !now.Before(r.ExpiresAt.Add(-margin))
}

// OAuth2Token converts the record into an oauth2.Token.
func (r *Record) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    "Bearer",
	}
	if r.ExpiresAt != nil {
		tok.Expiry = *r.ExpiresAt
	}
	return tok
}

// MarshalJSON writes the passthrough fields first and overlays the known ones.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+len(knownFields))
	for k, v := range r.Extra {
		out[k] = v
	}
	out["access_token"] = r.AccessToken
	if r.RefreshToken != "" {
		out["refresh_token"] = r.RefreshToken
	}
	if r.TokenType != "" {
		out["token_type"] = r.TokenType
	}
	if r.ExpiresIn != 0 {
		out["expires_in"] = r.ExpiresIn
	}
	if r.ExpiresAt != nil {
		out["expires_at"] = r.ExpiresAt.Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts both RFC 3339 and legacy naive timestamps for
// expires_at. An unparsable expiry is dropped, which makes the record expired.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var rec Record
	if v, ok := raw["access_token"]; ok {
		if err := json.Unmarshal(v, &rec.AccessToken); err != nil {
			return fmt.Errorf("access_token: %w", err)
		}
	}
	if v, ok := raw["refresh_token"]; ok {
		// null is accepted and means absent
		_ = json.Unmarshal(v, &rec.RefreshToken)
	}
	if v, ok := raw["token_type"]; ok {
		_ = json.Unmarshal(v, &rec.TokenType)
	}
	if v, ok := raw["expires_in"]; ok {
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			if i, err := n.Int64(); err == nil {
				rec.ExpiresIn = int(i)
			} else if f, err := n.Float64(); err == nil {
				rec.ExpiresIn = int(f)
			}
		}
	}
	if v, ok := raw["expires_at"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if t, ok := parseExpiry(s); ok {
				rec.ExpiresAt = &t
			}
		}
	}

	for _, k := range knownFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		rec.Extra = raw
	}

	*r = rec
	return nil
}

func parseExpiry(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(legacyTimeLayout, s, time.Local); err == nil {
		return t, true
	}
	return time.Time{}, false
}
