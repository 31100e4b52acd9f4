package market

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-200 response from the marketplace API.
type APIError struct {
	StatusCode int
	Message    string
	// Suggestion is a hint for the user, empty when there is none.
	Suggestion string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("envato API request failed: %s", e.Message)
}

func newAPIError(status int, body []byte) *APIError {
	switch status {
	case http.StatusUnauthorized:
		return &APIError{
			StatusCode: status,
			Message:    "Authentication failed",
			Suggestion: "Try re-authenticating: envato-oauth login",
		}
	case http.StatusForbidden:
		return &APIError{
			StatusCode: status,
			Message:    "Access forbidden",
			Suggestion: "Check API permissions and scopes",
		}
	case http.StatusTooManyRequests:
		return &APIError{
			StatusCode: status,
			Message:    "Rate limit exceeded",
			Suggestion: "Wait before making more requests",
		}
	}

	return &APIError{
		StatusCode: status,
		Message:    fmt.Sprintf("HTTP %d: %s", status, errorDetail(body)),
	}
}

// errorDetail extracts the "error" field of a JSON body, falling back to the
// first 200 bytes of the raw body.
func errorDetail(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg, ok := payload["error"]; ok {
			return fmt.Sprint(msg)
		}
		return strings.TrimSpace(string(body))
	}

	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	if detail == "" {
		return "Unknown error"
	}
	return detail
}
