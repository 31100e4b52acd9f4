package callback

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned by Await when no callback arrived in time.
var ErrTimeout = errors.New("timed out waiting for authorization callback")

// AuthorizationError is returned by Await when the callback carried no code:
// the provider reported an error or the request had neither parameter.
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("authorization failed: %s", e.Code)
	}
	return fmt.Sprintf("authorization failed: %s: %s", e.Code, e.Description)
}
