package authflow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownState is returned when a captured redirect carries a state
	// token with no matching pending authorization (stale, replayed or forged).
	ErrUnknownState = errors.New("unknown login state")

	// ErrUnrecognizedCallback is returned when a captured redirect carries
	// neither a code nor an error parameter.
	ErrUnrecognizedCallback = errors.New("login callback carried neither code nor error")
)

// AuthorizationError carries an explicit OAuth2 error returned by the
// provider on the callback redirect.
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("authorization failed: %s", e.Code)
	}
	return fmt.Sprintf("authorization failed: %s - %s", e.Code, e.Description)
}
