package authflow

import "time"

// Identity holds the ID-token claims extracted after a successful exchange.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// TokenSet is the result of a successful authorization-code exchange.
// The caller owns it; nothing in this package persists it.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
	Identity     Identity
}
