package flowrepo

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no pending authorization matches a state token.
var ErrNotFound = errors.New("pending authorization not found")

// PendingAuth holds the PKCE bookkeeping for one generated login URL,
// keyed by its opaque state token.
type PendingAuth struct {
	CodeVerifier string
	CreatedAt    time.Time
}

type Repo interface {
	Upsert(state string, pending *PendingAuth) error
	Get(state string) (*PendingAuth, error)
	Delete(state string) error
}
