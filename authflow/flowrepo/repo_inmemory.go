package flowrepo

import (
	"errors"
	"sync"
	"time"
)

// DefaultTTL bounds how long a pending authorization stays valid. Entries
// older than the TTL are treated as unknown, which also rejects replay of
// old state tokens.
const DefaultTTL = 10 * time.Minute

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu      sync.RWMutex
	ttl     time.Duration
	pending map[string]*PendingAuth
}

// NewInMemoryRepo creates a new in-memory pending authorization repository
func NewInMemoryRepo(ttl time.Duration) *InMemoryRepo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryRepo{
		ttl:     ttl,
		pending: make(map[string]*PendingAuth),
	}
}

// Upsert stores or updates a pending authorization and sweeps expired entries
func (r *InMemoryRepo) Upsert(state string, pending *PendingAuth) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if pending == nil {
		return errors.New("pending cannot be nil")
	}

	createdAt := pending.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for s, p := range r.pending {
		if time.Since(p.CreatedAt) > r.ttl {
			delete(r.pending, s)
		}
	}

	// Create a copy to prevent external modifications
	r.pending[state] = &PendingAuth{
		CodeVerifier: pending.CodeVerifier,
		CreatedAt:    createdAt,
	}

	return nil
}

// Get retrieves a pending authorization by state token
func (r *InMemoryRepo) Get(state string) (*PendingAuth, error) {
	if state == "" {
		return nil, errors.New("state cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	pending, exists := r.pending[state]
	if !exists || time.Since(pending.CreatedAt) > r.ttl {
		return nil, ErrNotFound
	}

	// Return a copy to prevent external modifications
	return &PendingAuth{
		CodeVerifier: pending.CodeVerifier,
		CreatedAt:    pending.CreatedAt,
	}, nil
}

// Delete removes a pending authorization
func (r *InMemoryRepo) Delete(state string) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.pending, state)
	return nil
}
