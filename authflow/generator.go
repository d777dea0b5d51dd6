package authflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-login-proxy/authflow/flowrepo"
	"golang.org/x/oauth2"
)

// Generator builds PKCE authorization URLs and records the verifier/state
// bookkeeping needed to validate the eventual callback.
type Generator struct {
	oauth *oauth2.Config
	repo  flowrepo.Repo
}

func NewGenerator(oauthConfig *oauth2.Config, repo flowrepo.Repo) *Generator {
	return &Generator{oauth: oauthConfig, repo: repo}
}

// LoginURL generates a fresh code verifier and state token, stores the
// pairing, and returns the authorization URL carrying the S256 challenge.
func (g *Generator) LoginURL() (string, error) {
	verifier := oauth2.GenerateVerifier()
	state := uuid.New().String()

	pending := &flowrepo.PendingAuth{
		CodeVerifier: verifier,
		CreatedAt:    time.Now(),
	}
	if err := g.repo.Upsert(state, pending); err != nil {
		return "", fmt.Errorf("[Generator LoginURL] failed to store pending authorization: %w", err)
	}

	return g.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}
