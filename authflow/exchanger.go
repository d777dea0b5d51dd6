package authflow

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jrsteele09/go-login-proxy/authflow/flowrepo"
	"github.com/rs/zerolog"
)

// CodeExchanger is the OIDC collaborator: it swaps an authorization code and
// its PKCE verifier for a validated token set. The production implementation
// is OidcClient.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenSet, error)
}

// Exchanger resolves a captured redirect URL against the pending-state store
// and performs the authorization-code exchange.
type Exchanger struct {
	repo flowrepo.Repo
	oidc CodeExchanger
	log  zerolog.Logger
}

func NewExchanger(repo flowrepo.Repo, oidc CodeExchanger, logger zerolog.Logger) *Exchanger {
	return &Exchanger{repo: repo, oidc: oidc, log: logger}
}

// Exchange parses the redirect's callback parameters, correlates them with
// the pending authorization for their state token, and produces a token set
// or a typed failure.
func (e *Exchanger) Exchange(ctx context.Context, redirectURL string) (*TokenSet, error) {
	params, err := parseCallbackParams(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("[Exchanger Exchange] invalid redirect URL: %w", err)
	}

	state := params.Get("state")
	pending, err := e.repo.Get(state)
	if err != nil || pending == nil {
		return nil, fmt.Errorf("[Exchanger Exchange] state %q: %w", state, ErrUnknownState)
	}

	// Consume the entry so a replayed redirect cannot exchange twice
	if err := e.repo.Delete(state); err != nil {
		e.log.Warn().Str("state", state).Err(err).Msg("Failed to delete pending authorization")
	}

	if code := params.Get("code"); code != "" {
		e.log.Debug().Str("state", state).Msg("Exchanging authorization code")
		tokens, err := e.oidc.ExchangeCode(ctx, code, pending.CodeVerifier)
		if err != nil {
			return nil, fmt.Errorf("[Exchanger Exchange] code exchange failed: %w", err)
		}
		return tokens, nil
	}

	if errCode := params.Get("error"); errCode != "" {
		return nil, &AuthorizationError{
			Code:        errCode,
			Description: params.Get("error_description"),
		}
	}

	return nil, ErrUnrecognizedCallback
}

// parseCallbackParams extracts OAuth2 callback parameters from a redirect
// URL, accepting them in either query or fragment position.
func parseCallbackParams(redirectURL string) (url.Values, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, err
	}

	params := u.Query()
	if params.Get("state") == "" && u.Fragment != "" {
		if fragParams, err := url.ParseQuery(u.Fragment); err == nil {
			params = fragParams
		}
	}
	return params, nil
}
