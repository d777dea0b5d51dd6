package authflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// OidcClient performs the authorization-code exchange against the vendor's
// OIDC provider and verifies the returned ID token.
type OidcClient struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	log      zerolog.Logger
}

// NewOidcClient discovers the provider at issuerURL and builds the OAuth2
// configuration for the vendor's mobile-app client. The redirect URL is the
// vendor's custom scheme callback, which is never reachable over the
// network; the proxy observes it instead.
func NewOidcClient(ctx context.Context, issuerURL, clientID, redirectURL string, logger zerolog.Logger) (*OidcClient, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("[NewOidcClient] failed to discover OIDC provider: %w", err)
	}

	oauthConfig := &oauth2.Config{
		ClientID:    clientID,
		Endpoint:    provider.Endpoint(),
		RedirectURL: redirectURL,
		Scopes:      []string{"email", oidc.ScopeOpenID, "profile"},
	}

	return &OidcClient{
		oauth:    oauthConfig,
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		log:      logger,
	}, nil
}

// OAuthConfig returns the OAuth2 configuration shared with the Generator.
func (c *OidcClient) OAuthConfig() *oauth2.Config {
	return c.oauth
}

// ExchangeCode swaps the authorization code for tokens using the stored
// PKCE verifier, then verifies the ID token signature, issuer and audience.
func (c *OidcClient) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenSet, error) {
	oauth2Token, err := c.oauth.Exchange(
		ctx,
		code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("[OidcClient ExchangeCode] token exchange failed: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("[OidcClient ExchangeCode] no ID token in response")
	}

	if c.log.GetLevel() <= zerolog.DebugLevel {
		if claims := unverifiedClaims(rawIDToken); claims != nil {
			c.log.Debug().Interface("claims", claims).Msg("ID token claims")
		}
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("[OidcClient ExchangeCode] ID token verification failed: %w", err)
	}

	var claims struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("[OidcClient ExchangeCode] failed to extract claims: %w", err)
	}

	return &TokenSet{
		AccessToken:  oauth2Token.AccessToken,
		RefreshToken: oauth2Token.RefreshToken,
		IDToken:      rawIDToken,
		Expiry:       oauth2Token.Expiry,
		Identity: Identity{
			Subject: claims.Sub,
			Email:   claims.Email,
			Name:    claims.Name,
		},
	}, nil
}

// unverifiedClaims decodes ID-token claims without signature validation,
// for debug tracing only.
func unverifiedClaims(rawToken string) jwt.MapClaims {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return nil
	}
	return claims
}
