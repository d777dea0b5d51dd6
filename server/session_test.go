package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jrsteele09/go-login-proxy/authflow"
	"github.com/jrsteele09/go-login-proxy/authflow/flowrepo"
	"github.com/jrsteele09/go-login-proxy/internal/config"
	"github.com/jrsteele09/go-login-proxy/rendezvous"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// testConfig binds ephemeral ports and keeps CA material in a temp dir.
type testConfig struct {
	config.Config
	dataDir    string
	authDomain string
}

func (c testConfig) GetListenBind() string { return "127.0.0.1" }
func (c testConfig) GetProxyPort() string  { return "0" }
func (c testConfig) GetWebPort() string    { return "0" }
func (c testConfig) GetDataDir() string    { return c.dataDir }
func (c testConfig) GetAuthDomain() string {
	if c.authDomain != "" {
		return c.authDomain
	}
	return c.Config.GetAuthDomain()
}

func newTestConfig(t *testing.T) testConfig {
	t.Helper()
	return testConfig{Config: config.New(), dataDir: t.TempDir()}
}

type fakeCodeExchanger struct {
	tokens *authflow.TokenSet
	err    error
	block  chan struct{} // when set, ExchangeCode stalls until closed
}

func (f *fakeCodeExchanger) ExchangeCode(ctx context.Context, _, _ string) (*authflow.TokenSet, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.tokens, f.err
}

func testOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID: "mobile-app",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://auth.vendorcloud.com/authorize",
			TokenURL: "https://auth.vendorcloud.com/token",
		},
		RedirectURL: "vendorapp://login",
	}
}

type loginResult struct {
	tokens *authflow.TokenSet
	err    error
}

func awaitLogin(s *Session) chan loginResult {
	ch := make(chan loginResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tokens, err := s.WaitForLoginResult(ctx)
		ch <- loginResult{tokens: tokens, err: err}
	}()
	return ch
}

func TestSession_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("start twice fails", func(t *testing.T) {
		s := NewWithExchanger(newTestConfig(t), zerolog.Nop(), testOAuthConfig(), &fakeCodeExchanger{})
		require.NoError(t, s.Start(ctx))
		defer s.Stop()

		require.ErrorIs(t, s.Start(ctx), ErrAlreadyRunning)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		s := NewWithExchanger(newTestConfig(t), zerolog.Nop(), testOAuthConfig(), &fakeCodeExchanger{})
		require.NoError(t, s.Stop())

		require.NoError(t, s.Start(ctx))
		require.NoError(t, s.Stop())
		require.NoError(t, s.Stop())
	})

	t.Run("stop settles an outstanding wait and restart succeeds", func(t *testing.T) {
		s := NewWithExchanger(newTestConfig(t), zerolog.Nop(), testOAuthConfig(), &fakeCodeExchanger{})
		require.NoError(t, s.Start(ctx))

		result := awaitLogin(s)
		require.Eventually(t, func() bool { return s.waits.Active() != nil }, time.Second, 10*time.Millisecond)

		require.NoError(t, s.Stop())
		require.ErrorIs(t, (<-result).err, rendezvous.ErrStopped)

		require.NoError(t, s.Start(ctx))
		require.NoError(t, s.Stop())
	})

	t.Run("generates a login URL on start", func(t *testing.T) {
		s := NewWithExchanger(newTestConfig(t), zerolog.Nop(), testOAuthConfig(), &fakeCodeExchanger{})
		require.NoError(t, s.Start(ctx))
		defer s.Stop()

		u, err := url.Parse(s.LoginURL())
		require.NoError(t, err)
		require.Equal(t, "auth.vendorcloud.com", u.Host)
		require.NotEmpty(t, u.Query().Get("state"))
		require.Equal(t, "S256", u.Query().Get("code_challenge_method"))
	})
}

func TestSession_ResponseCompleted(t *testing.T) {
	ctx := context.Background()

	start := func(t *testing.T, fake *fakeCodeExchanger) (*Session, *authflow.Exchanger) {
		t.Helper()
		s := NewWithExchanger(newTestConfig(t), zerolog.Nop(), testOAuthConfig(), fake)
		require.NoError(t, s.Start(ctx))
		t.Cleanup(func() { _ = s.Stop() })
		return s, authflow.NewExchanger(s.repo, fake, zerolog.Nop())
	}

	beginWait := func(t *testing.T, s *Session) chan loginResult {
		t.Helper()
		result := awaitLogin(s)
		require.Eventually(t, func() bool { return s.waits.Active() != nil }, time.Second, 10*time.Millisecond)
		return result
	}

	redirect := func(location string) *http.Response {
		resp := &http.Response{Header: http.Header{}}
		resp.Header.Set("Location", location)
		return resp
	}

	t.Run("terminal redirect resolves the wait", func(t *testing.T) {
		fake := &fakeCodeExchanger{tokens: &authflow.TokenSet{
			AccessToken: "access-token",
			Identity:    authflow.Identity{Email: "user@example.com"},
		}}
		s, ex := start(t, fake)
		require.NoError(t, s.repo.Upsert("state-1", &flowrepo.PendingAuth{CodeVerifier: "v"}))

		result := beginWait(t, s)
		req := httptest.NewRequest(http.MethodGet, "https://auth.vendorcloud.com/login/final", nil)
		s.responseCompleted(ex, req, redirect("vendorapp://login?code=auth-code&state=state-1"))

		got := <-result
		require.NoError(t, got.err)
		require.Equal(t, "access-token", got.tokens.AccessToken)
	})

	t.Run("provider error rejects the wait", func(t *testing.T) {
		s, ex := start(t, &fakeCodeExchanger{})
		require.NoError(t, s.repo.Upsert("state-1", &flowrepo.PendingAuth{CodeVerifier: "v"}))

		result := beginWait(t, s)
		req := httptest.NewRequest(http.MethodGet, "https://auth.vendorcloud.com/login/final", nil)
		s.responseCompleted(ex, req, redirect("vendorapp://login?error=access_denied&error_description=user+cancelled&state=state-1"))

		got := <-result
		var authErr *authflow.AuthorizationError
		require.ErrorAs(t, got.err, &authErr)
		require.Equal(t, "access_denied", authErr.Code)
		require.Equal(t, "user cancelled", authErr.Description)
	})

	t.Run("unknown state rejects the wait", func(t *testing.T) {
		s, ex := start(t, &fakeCodeExchanger{})

		result := beginWait(t, s)
		req := httptest.NewRequest(http.MethodGet, "https://auth.vendorcloud.com/login/final", nil)
		s.responseCompleted(ex, req, redirect("vendorapp://login?code=abc&state=forged"))

		require.ErrorIs(t, (<-result).err, authflow.ErrUnknownState)
	})

	t.Run("non-terminal locations are ignored", func(t *testing.T) {
		s, ex := start(t, &fakeCodeExchanger{tokens: &authflow.TokenSet{}})
		require.NoError(t, s.repo.Upsert("state-1", &flowrepo.PendingAuth{CodeVerifier: "v"}))

		result := beginWait(t, s)
		req := httptest.NewRequest(http.MethodGet, "https://auth.vendorcloud.com/login/next", nil)
		s.responseCompleted(ex, req, redirect("https://auth.vendorcloud.com/login/step2"))

		select {
		case got := <-result:
			t.Fatalf("wait settled unexpectedly: %+v", got)
		case <-time.After(100 * time.Millisecond):
		}

		s.responseCompleted(ex, req, redirect("vendorapp://login?code=abc&state=state-1"))
		require.NoError(t, (<-result).err)
	})

	t.Run("restart during an in-flight exchange drops the stale result", func(t *testing.T) {
		release := make(chan struct{})
		fake := &fakeCodeExchanger{
			tokens: &authflow.TokenSet{AccessToken: "stale"},
			block:  release,
		}
		s, ex := start(t, fake)
		require.NoError(t, s.repo.Upsert("state-1", &flowrepo.PendingAuth{CodeVerifier: "v"}))

		result := beginWait(t, s)
		req := httptest.NewRequest(http.MethodGet, "https://auth.vendorcloud.com/login/final", nil)
		s.responseCompleted(ex, req, redirect("vendorapp://login?code=auth-code&state=state-1"))

		// The exchange is stalled; restart the session underneath it.
		require.NoError(t, s.Stop())
		require.ErrorIs(t, (<-result).err, rendezvous.ErrStopped)
		require.NoError(t, s.Start(ctx))

		second := beginWait(t, s)
		close(release)

		select {
		case got := <-second:
			t.Fatalf("stale exchange settled the new wait: %+v", got)
		case <-time.After(100 * time.Millisecond):
		}
	})
}

// TestSession_EndToEnd drives a full capture through the intercepting proxy:
// the client's request is forwarded, the terminal redirect is detected, and
// the exchanged tokens settle the waiting caller.
func TestSession_EndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "vendorapp://login?code=auth-code&state=state-1")
		w.WriteHeader(http.StatusFound)
	}))
	defer upstream.Close()

	cfg := newTestConfig(t)
	cfg.authDomain = "127.0.0.1" // the test upstream plays the vendor host

	fake := &fakeCodeExchanger{tokens: &authflow.TokenSet{AccessToken: "access-token"}}
	s := NewWithExchanger(cfg, zerolog.Nop(), testOAuthConfig(), fake)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.NoError(t, s.repo.Upsert("state-1", &flowrepo.PendingAuth{CodeVerifier: "v"}))

	result := awaitLogin(s)
	require.Eventually(t, func() bool { return s.waits.Active() != nil }, time.Second, 10*time.Millisecond)

	proxyURL, err := url.Parse("http://" + s.proxy.Addr().String())
	require.NoError(t, err)
	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(upstream.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	got := <-result
	require.NoError(t, got.err)
	require.Equal(t, "access-token", got.tokens.AccessToken)
}
