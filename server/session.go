// Package server ties the interception proxy, the PKCE flow and the
// rendezvous together into a single login-capture session, and serves the
// auxiliary pages a user needs to run the flow.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-login-proxy/authflow"
	"github.com/jrsteele09/go-login-proxy/authflow/flowrepo"
	"github.com/jrsteele09/go-login-proxy/internal/config"
	"github.com/jrsteele09/go-login-proxy/mitm"
	"github.com/jrsteele09/go-login-proxy/rendezvous"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const exchangeTimeout = 30 * time.Second

// Session captures one vendor login through the interception proxy. It
// supports one login cycle at a time; concurrent logins require separate
// Session instances, each with its own pending-state store and rendezvous.
type Session struct {
	config config.Config
	log    zerolog.Logger

	repo  flowrepo.Repo
	oidc  authflow.CodeExchanger
	oauth *oauth2.Config
	waits *rendezvous.Controller

	mu       sync.Mutex
	running  bool
	proxy    *mitm.Proxy
	web      *http.Server
	webLn    net.Listener
	loginURL string
}

// New creates a Session that discovers the vendor's OIDC provider on Start.
func New(cfg config.Config, logger zerolog.Logger) *Session {
	return &Session{
		config: cfg,
		log:    logger,
		repo:   flowrepo.NewInMemoryRepo(flowrepo.DefaultTTL),
		waits:  rendezvous.NewController(),
	}
}

// NewWithExchanger creates a Session with a pre-built code exchanger and
// OAuth2 configuration, skipping provider discovery. Used by tests and by
// deployments whose provider does not publish a discovery document.
func NewWithExchanger(cfg config.Config, logger zerolog.Logger, oauthConfig *oauth2.Config, oidc authflow.CodeExchanger) *Session {
	s := New(cfg, logger)
	s.oauth = oauthConfig
	s.oidc = oidc
	return s
}

// Start brings up the interception proxy and the auxiliary web server.
// If either listener fails to bind, anything already started is torn down
// and the failure is surfaced; no partial session is left running.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	dataDir := s.config.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("[Session Start] failed to create data dir: %w", err)
	}

	ca, err := mitm.LoadOrCreateCA(dataDir, s.log)
	if err != nil {
		return fmt.Errorf("[Session Start] %w", err)
	}

	if s.oidc == nil {
		client, err := authflow.NewOidcClient(
			ctx,
			s.config.GetIssuerURL(),
			s.config.GetClientID(),
			s.config.GetRedirectScheme()+"://login",
			s.log,
		)
		if err != nil {
			return fmt.Errorf("[Session Start] %w", err)
		}
		s.oidc = client
		s.oauth = client.OAuthConfig()
	}

	generator := authflow.NewGenerator(s.oauth, s.repo)
	exchanger := authflow.NewExchanger(s.repo, s.oidc, s.log)

	loginURL, err := generator.LoginURL()
	if err != nil {
		return fmt.Errorf("[Session Start] %w", err)
	}
	s.loginURL = loginURL

	proxy := mitm.NewProxy(
		net.JoinHostPort(s.config.GetListenBind(), s.config.GetProxyPort()),
		ca,
		mitm.Hooks{
			Inspect: s.inspectRequest,
			// The exchanger is bound to the proxy that delivers the
			// callback; a restart's new exchanger never sees deliveries
			// still in flight from the old one.
			ResponseCompleted: func(req *http.Request, resp *http.Response) {
				s.responseCompleted(exchanger, req, resp)
			},
		},
		s.log,
	)
	if err := proxy.Start(); err != nil {
		return fmt.Errorf("[Session Start] proxy: %w: %w", ErrBind, err)
	}

	webAddr := net.JoinHostPort(s.config.GetListenBind(), s.config.GetWebPort())
	webLn, err := net.Listen("tcp", webAddr)
	if err != nil {
		_ = proxy.Close()
		return fmt.Errorf("[Session Start] web %q: %w: %w", webAddr, ErrBind, err)
	}

	web := &http.Server{Handler: s.webHandler(ca.CertPath())}
	go func() {
		if err := web.Serve(webLn); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("Web server failed")
		}
	}()

	s.proxy = proxy
	s.web = web
	s.webLn = webLn
	s.running = true

	s.log.Info().
		Str("proxy", proxy.Addr().String()).
		Str("web", webLn.Addr().String()).
		Msg("Login session started")
	return nil
}

// Stop settles any outstanding wait with rendezvous.ErrStopped and closes
// both listeners. By the time Stop returns, no further interception
// callbacks will fire. Idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.waits.Shutdown()

	proxyErr := s.proxy.Close()
	webErr := s.web.Close()

	s.proxy = nil
	s.web = nil
	s.webLn = nil
	s.running = false

	s.log.Info().Msg("Login session stopped")

	if proxyErr != nil {
		return fmt.Errorf("[Session Stop] proxy: %w", proxyErr)
	}
	if webErr != nil {
		return fmt.Errorf("[Session Stop] web: %w", webErr)
	}
	return nil
}

// WaitForLoginResult blocks until a login completes, fails, or the wait is
// cancelled. Beginning a new wait supersedes any unsettled previous one.
func (s *Session) WaitForLoginResult(ctx context.Context) (*authflow.TokenSet, error) {
	return s.waits.BeginWait().Wait(ctx)
}

// LoginURL returns the authorization URL generated for this session.
func (s *Session) LoginURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginURL
}

// inspectRequest flags requests whose host matches the vendor's domain
// marker for deep inspection, bounding inspection cost to relevant traffic.
func (s *Session) inspectRequest(req *http.Request) bool {
	return strings.Contains(req.Host, s.config.GetAuthDomain())
}

// responseCompleted looks for the terminal redirect on inspected responses:
// a Location header targeting the vendor's custom URL scheme. The exchange
// runs asynchronously so the proxy can forward the response immediately.
func (s *Session) responseCompleted(exchanger *authflow.Exchanger, req *http.Request, resp *http.Response) {
	location := resp.Header.Get("Location")
	if location == "" || !strings.HasPrefix(location, s.config.GetRedirectScheme()+"://") {
		return
	}

	s.log.Debug().Str("url", req.URL.String()).Str("location", location).Msg("Captured terminal redirect")

	// Bind the delivery to the rendezvous active now; if a newer login
	// cycle starts while the exchange is in flight, the result is dropped.
	wait := s.waits.Active()
	go s.completeLogin(exchanger, wait, location)
}

func (s *Session) completeLogin(exchanger *authflow.Exchanger, wait *rendezvous.Rendezvous, redirectURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), exchangeTimeout)
	defer cancel()

	tokens, err := exchanger.Exchange(ctx, redirectURL)
	if err != nil {
		if !s.waits.Reject(wait, err) {
			s.log.Debug().Err(err).Msg("Dropped login failure: no active wait")
		}
		return
	}

	if !s.waits.Resolve(wait, tokens) {
		s.log.Debug().Msg("Dropped login result: no active wait")
		return
	}
	s.log.Info().Str("email", tokens.Identity.Email).Msg("Login captured")
}
