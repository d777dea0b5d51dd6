package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-login-proxy/internal/config"
	"github.com/jrsteele09/go-login-proxy/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var flags struct {
	listenBind string
	proxyPort  string
	webPort    string
	dataDir    string
	logLevel   string
}

var rootCmd = &cobra.Command{
	Use:          "loginproxy",
	Short:        "TLS-intercepting proxy that captures OAuth2/PKCE login tokens",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&flags.listenBind, "bind", "", "bind address for both listeners (default all interfaces)")
	rootCmd.Flags().StringVar(&flags.proxyPort, "proxy-port", "", "intercepting proxy port (default 8888)")
	rootCmd.Flags().StringVar(&flags.webPort, "web-port", "", "auxiliary web server port (default 8889)")
	rootCmd.Flags().StringVar(&flags.dataDir, "data-dir", "", "directory for CA material (default ./data)")
	rootCmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level: info or debug (default info)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := flagConfig{Config: config.New()}
	displayAppname(cfg.GetAppName())

	level, err := zerolog.ParseLevel(cfg.GetLogLevel())
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.GetLogLevel(), err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := server.New(cfg, logger)
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start login session: %w", err)
	}
	logger.Info().Str("url", session.LoginURL()).Msg("Login URL generated")

	go func() {
		tokens, err := session.WaitForLoginResult(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Login failed")
			return
		}
		logger.Info().
			Str("email", tokens.Identity.Email).
			Time("expiry", tokens.Expiry).
			Msg("Login tokens captured")
	}()

	<-ctx.Done()
	return session.Stop()
}

// flagConfig overlays command-line flags on the environment configuration.
type flagConfig struct {
	config.Config
}

func (f flagConfig) GetListenBind() string {
	if flags.listenBind != "" {
		return flags.listenBind
	}
	return f.Config.GetListenBind()
}

func (f flagConfig) GetProxyPort() string {
	if flags.proxyPort != "" {
		return flags.proxyPort
	}
	return f.Config.GetProxyPort()
}

func (f flagConfig) GetWebPort() string {
	if flags.webPort != "" {
		return flags.webPort
	}
	return f.Config.GetWebPort()
}

func (f flagConfig) GetDataDir() string {
	if flags.dataDir != "" {
		return flags.dataDir
	}
	return f.Config.GetDataDir()
}

func (f flagConfig) GetLogLevel() string {
	if flags.logLevel != "" {
		return flags.logLevel
	}
	return f.Config.GetLogLevel()
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
