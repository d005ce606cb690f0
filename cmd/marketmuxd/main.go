// Command marketmuxd serves mock market data over streaming HTTP: JSON-RPC
// exchanges over POST, server push over SSE, bearer-token auth via OIDC
// discovery. All configuration comes from the environment.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/marketmux/marketmux/auth"
	"github.com/marketmux/marketmux/feed"
	"github.com/marketmux/marketmux/internal/engine"
	"github.com/marketmux/marketmux/internal/logctx"
	"github.com/marketmux/marketmux/internal/sessionseal"
	"github.com/marketmux/marketmux/sessions"
	"github.com/marketmux/marketmux/sessions/memoryhost"
	"github.com/marketmux/marketmux/sessions/redishost"
	"github.com/marketmux/marketmux/streaminghttp"
	"github.com/marketmux/marketmux/wire"
)

const serverVersion = "0.1.0"

type config struct {
	// ListenAddr is the host:port the HTTP server binds. ENV: LISTEN_ADDR
	ListenAddr string `env:"LISTEN_ADDR,default=127.0.0.1:8080"`
	// PublicEndpoint is the externally visible URL of the RPC endpoint,
	// e.g. https://mux.example.com/rpc. ENV: PUBLIC_ENDPOINT
	PublicEndpoint string `env:"PUBLIC_ENDPOINT,default=http://127.0.0.1:8080/rpc"`
	// ServerName is surfaced in initialize results and discovery metadata.
	ServerName string `env:"SERVER_NAME,default=marketmux"`
	// LogLevel is one of debug, info, warn, error. ENV: LOG_LEVEL
	LogLevel string `env:"LOG_LEVEL,default=info"`

	// SessionHost selects the session backend: "memory" for a single
	// instance, "redis" for horizontal scale. ENV: SESSION_HOST
	SessionHost string `env:"SESSION_HOST,default=memory"`

	// AuthDisabled admits every request as an anonymous principal. Only for
	// local development. ENV: AUTH_DISABLED
	AuthDisabled bool `env:"AUTH_DISABLED,default=false"`
	// OIDCIssuer is the authorization server issuer URL. Required unless
	// AUTH_DISABLED. ENV: OIDC_ISSUER
	OIDCIssuer string `env:"OIDC_ISSUER"`
	// OIDCAudience is the expected aud claim; defaults to PublicEndpoint
	// when empty. ENV: OIDC_AUDIENCE
	OIDCAudience string `env:"OIDC_AUDIENCE"`
	// RequiredScopes is a comma-separated list; every listed scope must be
	// present on the token. ENV: REQUIRED_SCOPES
	RequiredScopes string `env:"REQUIRED_SCOPES"`

	// TickInterval is the cadence of feed update pushes. ENV: FEED_TICK_INTERVAL
	TickInterval time.Duration `env:"FEED_TICK_INTERVAL,default=1s"`
	// ShutdownGrace bounds how long shutdown waits for subscription
	// goroutines and in-flight requests. ENV: SHUTDOWN_GRACE
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE,default=5s"`
	// QuoteOverridesPath points at an optional JSON file of per-symbol price
	// overrides, hot-reloaded on change. ENV: QUOTE_OVERRIDES_PATH
	QuoteOverridesPath string `env:"QUOTE_OVERRIDES_PATH"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode config: %w", err)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	host, closeHost, err := newSessionHost(cfg)
	if err != nil {
		return err
	}
	if closeHost != nil {
		defer closeHost()
	}

	authenticator, authOpts, err := newAuthenticator(ctx, cfg)
	if err != nil {
		return err
	}

	catalog := feed.DefaultCatalog()
	feedOpts := []feed.StaticFeedOption{}
	if cfg.QuoteOverridesPath != "" {
		ov, err := feed.NewFileOverrides(cfg.QuoteOverridesPath, log)
		if err != nil {
			return fmt.Errorf("quote overrides: %w", err)
		}
		go func() {
			if err := ov.Watch(ctx); err != nil && ctx.Err() == nil {
				log.Error("feed.overrides.watch_failed", slog.String("err", err.Error()))
			}
		}()
		feedOpts = append(feedOpts, feed.WithOverrides(ov))
	}
	quotes := feed.NewStaticFeed(catalog, feedOpts...)

	sealer, err := sessionseal.NewRandom()
	if err != nil {
		return fmt.Errorf("session sealer: %w", err)
	}

	eng := engine.NewEngine(host, quotes, quotes, catalog, sealer,
		engine.WithLogger(log),
		engine.WithServerInfo(wire.ServerInfo{Name: cfg.ServerName, Version: serverVersion}),
		engine.WithTickInterval(cfg.TickInterval),
		engine.WithShutdownGrace(cfg.ShutdownGrace),
	)

	handlerOpts := append([]streaminghttp.Option{
		streaminghttp.WithServerName(cfg.ServerName),
		streaminghttp.WithLogger(log),
	}, authOpts...)
	h, err := streaminghttp.New(cfg.PublicEndpoint, eng, authenticator, handlerOpts...)
	if err != nil {
		return fmt.Errorf("build handler: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info("server.start",
		slog.String("addr", cfg.ListenAddr),
		slog.String("endpoint", cfg.PublicEndpoint),
		slog.String("session_host", cfg.SessionHost),
		slog.Bool("auth_disabled", cfg.AuthDisabled),
	)

	select {
	case <-ctx.Done():
		log.Info("server.shutdown.signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server.shutdown.http", slog.String("err", err.Error()))
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Warn("server.shutdown.engine", slog.String("err", err.Error()))
	}
	log.Info("server.shutdown.done")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	base := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logctx.Handler{Handler: base})
}

func newSessionHost(cfg config) (sessions.SessionHost, func() error, error) {
	switch strings.ToLower(cfg.SessionHost) {
	case "", "memory":
		return memoryhost.New(), nil, nil
	case "redis":
		host, err := redishost.NewFromEnv()
		if err != nil {
			return nil, nil, fmt.Errorf("redis session host: %w", err)
		}
		return host, host.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown SESSION_HOST %q (want memory or redis)", cfg.SessionHost)
	}
}

func newAuthenticator(ctx context.Context, cfg config) (auth.Authenticator, []streaminghttp.Option, error) {
	if cfg.AuthDisabled {
		return auth.NewDisabled(), nil, nil
	}
	if cfg.OIDCIssuer == "" {
		return nil, nil, fmt.Errorf("OIDC_ISSUER is required unless AUTH_DISABLED=true")
	}
	audience := cfg.OIDCAudience
	if audience == "" {
		audience = cfg.PublicEndpoint
	}
	var scopes []string
	for _, s := range strings.Split(cfg.RequiredScopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	opts := []auth.AccessTokenAuthOption{auth.WithLeeway(2 * time.Minute)}
	if len(scopes) > 0 {
		opts = append(opts, auth.WithRequiredScopes(scopes...))
	}
	authenticator, err := auth.NewFromDiscovery(ctx, cfg.OIDCIssuer, audience, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("oidc discovery: %w", err)
	}

	jwksURI := ""
	if de, ok := authenticator.(auth.DiscoveryEndpoints); ok {
		jwksURI = de.JWKSURI()
	}
	handlerOpts := []streaminghttp.Option{
		streaminghttp.WithAuthorizationServer(cfg.OIDCIssuer, jwksURI, scopes...),
	}
	return authenticator, handlerOpts, nil
}
