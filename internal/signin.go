package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/oauth-signin/internal/config"
	"github.com/dgellow/oauth-signin/internal/crypto"
	"github.com/dgellow/oauth-signin/internal/handshake"
	"github.com/dgellow/oauth-signin/internal/idp"
	"github.com/dgellow/oauth-signin/internal/log"
	"github.com/dgellow/oauth-signin/internal/metrics"
	"github.com/dgellow/oauth-signin/internal/profile"
	"github.com/dgellow/oauth-signin/internal/server"
	"github.com/dgellow/oauth-signin/internal/session"
	"github.com/dgellow/oauth-signin/internal/state"
	"github.com/dgellow/oauth-signin/internal/storage"
)

const shutdownTimeout = 30 * time.Second

// SignIn is the complete sign-in application.
type SignIn struct {
	config     config.Config
	handler    http.Handler
	httpServer *server.HTTPServer
	replay     storage.ReplayGuard
}

// NewSignIn builds the application from a loaded and validated configuration.
func NewSignIn(ctx context.Context, cfg config.Config) (*SignIn, error) {
	log.LogInfoWithFields("signin", "Building sign-in application", map[string]any{
		"provider":     cfg.Provider.Type,
		"callbackPath": cfg.Provider.CallbackPath,
		"replayStore":  cfg.Replay.Store,
	})

	if err := config.ValidateCallbackPath(cfg.Provider.CallbackPath); err != nil {
		return nil, err
	}

	masterKey := []byte(cfg.Handshake.StateKey)

	stateKey, err := crypto.DeriveKey(masterKey, "state")
	if err != nil {
		return nil, fmt.Errorf("failed to derive state key: %w", err)
	}
	codec, err := state.NewCodec(stateKey, cfg.Handshake.StateTTL.Std())
	if err != nil {
		return nil, fmt.Errorf("failed to create state codec: %w", err)
	}

	sessions, err := session.NewManager(masterKey, cfg.Handshake.SessionTTL.Std())
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	provider, err := idp.NewProvider(ctx, cfg.Provider, idp.WithTimeout(cfg.Handshake.BackchannelTimeout.Std()))
	if err != nil {
		return nil, fmt.Errorf("failed to setup identity provider: %w", err)
	}

	replay, err := storage.New(ctx, cfg.Replay)
	if err != nil {
		return nil, fmt.Errorf("failed to setup replay guard: %w", err)
	}

	m := metrics.New("")
	retries := cfg.Handshake.Retries()
	claims := cfg.Provider.Claims

	orchestrator, err := handshake.New(handshake.Config{
		Provider: provider,
		Codec:    codec,
		Mapper: profile.NewMapper(profile.FieldConfig{
			Subject: claims.Subject,
			Email:   claims.Email,
			Name:    claims.Name,
			Extra:   claims.Extra,
		}),
		ReplayGuard:          replay,
		Recorder:             m,
		MaxRetries:           &retries,
		RetryInitialInterval: cfg.Handshake.RetryInitialInterval.Std(),
		CallTimeout:          cfg.Handshake.BackchannelTimeout.Std(),
		AllowedReturnHosts:   cfg.Server.AllowedReturnHosts,
	})
	if err != nil {
		_ = replay.Close()
		return nil, fmt.Errorf("failed to create handshake: %w", err)
	}

	log.LogInfoWithFields("signin", "Handshake ready", map[string]any{
		"handshake": orchestrator.String(),
		"authURL":   provider.Endpoints().AuthURL,
	})

	handler := buildHTTPHandler(cfg, orchestrator, sessions, m, replay)

	return &SignIn{
		config:     cfg,
		handler:    handler,
		httpServer: server.NewHTTPServer(handler, cfg.Server.Addr),
		replay:     replay,
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *SignIn) Handler() http.Handler {
	return s.handler
}

// Run serves until SIGINT, SIGTERM or a server error, then shuts down
// gracefully.
func (s *SignIn) Run() error {
	log.LogInfoWithFields("signin", "Starting sign-in application", map[string]any{
		"addr": s.config.Server.Addr,
	})

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("signin", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("signin", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	return s.shutdown(shutdownReason)
}

func (s *SignIn) shutdown(reason string) error {
	log.LogInfoWithFields("signin", "Starting graceful shutdown", map[string]any{
		"reason":  reason,
		"timeout": shutdownTimeout.String(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Stop(ctx); err != nil {
		log.LogErrorWithFields("signin", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	if err := s.replay.Close(); err != nil {
		log.LogErrorWithFields("signin", "Replay guard close error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("signin", "Application shutdown complete", map[string]any{
		"reason": reason,
	})
	return nil
}

func buildHTTPHandler(
	cfg config.Config,
	h server.Handshake,
	sessions *session.Manager,
	m *metrics.Metrics,
	replay storage.ReplayGuard,
) http.Handler {
	mux := http.NewServeMux()

	signinMiddleware := []server.MiddlewareFunc{
		server.NewNoStoreMiddleware(),
		server.NewLoggerMiddleware("signin"),
		server.NewRecoverMiddleware("signin"),
	}
	route := func(path string, handler http.HandlerFunc) {
		mux.Handle(path, m.HTTPMiddleware(path, server.ChainMiddleware(handler, signinMiddleware...)))
	}

	handlers := server.NewSignInHandlers(h, sessions, cfg.Server.BaseURL, cfg.Provider.CallbackPath)
	route(config.LoginPath, handlers.LoginHandler)
	route(cfg.Provider.CallbackPath, handlers.CallbackHandler)
	route(config.MePath, handlers.MeHandler)
	route(config.LogoutPath, handlers.LogoutHandler)

	checks := map[string]func(context.Context) error{}
	if p, ok := replay.(interface{ Ping(context.Context) error }); ok {
		checks["replay"] = p.Ping
	}
	mux.Handle(config.HealthPath, server.NewHealthHandler(checks))
	mux.Handle(config.MetricsPath, m.Handler())

	return mux
}
