package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/campuslink/campuslink-server/internal/auth"
	"github.com/campuslink/campuslink-server/internal/config"
	"github.com/campuslink/campuslink-server/internal/core"
	"github.com/campuslink/campuslink-server/internal/mediaengine"
	"github.com/campuslink/campuslink-server/internal/mediaengine/livekit"
	"github.com/campuslink/campuslink-server/internal/service/calls"
	"github.com/campuslink/campuslink-server/internal/store"
	"github.com/campuslink/campuslink-server/internal/store/sqlite"
	transporthttp "github.com/campuslink/campuslink-server/internal/transport/http"
)

// App wires together store, services, hub, and transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	var engine mediaengine.Engine
	if cfg.MediaURL != "" {
		engine = livekit.New(cfg.MediaAPIKey, cfg.MediaAPISecret, cfg.MediaURL)
		logger.Info().Str("media_url", cfg.MediaURL).Msg("media backend configured")
	} else {
		logger.Info().Msg("no media backend configured, calls carry lifecycle state only")
	}

	callsService := calls.New(st, engine)
	hub := core.NewHub(st, callsService, logger, cfg.RingTimeout)
	server := transporthttp.NewServer(hub, authService, callsService, st, *cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
