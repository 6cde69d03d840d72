package http

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/campuslink/campuslink-server/internal/auth"
	"github.com/campuslink/campuslink-server/internal/config"
	"github.com/campuslink/campuslink-server/internal/core"
	"github.com/campuslink/campuslink-server/internal/service/calls"
	"github.com/campuslink/campuslink-server/internal/store"
	"github.com/campuslink/campuslink-server/internal/store/sqlite"
)

// createTestStore creates an in-memory SQLite store with schema applied.
func createTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// createTestAuthService creates an auth service for testing.
func createTestAuthService(t *testing.T, st store.Store, jwtSecret string) *auth.Service {
	t.Helper()

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(jwtSecret),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return auth.NewService(st, jwtConfig)
}

// startTestServer wires a full stack (store, call service, hub, router)
// behind httptest.
func startTestServer(t *testing.T) (*httptest.Server, store.Store, *auth.Service) {
	t.Helper()

	st := createTestStore(t)
	authService := createTestAuthService(t, st, "test-secret")
	callsService := calls.New(st, nil)

	disabledLogger := zerolog.Nop()

	hub := core.NewHub(st, callsService, &disabledLogger, 0)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	cfg := config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
		MessageRateLimit:  0,
	}

	server := NewServer(hub, authService, callsService, st, cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts, st, authService
}
