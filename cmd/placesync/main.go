// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/placesync/internal/api"
	"github.com/tomtom215/placesync/internal/auth"
	"github.com/tomtom215/placesync/internal/config"
	"github.com/tomtom215/placesync/internal/events"
	"github.com/tomtom215/placesync/internal/logging"
	"github.com/tomtom215/placesync/internal/store"
	"github.com/tomtom215/placesync/internal/supervisor"
	"github.com/tomtom215/placesync/internal/supervisor/services"
	ws "github.com/tomtom215/placesync/internal/websocket"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	if len(os.Args) > 1 && os.Args[1] == "token" {
		var userID string
		if len(os.Args) > 2 {
			userID = os.Args[2]
		}
		if err := issueToken(cfg, userID, os.Stdout); err != nil {
			logging.Fatal().Err(err).Msg("Failed to issue token")
		}
		return
	}

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Bool("store_in_memory", cfg.Store.InMemory).
		Str("remote_mode", cfg.Remote.Mode).
		Bool("auth", cfg.Auth.JWTSecret != "").
		Msg("Starting Placesync with supervisor tree")

	// Local mirror
	db, err := store.Open(storeConfig(cfg.Store))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open local store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing local store")
		}
	}()
	logging.Info().Msg("Local store opened")

	rs, err := buildRemote(cfg.Remote)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize remote store")
	}

	monitor, prober := buildNetwork(cfg.Network)

	var jwtManager *auth.JWTManager
	if cfg.Auth.JWTSecret != "" {
		jwtManager, err = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
		}
		logging.Info().Msg("JWT authentication enabled")
	} else {
		logging.Warn().Msg("Authentication is DISABLED: the API trusts every caller. Bind to localhost or set JWT_SECRET.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	bus := events.NewBus(events.BusConfig{}, nil)
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()
	wsHub := ws.NewHub()

	// Data layer
	tree.AddDataService(store.NewMaintainer(db))
	if prober != nil {
		tree.AddDataService(prober)
		logging.Info().Str("url", cfg.Network.ProbeURL).Msg("Network prober service added")
	}

	// Messaging layer; session schedulers join it on login.
	tree.AddMessagingService(services.NewWebSocketHubService(wsHub))
	tree.AddMessagingService(ws.NewRelay(wsHub, bus))

	sessions, err := newSessionManager(tree, cfg, db, rs.store, monitor, bus)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid engine configuration")
	}
	if cfg.Auth.StaticUserID != "" {
		if _, err := sessions.Login(ctx, cfg.Auth.StaticUserID); err != nil {
			logging.Fatal().Err(err).Msg("Failed to start static session")
		}
	}

	// API layer
	handler := api.NewHandler(sessions, jwtManager, db, monitor)
	router := api.NewRouter(handler, api.RouterConfig{
		Middleware: api.ChiMiddlewareConfigFrom(cfg.Server),
		Hub:        wsHub,
		Remote:     rs.handler,
	})
	server := newHTTPServer(cfg.Server, router.SetupChi())
	tree.AddAPIService(services.NewHTTPServerService(server, tree.ShutdownTimeout()))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// === START SUPERVISOR TREE ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		// Stop the scheduler while the tree can still remove it.
		sessions.Logout(context.Background())
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Placesync stopped gracefully")
}
