// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/efchatnet/efmsg/backend/config"
	"github.com/efchatnet/efmsg/backend/integration"
	"github.com/efchatnet/efmsg/backend/logger"
	"github.com/efchatnet/efmsg/backend/middleware"
	"github.com/efchatnet/efmsg/backend/storage"
	"github.com/efchatnet/efmsg/backend/storage/redis"
	"github.com/efchatnet/efmsg/backend/storage/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, users, closer, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open message store")
	}
	defer closer.Close()

	messages, err := integration.NewMessagingIntegration(&integration.Config{
		Store:         store,
		Users:         users,
		JWTSecret:     cfg.JWTSecret,
		JWTIssuer:     cfg.JWTIssuer,
		SendRateLimit: cfg.SendRateLimit,
		SendRateBurst: cfg.SendRateBurst,
		Logger:        log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up messaging")
	}

	r := mux.NewRouter()
	r.Use(middleware.Metrics)
	messages.RegisterRoutes(r, nil)

	// Health check (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := messages.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Store unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// CORS wraps the router so preflight requests are answered even though
	// no route is registered for OPTIONS.
	handler := middleware.RequestID(middleware.Logger(log)(middleware.CORS(cfg.AllowedOrigins)(r)))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("backend", cfg.StoreBackend).
			Str("jwt_issuer", cfg.JWTIssuer).
			Msg("messaging server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// openStore connects the configured backend and returns the store, the user
// directory that goes with it and whatever must be closed on exit.
func openStore(ctx context.Context, cfg *config.Config) (storage.MessageStore, storage.UserDirectory, io.Closer, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		s, err := sqlstore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return migrated(ctx, s)

	case config.BackendSQLite:
		s, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return migrated(ctx, s)

	case config.BackendRedis:
		s, err := redis.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, redis.NewDirectory(s.Client(), s.Prefix()), s, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func migrated(ctx context.Context, s *sqlstore.Store) (storage.MessageStore, storage.UserDirectory, io.Closer, error) {
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, sqlstore.NewDirectory(s.DB()), s, nil
}
