package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dremora/endpoints/internal/config"
	"github.com/Dremora/endpoints/internal/db"
	"github.com/Dremora/endpoints/internal/endpoint"
	"github.com/Dremora/endpoints/internal/events"
	"github.com/Dremora/endpoints/internal/httpapi"
	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/Dremora/endpoints/internal/schema"
	"github.com/Dremora/endpoints/internal/store"
	"github.com/Dremora/endpoints/internal/store/memstore"
	"github.com/Dremora/endpoints/internal/store/pgstore"
	"github.com/Dremora/endpoints/internal/store/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

// backend is an opened datastore with its health check and cleanup
type backend struct {
	store.Backend
	ping  func(ctx context.Context) error
	close func()
}

func openBackend(ctx context.Context, cfg config.StoreConfig) (*backend, error) {
	switch cfg.Driver {
	case "postgres":
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return &backend{Backend: pgstore.New(pool), ping: pool.Ping, close: pool.Close}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		rs := redisstore.New(client, cfg.RedisPrefix)
		if err := rs.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("connected to redis")
		return &backend{Backend: rs, ping: rs.Ping, close: func() { client.Close() }}, nil

	default:
		log.Warn().
			Str("store", "memory").
			Msg("in-memory store starts empty and cannot be seeded; updates return 404 until a persistent driver is configured")
		return &backend{Backend: memstore.New(), close: func() {}}, nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	registry, err := schema.Load(cfg.Schema.Path)
	if err != nil {
		return err
	}

	be, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer be.close()

	var notifier events.Notifier = events.Nop{}
	if cfg.Events.NATSURL != "" {
		nn, err := events.NewNATSNotifier(events.Config{
			URL:           cfg.Events.NATSURL,
			SubjectPrefix: cfg.Events.SubjectPrefix,
			Name:          "endpoints",
		})
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer nn.Close()
		notifier = nn
	}

	handler := endpoint.New(store.New(be, registry), registry, endpoint.Options{
		Negotiator: jsonapi.NewNegotiator(cfg.JSONAPI.SupportedExtensions...),
		Timeout:    cfg.Store.Timeout,
		Notifier:   notifier,
	})

	// HTTP server setup
	srv := &httpapi.Server{
		Handler: handler,
		RateLimitConfig: httpapi.RateLimitInfo{
			WindowSeconds: cfg.RateLimit.WindowSeconds,
			MaxRequests:   cfg.RateLimit.MaxRequests,
			Burst:         cfg.RateLimit.Burst,
		},
		BasePath:    cfg.Server.BasePath,
		StoreDriver: cfg.Store.Driver,
		Metrics:     httpapi.NewMetrics(),
		Ping:        be.ping,
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("store", cfg.Store.Driver).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
	return nil
}
