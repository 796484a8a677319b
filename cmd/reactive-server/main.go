// Command reactive-server wires the reactive engine, its resource catalog,
// the streaming HTTP API, and the optional PostgreSQL external adapter into
// one running process (spec §9 "one Engine, one Graph, per process").
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/reactive-streams/examples/tempmonitor"
	"github.com/r3e-network/reactive-streams/internal/adapter/postgres"
	"github.com/r3e-network/reactive-streams/internal/reactive"
	"github.com/r3e-network/reactive-streams/internal/resource"
	"github.com/r3e-network/reactive-streams/internal/streamapi"
	"github.com/r3e-network/reactive-streams/pkg/config"
	"github.com/r3e-network/reactive-streams/pkg/logger"
	"github.com/r3e-network/reactive-streams/pkg/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reactive-server: load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("reactive-server", logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})
	log.WithField("version", version.String()).Info("starting reactive-server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.ResolveSecrets(ctx, cfg); err != nil {
		log.WithField("error", err).Fatal("resolve keyvault secrets")
	}

	engine := reactive.NewEngine(log.Named("engine"))

	catalog := resource.NewCatalog()
	if err := registerResources(engine, catalog); err != nil {
		log.WithField("error", err).Fatal("register resources")
	}

	registry := resource.NewInstanceRegistry(resource.RegistryConfig{
		SubscriberQueueCapacity: cfg.Instance.SubscriberQueueSz,
		IdleTimeout:             time.Duration(cfg.Instance.IdleTimeoutSec) * time.Second,
		Logger:                  log.Named("registry"),
	})

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		dedup := resource.NewRedisDedupCache(client, time.Duration(cfg.Instance.IdleTimeoutSec)*time.Second)
		ownerID := fmt.Sprintf("%s-%d", version.String(), os.Getpid())
		registry.WithDedupCache(dedup, ownerID)
		log.WithField("addr", cfg.Redis.Addr).Info("cross-process instance dedup enabled")
	}

	if cfg.Instance.IdleSweepEnabled {
		if err := registry.StartIdleSweep(cfg.Instance.IdleSweepCron); err != nil {
			log.WithField("error", err).Warn("idle sweep did not start")
		} else {
			defer registry.StopIdleSweep()
		}
	}

	if cfg.Postgres.DSN != "" {
		if err := runPostgresAdapter(ctx, cfg, engine, log); err != nil {
			log.WithField("error", err).Warn("postgres adapter did not start")
		}
	}

	handler := streamapi.New(engine, catalog, registry, *cfg, log.Named("streamapi"))
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Fatal("server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	registry.DestroyAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err).Warn("graceful shutdown failed")
	}
}

// registerResources registers every resource this process serves. A larger
// deployment would load this list dynamically; here it is just the bundled
// tempmonitor sample.
func registerResources(engine *reactive.Engine, catalog *resource.Catalog) error {
	feed, err := tempmonitor.NewFeed(engine)
	if err != nil {
		return err
	}
	res, err := tempmonitor.NewResource(engine, feed)
	if err != nil {
		return err
	}
	catalog.Register(res)

	go func() {
		_ = tempmonitor.Simulate(context.Background(), feed, 2*time.Second)
	}()
	return nil
}

// runPostgresAdapter applies pending migrations, registers the demo
// external_events base collection against engine, and starts its poller in
// the background. A deployment with its own source table builds its own
// Query/RowMapper pair via postgres.New instead of this reference wiring.
func runPostgresAdapter(ctx context.Context, cfg *config.Config, engine *reactive.Engine, log *logger.Logger) error {
	if cfg.Postgres.MigrateOnStart {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open migration connection: %w", err)
		}
		defer db.Close()
		if err := postgres.Migrate(db); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	target, err := reactive.NewBase[string, string](engine, "adapter.postgres.external_events")
	if err != nil {
		return fmt.Errorf("register external_events collection: %w", err)
	}

	adapter, err := postgres.NewExternalEventsAdapter(
		cfg.Postgres.DSN,
		cfg.Postgres.ListenChannel,
		time.Duration(cfg.Postgres.PollInterval)*time.Second,
		target,
		log.Named("adapter.postgres"),
	)
	if err != nil {
		return fmt.Errorf("build external_events adapter: %w", err)
	}

	go func() {
		if err := adapter.Run(ctx); err != nil {
			log.WithField("error", err).Warn("postgres adapter stopped")
		}
	}()

	log.Info("postgres external_events adapter started")
	return nil
}
