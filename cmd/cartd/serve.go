package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-session/internal/checkout"
	"github.com/fjod/go_cart/cart-session/internal/config"
	h "github.com/fjod/go_cart/cart-session/internal/http"
	"github.com/fjod/go_cart/cart-session/internal/logger"
	"github.com/fjod/go_cart/cart-session/internal/persistence"
	"github.com/fjod/go_cart/cart-session/internal/session"
	"github.com/fjod/go_cart/cart-session/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cart HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	store := persistence.NewStore(backend,
		persistence.WithLogger(log.Named("persistence")),
		persistence.WithTemporaryWindow(cfg.TemporaryCartWindow),
	)

	var publisher session.Publisher = checkout.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := checkout.NewKafkaPublisher(cfg.KafkaBrokers...)
		defer func() {
			if err := kp.Close(); err != nil {
				log.Warn("error closing kafka writer", zap.Error(err))
			}
		}()
		publisher = kp
	}

	registry := session.NewRegistry(store, session.RegistryConfig{
		IdleTTL: cfg.SessionIdleTTL,
		Logger:  log.Named("session"),
	},
		session.WithPublisher(publisher),
		session.WithSessionWindow(cfg.SessionWindow),
	)
	defer func() { _ = registry.Close() }()

	var wg sync.WaitGroup
	if len(cfg.KafkaBrokers) > 0 {
		consumer := checkout.NewConsumer(registry, log.Named("checkout"), cfg.KafkaBrokers...)
		defer consumer.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("checkout consumer started", zap.Strings("brokers", cfg.KafkaBrokers))
			consumer.Run(ctx)
		}()
	}

	var storageHealth h.StorageHealth
	if b, ok := backend.(*storage.Breaker); ok {
		storageHealth = b
	}
	handler := h.NewCartHandler(registry, storageHealth, cfg.RequestTimeout, log.Named("http"))
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.NewRouter(handler, cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("cartd starting",
			zap.String("port", cfg.HTTPPort),
			zap.String("storage", cfg.StorageBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	wg.Wait()

	log.Info("server exited")
	return nil
}

// openBackend picks the key-value backend. Remote backends sit behind a circuit breaker.
func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Backend, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

		b := storage.NewBreaker(storage.NewRedis(client, cfg.RedisPrefix), storage.BreakerSettings{Name: "redis"})
		return b, func() { _ = client.Close() }, nil

	case config.BackendMongo:
		m, err := storage.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		if err := m.CreateIndexes(ctx); err != nil {
			log.Warn("failed to create mongo indexes", zap.Error(err))
		}
		log.Info("connected to mongodb", zap.String("database", cfg.MongoDBName))

		b := storage.NewBreaker(m, storage.BreakerSettings{Name: "mongo"})
		return b, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.Close(ctx); err != nil {
				log.Warn("error closing mongo client", zap.Error(err))
			}
		}, nil

	default:
		log.Warn("using in-memory storage; carts are lost on restart")
		return storage.NewMemory(), func() {}, nil
	}
}
