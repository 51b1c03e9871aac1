/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tutor ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env, flags and environment (package config)
  2. Open the state store (sqlite, redis or memory)
  3. Build the notification fan-out (board, log, optional RabbitMQ)
  4. Open the engine, migrating whatever document the store holds
  5. Configure HTTP router and start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store and the RabbitMQ connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/tutor.db"

  # Keep state in Redis
  STORE=redis REDIS_ADDR=localhost:6379 ./server

  # Throwaway state
  ./server -store=memory -port=3000

SEE ALSO:
  - config/config.go: Flags and environment keys
  - api/server.go: Router configuration
  - tutor/engine.go: Action layer
*/
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

	"go.uber.org/zap"

	"github.com/warp/tutor-ledger/api"
	"github.com/warp/tutor-ledger/config"
	"github.com/warp/tutor-ledger/ledger"
	"github.com/warp/tutor-ledger/ledger/store"
	"github.com/warp/tutor-ledger/notify"
	"github.com/warp/tutor-ledger/store/redis"
	"github.com/warp/tutor-ledger/store/sqlite"
	"github.com/warp/tutor-ledger/tutor"
)

func main() {
	cfg, dotenv, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.Production())
	defer logger.Sync()

	if !dotenv {
		logger.Debug("no .env file, using environment and flags")
	}

	ctx := context.Background()

	// Initialize store
	persister, closer, revisions, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.String("store", cfg.Store), zap.Error(err))
	}
	defer closer.Close()

	// Notifications
	board := notify.NewBoard()
	sinks := notify.Multi{board, notify.NewLog(logger)}
	if cfg.AMQPURL != "" {
		pub, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("notifications will not be published", zap.Error(err))
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
		}
	}

	engine := tutor.NewEngine(persister,
		tutor.WithNotifier(sinks),
		tutor.WithLogger(logger),
	)
	engine.Open(ctx)

	handler := api.NewHandler(engine, board, logger)
	handler.Revisions = revisions

	var proxy *api.Proxy
	if cfg.UpstreamURL != "" {
		proxy = api.NewProxy(cfg.UpstreamURL, nil, logger)
	}

	router := api.NewRouter(handler, proxy, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", fmt.Sprintf("http://localhost:%d", cfg.Port)),
			zap.String("store", cfg.Store),
			zap.String("env", cfg.Env),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// openStore returns the configured persister. revisions is non-nil only for
// SQLite, which keeps previous documents.
func openStore(ctx context.Context, cfg *config.Config) (ledger.Persister, io.Closer, *sqlite.Store, error) {
	switch cfg.Store {
	case config.StoreRedis:
		s, err := redis.New(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
			TLS:      cfg.RedisTLS,
			Key:      cfg.StateKey,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, nil, nil
	case config.StoreMemory:
		return store.NewMemory(), io.NopCloser(nil), nil, nil
	default:
		s, err := sqlite.New(cfg.DBPath, cfg.StateKey)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, s, nil
	}
}
