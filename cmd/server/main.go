package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/api"
	"github.com/lalith-99/viewify/internal/config"
	"github.com/lalith-99/viewify/internal/db"
	"github.com/lalith-99/viewify/internal/feed"
	"github.com/lalith-99/viewify/internal/observ"
	"github.com/lalith-99/viewify/internal/reconcile"
	"github.com/lalith-99/viewify/internal/repository"
	"github.com/lalith-99/viewify/internal/repository/memory"
	"github.com/lalith-99/viewify/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Config and logger
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observ.NewMetrics(prometheus.DefaultRegisterer)

	// ---------------------------------------------------------------
	// 2. Entity store
	// ---------------------------------------------------------------
	var (
		entities repository.EntityStore
		users    repository.UserRepository
	)
	switch cfg.StoreDriver {
	case "postgres":
		database, err := db.New(ctx, cfg.DatabaseURL, db.PoolOptions{}, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer database.Close()
		entities = database.Entities()
		users = database.Users()
	default:
		logger.Warn("using in-memory store; data is lost on restart")
		entities = memory.New()
		users = memory.NewUsers()
	}

	// ---------------------------------------------------------------
	// 3. Change feed
	//
	// Every write goes through the publishing store, so this process's
	// own writes reach every subscriber, including other instances
	// sharing the same Redis or NATS.
	// ---------------------------------------------------------------
	transport, closeTransport, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	hub := feed.NewHub(transport, cfg.FeedDatabaseID, logger, metrics)
	defer hub.Close()
	store := feed.NewPublishingStore(entities, hub, logger)

	// ---------------------------------------------------------------
	// 4. Sessions and HTTP
	// ---------------------------------------------------------------
	sessions := session.NewManager(session.Deps{
		Store: store,
		Users: users,
		Feed:  hub,
		Options: reconcile.Options{
			MatchWindow:  cfg.Reconcile.MatchWindow,
			TombstoneTTL: cfg.Reconcile.TombstoneTTL,
			BufferTTL:    cfg.Reconcile.UpdateBufferTTL,
			FailedTTL:    cfg.Reconcile.FailedTTL,
			StoreTimeout: cfg.Reconcile.StoreTimeout,
			ListLimit:    cfg.Reconcile.ListLimit,
			Recorder:     metrics,
		},
		Logger:   logger,
		Recorder: metrics,
	})
	defer sessions.Close()

	router := api.NewRouter(cfg.JWTSecret, sessions, users, logger)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting Viewify",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("store", cfg.StoreDriver),
		zap.String("feed", cfg.FeedDriver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (feed.Transport, func(), error) {
	switch cfg.FeedDriver {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return feed.NewRedisTransport(client, logger), func() { _ = client.Close() }, nil
	case "nats":
		conn, err := nats.Connect(cfg.NatsURL, nats.Name("viewify"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to nats: %w", err)
		}
		return feed.NewNatsTransport(conn), conn.Close, nil
	default:
		logger.Warn("using in-process change feed; other instances won't see events")
		return feed.NewMemoryTransport(), func() {}, nil
	}
}
