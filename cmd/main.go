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

	"github.com/fjod/go_cart/food-cart/internal/cartsync"
	"github.com/fjod/go_cart/food-cart/internal/catalog"
	"github.com/fjod/go_cart/food-cart/internal/config"
	h "github.com/fjod/go_cart/food-cart/internal/http"
	"github.com/fjod/go_cart/food-cart/internal/poller"
	"github.com/fjod/go_cart/food-cart/internal/storage"
	"github.com/fjod/go_cart/food-cart/internal/store"
	"github.com/fjod/go_cart/food-cart/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatal("failed to open storage", zap.String("driver", cfg.StorageDriver), zap.Error(err))
	}
	defer st.Close()
	log.Info("storage ready", zap.String("driver", cfg.StorageDriver))

	cart, err := store.Open(ctx, st, log)
	if err != nil {
		log.Fatal("failed to restore cart", zap.Error(err))
	}
	defer cart.Close()

	// expired lines are dropped once per start; the UI shell may also call /expire
	if removed := cart.ClearExpiredCarts(); removed > 0 {
		log.Info("expired cart lines removed", zap.Int("removed", removed))
	}

	identity := cartsync.StaticIdentity(cfg.CustomerID)

	syncCfg := cartsync.DefaultConfig(cfg.APIBaseURL)
	syncCfg.Retry.MaxAttempts = cfg.SyncMaxAttempts
	syncCfg.Retry.Backoff = cartsync.LinearBackoff(cfg.SyncBackoffBase)
	syncCfg.AttemptTimeout = cfg.SyncAttemptTimeout
	syncer := cartsync.NewService(syncCfg, nil, identity, log)

	foods := catalog.NewHTTPCatalog(cfg.APIBaseURL, nil)

	if len(cfg.KafkaBrokers) > 0 {
		p := poller.NewPoller(cart, identity, log, cfg.KafkaBrokers...)
		defer p.Close()
		go p.Run(ctx)
		log.Info("order poller started", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	requestTimeout := handlerTimeout(cfg.RequestTimeout, syncCfg)
	if requestTimeout != cfg.RequestTimeout {
		log.Info("request timeout raised to fit sync retries", zap.Duration("timeout", requestTimeout))
	}

	handler := h.NewCartHandler(cart, syncer, foods, requestTimeout, log)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.NewRouter(handler, requestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("cart API listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
}

// handlerTimeout stretches the per-request deadline so a sync request outlives
// every retry attempt.
func handlerTimeout(requested time.Duration, sync cartsync.Config) time.Duration {
	return max(requested, sync.WorstCaseDuration()+time.Second)
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageDriver {
	case "sqlite":
		return storage.NewSQLiteStorage(cfg.SQLitePath)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return storage.NewRedisStorage(client), nil
	case "mongo":
		db, err := storage.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, err
		}
		s := storage.NewMongoStorage(db)
		if err := s.CreateIndexes(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
