package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/postwave/postwave/internal/channel"
	"github.com/postwave/postwave/internal/config"
	"github.com/postwave/postwave/internal/dispatch"
	"github.com/postwave/postwave/internal/pkg/distlock"
	"github.com/postwave/postwave/internal/pkg/httpretry"
	"github.com/postwave/postwave/internal/pkg/logger"
	"github.com/postwave/postwave/internal/segment"
	"github.com/postwave/postwave/internal/store"
	"github.com/postwave/postwave/internal/template"
	"github.com/postwave/postwave/internal/token"
	"github.com/postwave/postwave/internal/tracking"
)

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	db, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	logger.Info("connected to database")

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, using advisory locks", "error", err.Error())
			rdb = nil
		}
	}

	tokens := token.New(cfg.Tracking.Secret)
	injector := tracking.NewInjector(tokens, cfg.Tracking.BaseURL)
	registry := channel.NewRegistry(db, db, httpretry.New(nil, 3), cfg.Dispatch.SendTimeout())
	registry.SetSESDefaults(channel.SESSettings{
		Region:    cfg.SES.Region,
		AccessKey: cfg.SES.AccessKey,
		SecretKey: cfg.SES.SecretKey,
	})

	lockTTL := cfg.Dispatch.ReconcileAfter()
	locks := func(key string) distlock.Lock {
		return distlock.New(rdb, db.DB(), key, lockTTL)
	}

	sched := dispatch.New(db, segment.New(db.DB()), template.New(), injector, registry, locks, dispatch.Options{
		PollInterval:   cfg.Dispatch.PollInterval(),
		WorkerCount:    cfg.Dispatch.WorkerCount,
		ReconcileAfter: cfg.Dispatch.ReconcileAfter(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down worker")
		cancel()
	}()

	sched.Run(ctx)
}
