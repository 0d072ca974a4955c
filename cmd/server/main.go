package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/postwave/postwave/internal/api"
	"github.com/postwave/postwave/internal/channel"
	"github.com/postwave/postwave/internal/config"
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

	tokens := token.New(cfg.Tracking.Secret)
	injector := tracking.NewInjector(tokens, cfg.Tracking.BaseURL)
	trackers := tracking.NewHandler(tracking.NewRecorder(tokens, db))

	registry := channel.NewRegistry(db, db, httpretry.New(nil, 3), cfg.Dispatch.SendTimeout())
	registry.SetSESDefaults(channel.SESSettings{
		Region:    cfg.SES.Region,
		AccessKey: cfg.SES.AccessKey,
		SecretKey: cfg.SES.SecretKey,
	})

	srv := api.NewServer(db, segment.New(db.DB()), template.New(), registry, injector, trackers)

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("api listening", "addr", cfg.Server.Addr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down api")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(ctx)
}
