package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"calltrack-platform/internal/calltrack"
	"calltrack-platform/internal/config"
	"calltrack-platform/internal/httpapi"
	"calltrack-platform/internal/ingest"
	"calltrack-platform/internal/metrics"
	"calltrack-platform/internal/store"
	"calltrack-platform/pkg/logger"
	"calltrack-platform/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := store.NewPostgresRepo(db)
	if err := repo.InitSchema(rootCtx); err != nil {
		log.Error("schema init failed", "err", err)
		os.Exit(1)
	}

	// Redis is optional; without it the response cache and refresh lock
	// are disabled.
	var rdb *redis.Client
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	} else {
		log.Warn("redis not configured; response cache and refresh lock disabled")
	}

	var provider ingest.Lister
	if cfg.ProviderConfigured() {
		client, err := calltrack.NewClient(calltrack.ClientConfig{
			APIKey:    cfg.Provider.APIKey,
			AccountID: cfg.Provider.AccountID,
			BaseURL:   cfg.Provider.BaseURL,
		})
		if err != nil {
			log.Error("provider client init failed", "err", err)
			os.Exit(1)
		}
		provider = client
	} else {
		log.Warn("provider credentials not configured; refresh endpoint disabled")
	}

	h := httpapi.Handlers{
		Metrics: metrics.NewService(repo, cfg.Metrics),
		Ingest:  ingest.NewService(repo, provider),
		Repo:    repo,
		Cache:   httpapi.NewCache(rdb, cfg.Metrics.CacheTTL),
		RDB:     rdb,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
