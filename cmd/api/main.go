package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/silvabyte/godeploy-sub000/internal/app/migrate"
	"github.com/silvabyte/godeploy-sub000/internal/archive"
	httpx "github.com/silvabyte/godeploy-sub000/internal/http"
	"github.com/silvabyte/godeploy-sub000/internal/repository/postgres"
	"github.com/silvabyte/godeploy-sub000/internal/service/deploy"
	"github.com/silvabyte/godeploy-sub000/internal/service/domains"
	"github.com/silvabyte/godeploy-sub000/internal/service/project"
	"github.com/silvabyte/godeploy-sub000/internal/storage"
	"github.com/silvabyte/godeploy-sub000/internal/ws"
	"github.com/silvabyte/godeploy-sub000/pkg/config"
	"github.com/silvabyte/godeploy-sub000/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	storageCfg := storage.Config{
		Bucket:         cfg.StorageBucket,
		BucketPrefix:   cfg.StorageBucketPrefix,
		Region:         cfg.StorageRegion,
		Endpoint:       cfg.StorageEndpoint,
		AccessKeyID:    cfg.StorageAccessKeyID,
		SecretKey:      cfg.StorageSecretKey,
		ForcePathStyle: cfg.StorageForcePathStyle,
		Concurrency:    cfg.UploadConcurrency,
		PartSize:       cfg.UploadPartSize,
	}
	s3Client, err := storage.NewClient(ctx, storageCfg)
	if err != nil {
		log.Error("failed to configure object storage", "error", err)
		os.Exit(1)
	}
	uploader := storage.NewUploader(s3Client, storageCfg, log)

	staging, err := archive.NewStaging(cfg.ScratchRoot)
	if err != nil {
		log.Error("failed to prepare scratch root", "error", err)
		os.Exit(1)
	}
	validator := archive.NewValidator(staging)

	hub := ws.NewHub()

	domainSvc := domains.New(repo, nil, cfg.CNAMETarget, cfg.DNSTimeout, log)
	projectSvc := project.New(repo, repo, domainSvc, log)
	deploySvc := deploy.New(repo, staging, validator, uploader, hub, deploy.Config{
		SiteDomainSuffix: cfg.SiteDomainSuffix,
		UploadTimeout:    cfg.UploadTimeout,
	}, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, projectSvc, deploySvc, domainSvc, hub, httpx.Config{
		JWTSecret:      cfg.JWTSecret,
		MaxArchiveSize: cfg.MaxArchiveSize,
		EventBuffer:    cfg.DeployEventBuffer,
		Limiter:        limiter,
		DBHealth:       pool.Ping,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
