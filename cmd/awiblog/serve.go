package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/awi-labs/awiblog/internal/api"
	"github.com/awi-labs/awiblog/internal/blog"
	tracing "github.com/awi-labs/awiblog/internal/observability"
	"github.com/awi-labs/awiblog/pkg/archive"
	"github.com/awi-labs/awiblog/pkg/config"
	"github.com/awi-labs/awiblog/pkg/observability"
	"github.com/awi-labs/awiblog/pkg/ratelimit"
	"github.com/awi-labs/awiblog/pkg/reputation"
	"github.com/awi-labs/awiblog/pkg/state"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Info("starting awiblog", "version", Version, "port", cfg.Port, "ops_port", cfg.OpsPort)

	observability.InitMetrics()
	if err := tracing.InitFromEnv(); err != nil {
		log.Warn("tracing init failed, continuing without traces", "error", err)
	}

	posts, err := blog.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open content store: %w", err)
	}
	defer posts.Close()

	backend, err := state.NewRedisBackend(state.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return fmt.Errorf("connect state backend: %w", err)
	}
	defer backend.Close()

	store := state.NewStore(backend, state.TTLConfig{
		Session: cfg.Session.TTL,
		Diff:    cfg.Session.DiffTTL,
		Cache:   cfg.Session.CacheTTL,
	})

	archiver, err := archive.NewFileArchiver(cfg.ArchivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiver.Close()

	sessions := state.NewManager(store, archiver, log)

	var requestLog ratelimit.RequestLog
	if cfg.RateLimit.Shared {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		requestLog = ratelimit.NewRedisLog(client, "")
	} else {
		requestLog = ratelimit.NewMemoryLog()
	}
	limiter := ratelimit.New(requestLog)

	handler := api.NewHandler(log, posts, sessions, limiter, cfg.Policy(), reputation.NewRegistry())
	router := api.NewRouter(handler, api.RouterConfig{
		ThrottleRPS:   cfg.Throttle.RequestsPerSecond,
		ThrottleBurst: cfg.Throttle.Burst,
	})

	// Background maintenance.
	jobs := cron.New()
	if _, err := jobs.AddFunc("@every "+cfg.RateLimit.CleanupInterval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := limiter.Cleanup(ctx); err != nil {
			log.Error("rate limit cleanup failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	jobs.Start()
	defer jobs.Stop()

	checker := observability.NewHealthChecker()
	checker.RegisterCheck(observability.RedisCheck(backend.Ping))
	checker.RegisterCheck(observability.DatabaseCheck(posts.Ping))
	opsServer := observability.NewServer(cfg.OpsPort, checker)

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api server listening", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("ops server listening", "port", cfg.OpsPort)
		if err := opsServer.Start(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error("api shutdown failed", "error", err)
		}
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("ops shutdown failed", "error", err)
		}
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Error("tracing shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
