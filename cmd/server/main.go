package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/HarbingerOfTheEnd/PricePulse/internal/config"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/database"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/domain"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/logging"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/redis"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/scraper"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/server"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/stream"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// redisPinger adapts the go-redis client to the server's health-check shape.
type redisPinger struct {
	client *goredis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func runGracefulShutdown(srv *server.Server, scheduler *stream.Scheduler) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		scheduler.Stop()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	userRepo := database.NewUserRepo(pool)
	productRepo := database.NewProductRepo(pool)
	sessionRepo := redis.NewSessionRepo(redisClient, cfg.SessionTTL)
	extractor := scraper.New(cfg.ScrapeRate, clock)

	registry := stream.NewRegistry(cfg.ChannelBuffer)

	// The broadcaster arms a key's polling job with its first
	// connection and disarms it with the last one; the scheduler
	// publishes through the broadcaster. Wire the cycle through a
	// late-bound pointer.
	var scheduler *stream.Scheduler
	broadcaster := stream.NewBroadcaster(registry,
		func(key domain.SubscriptionKey, url string) { scheduler.Arm(key, url) },
		func(key domain.SubscriptionKey) { scheduler.Disarm(key) },
	)
	scheduler = stream.NewScheduler(extractor, broadcaster.Publish, cfg.PollInterval, clock)

	srv := server.New(cfg, server.Deps{
		Users:     userRepo,
		Products:  productRepo,
		History:   productRepo,
		Sessions:  sessionRepo,
		Titles:    extractor,
		Broadcast: broadcaster,
		Clock:     clock,
		PGHealth:  pool,
		RDHealth:  redisPinger{client: redisClient},
	})

	done := runGracefulShutdown(srv, scheduler)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
