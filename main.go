package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ms-contest/internal/auth"
	"ms-contest/internal/config"
	"ms-contest/internal/database"
	"ms-contest/internal/kafka"
	"ms-contest/internal/ledger"
	"ms-contest/internal/ledger/badgerstore"
	"ms-contest/internal/ledger/ledger_api"
	rediswrap "ms-contest/internal/ledger/redis"
	"ms-contest/internal/logger"
	"ms-contest/internal/share"
	"ms-contest/internal/sse"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Addr, client.Options().DB))
	return client
}

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log := logger.NewLogger(cfg.LogDir)
	defer log.Close()

	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	log.Info("APP", "Starting Contest Service initialization")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	store, err := database.OpenLedgerStore(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open %s store: %v", cfg.Database.Driver, err))
	}
	defer store.Close()
	if kv, ok := store.DBLayer.(*badgerstore.Store); ok {
		go kv.RunGC(ctx, 10*time.Minute)
	}
	log.Info("DATABASE", fmt.Sprintf("✅ Ledger store ready (%s)", store.Driver))

	// --- Redis lock and cache ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = connectRedis(ctx, cfg.Redis, log)
		defer redisClient.Close()
	}

	var lock ledger.UnitLock = ledger.NewLocalLocker()
	if cfg.Redis.LockBackend == config.LockRedis {
		lock = rediswrap.NewLocker(redisClient, cfg.Redis.LockTTL, cfg.Redis.LockRetry, log)
		log.Info("LOCK", "Using Redis unit lock")
	}

	var cache ledger.LeaderboardCache
	if redisClient != nil && cfg.Redis.LeaderboardTTL > 0 {
		cache = rediswrap.NewLeaderboardCache(redisClient, cfg.Redis.LeaderboardTTL, log)
		log.Info("REDIS", fmt.Sprintf("Leaderboard cache enabled (ttl %s)", cfg.Redis.LeaderboardTTL))
	}

	// --- Events ---
	var events ledger.EventPublisher
	var producer *kafka.Producer
	var localEvents *ledger.LocalPublisher
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.Topic}, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer producer.Close()
		events = producer
		log.Info("KAFKA", "Kafka producer initialized successfully")
	} else {
		localEvents = ledger.NewLocalPublisher(256)
		events = localEvents
		log.Info("EVENTS", "Kafka disabled, delivering contest events in-process")
	}

	svc := ledger.NewService(store, lock, cache, events, log, ledger.OptionsFromConfig(cfg.Contest))

	// --- Live leaderboard ---
	emitter := sse.NewLeaderboardEmitter()
	notifier := ledger.NewLeaderboardNotifier(svc, emitter, log)
	if producer != nil {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		go consumer.Start(ctx, notifier.HandleEvent)
	} else {
		localEvents.Subscribe(notifier.HandleEvent)
		go localEvents.Run(ctx)
	}
	notifier.Prime(ctx)

	// --- HTTP ---
	adminAuth, err := auth.NewAdminAuth(ctx, cfg.Admin, log)
	if err != nil {
		log.Fatal("AUTH", err.Error())
	}
	if !adminAuth.Enabled() {
		log.Warn("AUTH", "No ADMIN_TOKEN or OIDC_ISSUER configured, admin routes are disabled")
	}

	limiter := ledger_api.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go limiter.RunSweeper(ctx, 10*time.Minute)

	handler := ledger_api.NewHandler(svc, emitter, log)
	handler.QR = share.NewQRGenerator(cfg.Server.PublicURL)
	server := &http.Server{
		Addr: cfg.Server.Port,
		Handler: handler.Routes(ledger_api.RouterOptions{
			Admin:       adminAuth.Middleware,
			Limiter:     limiter,
			CORSOrigins: cfg.Server.CORSOrigins,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Contest Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP", fmt.Sprintf("HTTP server error: %v", err))
			stop()
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
		os.Exit(1)
	}
	log.Info("HTTP", "✅ Contest Service shutdown complete")
}
