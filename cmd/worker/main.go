package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/hardian-n/otomatisin/internal/config"
	"github.com/hardian-n/otomatisin/internal/logger"
	"github.com/hardian-n/otomatisin/services"
	"github.com/hardian-n/otomatisin/workers"
)

func main() {
	// Load Config
	configPath := os.Getenv("OTOMATISIN_CONFIG_PATH")

	if err := config.LoadConfig(configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init(config.App.Log); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	logger.Infof("Starting workers...")

	if !config.App.InboxPoll.Enabled {
		logger.Infof("Inbox polling disabled (INBOX_POLL_ENABLED=false), nothing to run")
		return
	}

	// Database connection
	if config.App.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable (or config) is required")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	if err := pg.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	if _, err := pg.Exec("SET TIME ZONE 'UTC'"); err != nil {
		logger.Warnf("Failed to set timezone to UTC: %v", err)
	}
	logger.Infof("Connected to database successfully")

	if config.App.RedisURL == "" {
		log.Fatal("REDIS_URL environment variable (or config) is required")
	}
	redisOpts, err := redis.ParseURL(config.App.RedisURL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Initialize services
	container := services.NewContainer(pg, redisClient, config.App)

	pollWorker := workers.NewInboxPollingWorker(
		container.Integrations,
		container.ThreadsInbox,
		container.TelegramInbox,
		workers.PollOptionsFromConfig(config.App.InboxPoll),
		time.Duration(config.App.InboxPoll.IntervalSec)*time.Second,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pollWorker.Start(ctx); err != nil {
		log.Fatalf("Failed to start inbox polling: %v", err)
	}

	// Wait for interrupt signal
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	logger.Infof("Workers started successfully. Press Ctrl+C to stop.")
	<-c

	logger.Infof("Shutting down workers...")
	pollWorker.Stop()
	if dropped := container.Scheduler.Stop(); dropped > 0 {
		logger.Warnf("Dropped %d delayed replies on shutdown", dropped)
	}
}
