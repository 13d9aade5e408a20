package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/email-relay/internal/config"
	"github.com/ignite/email-relay/internal/delivery"
	"github.com/ignite/email-relay/internal/pkg/distlock"
	"github.com/ignite/email-relay/internal/repository/postgres"
	"github.com/ignite/email-relay/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

func main() {
	log.Println("email-relay maintenance worker starting (cmd/worker/main.go)")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required for the maintenance worker")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Database unreachable: %v", err)
	}
	pingCancel()
	log.Println("[db] connected")

	// Redis lock keeps multi-instance deployments down to one sweeper;
	// without Redis the lock falls back to a Postgres advisory lock.
	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to parse REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}
	lock := distlock.NewLock(redisClient, db, "maintenance", 2*cfg.Maintenance.Interval())

	deliverySvc := delivery.NewService(postgres.NewDeliveryRepo(db), postgres.NewContactRepo(db))

	maint := worker.NewMaintenance(postgres.NewEventRepo(db), deliverySvc, lock, worker.MaintenanceConfig{
		Interval:        cfg.Maintenance.Interval(),
		BatchSize:       cfg.Maintenance.BatchSize,
		RetentionDays:   cfg.Maintenance.RetentionDays,
		ReconcileMaxAge: cfg.Maintenance.ReconcileMaxAge(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go maint.Start(ctx)
	log.Printf("[worker] maintenance loop started, interval %s, retention %d days",
		cfg.Maintenance.Interval(), cfg.Maintenance.RetentionDays)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	log.Println("Shutting down...")
	cancel()
	maint.Stop()
	log.Println("Worker stopped")
}
