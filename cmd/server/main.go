package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ignite/email-relay/internal/api"
	"github.com/ignite/email-relay/internal/config"
	"github.com/ignite/email-relay/internal/delivery"
	"github.com/ignite/email-relay/internal/dispatch"
	"github.com/ignite/email-relay/internal/events"
	"github.com/ignite/email-relay/internal/ratelimit"
	"github.com/ignite/email-relay/internal/repository/postgres"
	"github.com/ignite/email-relay/internal/webhook"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

func main() {
	log.Println("email-relay server starting (cmd/server/main.go)")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	var db *sql.DB
	if cfg.Database.URL != "" {
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(5 * time.Minute)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			log.Printf("[db] WARNING: database unreachable at startup: %v", err)
		} else {
			log.Println("[db] connected")
		}
		pingCancel()
		defer db.Close()
	} else {
		log.Println("[db] no DATABASE_URL configured, delivery state will not persist")
	}

	// Redis (optional, for the shared rate-limit window and distlock)
	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to parse REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		log.Println("[redis] client configured")
	}

	// Send budget limiter, backend per config
	var sendLimiter ratelimit.Limiter
	switch cfg.RateLimit.Backend {
	case "redis":
		if redisClient == nil {
			log.Fatal("rate_limit.backend is redis but no REDIS_URL configured")
		}
		sendLimiter = ratelimit.NewRedisWindow(redisClient, "dispatch", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window())
	case "postgres":
		if db == nil {
			log.Fatal("rate_limit.backend is postgres but no DATABASE_URL configured")
		}
		sendLimiter = postgres.NewSQLWindow(db, "dispatch", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window())
	default:
		sendLimiter = ratelimit.NewWindow(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window())
	}
	log.Printf("[ratelimit] %s backend, %d per %s", cfg.RateLimit.Backend, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window())

	// Sending provider. One gateway per process; the first enabled
	// provider wins.
	var provider dispatch.ProviderClient
	switch {
	case cfg.SparkPost.Enabled:
		provider = dispatch.NewSparkPostClient(cfg.SparkPost.APIKey, cfg.SparkPost.BaseURL, cfg.SparkPost.Timeout())
		log.Println("[dispatch] SparkPost provider enabled")
	case cfg.Mailgun.Enabled:
		provider = dispatch.NewMailgunClient(cfg.Mailgun.APIKey, cfg.Mailgun.BaseURL, cfg.Mailgun.Domain, cfg.Mailgun.Timeout())
		log.Println("[dispatch] Mailgun provider enabled")
	case cfg.SES.Enabled:
		sesClient, err := dispatch.NewSESClient(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region, cfg.SES.Timeout())
		if err != nil {
			log.Fatalf("Failed to initialize SES client: %v", err)
		}
		provider = sesClient
		log.Println("[dispatch] SES provider enabled")
	default:
		log.Println("[dispatch] WARNING: no sending provider configured, /api/send will refuse requests")
	}

	var gateway *dispatch.Gateway
	if provider != nil {
		gateway = dispatch.NewGateway(provider, sendLimiter, dispatch.GatewayConfig{
			MaxRetries: cfg.Dispatch.MaxRetries,
			BaseDelay:  cfg.Dispatch.BaseDelay(),
			MaxDelay:   cfg.Dispatch.MaxDelay(),
		})
	}

	// Delivery state and webhook ingestion need the database
	var deliverySvc *delivery.Service
	var webhookHandler *webhook.Handler
	if db != nil {
		deliverySvc = delivery.NewService(postgres.NewDeliveryRepo(db), postgres.NewContactRepo(db))

		ingestor := webhook.NewIngestor(
			ratelimit.NewWebhookLimiter(cfg.Webhook.GlobalCap, cfg.Webhook.PerIPCap, cfg.Webhook.Window()),
			webhook.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.SignatureMandatory),
			postgres.NewEventRepo(db),
			deliverySvc,
		)

		if cfg.Events.Enabled && cfg.Events.SQSQueueURL != "" {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Events.AWSRegion))
			if err != nil {
				log.Printf("[events] WARNING: AWS config failed, event fan-out disabled: %v", err)
			} else {
				ingestor.SetPublisher(events.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.Events.SQSQueueURL))
				log.Println("[events] SQS delivery-event publisher enabled")
			}
		}

		webhookHandler = webhook.NewHandler(ingestor)
		log.Println("[webhook] ingestion endpoints enabled")
	} else {
		log.Println("[webhook] ingestion disabled, requires a database")
	}

	handlers := api.NewHandlers(gateway, deliverySvc, db)
	router := api.SetupRoutes(handlers, webhookHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
