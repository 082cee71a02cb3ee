package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"

	"ms-registration/internal/checkin"
	"ms-registration/internal/config"
	"ms-registration/internal/database/migrations"
	"ms-registration/internal/datastore"
	"ms-registration/internal/idempotency"
	"ms-registration/internal/kafka"
	"ms-registration/internal/logger"
	"ms-registration/internal/middleware"
	"ms-registration/internal/notify"
	"ms-registration/internal/payment"
	handlers "ms-registration/internal/payment/handler"
	"ms-registration/internal/payment/services"
	"ms-registration/internal/registration"
	"ms-registration/internal/registration/api"
	"ms-registration/internal/utils"
)

func openStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) *datastore.Store {
	if cfg.Driver == "sqlite" {
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file:registration.db"
		}
		store, err := datastore.OpenSQLite(ctx, dsn)
		if err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Failed to open SQLite: %v", err))
		}
		log.Info("DATABASE", fmt.Sprintf("SQLite store ready at %s", dsn))
		return store
	}

	pool := datastore.PoolOptions{
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
		MaxLifetime:  cfg.MaxLifetime,
	}
	var store *datastore.Store
	var err error
	for i := 0; i < cfg.ConnRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, cfg.ConnRetries))
		store, err = datastore.OpenPostgres(ctx, cfg.DSN, pool)
		if err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < cfg.ConnRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", cfg.ConnRetries, err))
	}
	log.Info("DATABASE", "PostgreSQL connection successful")

	if cfg.AutoMigrate {
		// The runner is not closed: closing it would close the shared *sql.DB.
		if err := migrations.NewRunner(store.Bun, log).MigrateUp(); err != nil {
			log.Fatal("MIGRATE", fmt.Sprintf("Schema migration failed: %v", err))
		}
	}
	return store
}

func openCache(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (idempotency.Cache, func()) {
	if !cfg.Enabled {
		log.Info("REDIS", "Redis disabled, idempotency checks go straight to the datastore")
		return idempotency.NopCache{}, func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Redis connection error, continuing without cache: %v", err))
		client.Close()
		return idempotency.NopCache{}, func() {}
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, client.Options().DB))
	return idempotency.NewRedisCache(client, cfg.TTL), func() { client.Close() }
}

type capacityChanged struct {
	EventID string `json:"event_id"`
}

// promoteOnCapacityChange fills seats when the CMS raises an event's capacity.
func promoteOnCapacityChange(waitlist *registration.WaitlistManager, log *logger.Logger) func(context.Context, kafkago.Message) error {
	return func(ctx context.Context, msg kafkago.Message) error {
		var evt capacityChanged
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("decode capacity change: %w", err)
		}
		if evt.EventID == "" {
			return errors.New("capacity change without event_id")
		}
		promoted, err := waitlist.FillFreedCapacity(ctx, evt.EventID)
		log.LogWaitlist("CAPACITY", evt.EventID, fmt.Sprintf("%d promoted after capacity change", len(promoted)))
		return err
	}
}

func health(store *datastore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Bun.PingContext(ctx); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("unhealthy", err.Error()))
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	}
}

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log, err := logger.NewLogger(logger.Options{
		Service:  "registration",
		Dir:      cfg.Log.Dir,
		MinLevel: logger.ParseLevel(cfg.Log.Level),
		Color:    cfg.Log.Color,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	log.Info("APP", "Starting Registration Service initialization")
	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := openStore(ctx, cfg.Database, log)
	defer store.Close()

	cache, closeCache := openCache(ctx, cfg.Redis, log)
	defer closeCache()

	stripeService, err := services.NewStripeService(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, log)
	if err != nil {
		log.Fatal("STRIPE", err.Error())
	}

	var passIssuer notify.PassIssuer
	var passVerifier api.PassVerifier
	if cfg.CheckIn.Secret != "" {
		passes, err := checkin.NewPassGenerator(cfg.CheckIn.Secret)
		if err != nil {
			log.Fatal("CHECKIN", err.Error())
		}
		passIssuer, passVerifier = passes, passes
	} else {
		log.Warn("CHECKIN", "CHECKIN_SECRET not set, messages go out without check-in passes")
	}

	var notifier registration.Notifier = notify.LogNotifier{Logger: log}
	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.MessagesTopic, cfg.Kafka.CapacityTopic}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.MessagesTopic, log)
		defer producer.Close()
		notifier = notify.NewKafkaNotifier(producer, passIssuer, log)
		log.Info("KAFKA", "Kafka producer initialized successfully")
	}

	deps := registration.Deps{
		Store:    store,
		Gateway:  stripeService,
		Notifier: notifier,
		Logger:   log,
	}
	waitlist := registration.NewWaitlistManager(deps)
	admissions := registration.NewAdmissionController(deps, waitlist)
	reconciler := payment.NewReconciler(payment.ReconcilerDeps{
		Store:    store,
		Gateway:  stripeService,
		Gate:     idempotency.NewGate(cache, log),
		Waitlist: waitlist,
		Notifier: notifier,
		Logger:   log,
	})

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.CapacityTopic, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		go consumer.Start(ctx, promoteOnCapacityChange(waitlist, log))
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	defer limiter.Stop()

	registrationHandler := api.NewHandler(admissions, waitlist, passVerifier, api.RetryPolicy{
		Attempts:   cfg.Admission.RetryAttempts,
		MaxBackoff: cfg.Admission.MaxBackoff,
	}, log)
	webhookHandler := handlers.NewWebhookHandler(reconciler, log)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(log))

	r.Get("/health", health(store))
	r.Route("/api", func(r chi.Router) {
		registrationHandler.RegisterRoutes(r, limiter.Middleware)
		r.Post("/webhooks/stripe", webhookHandler.StripeWebhook)
	})
	log.Info("ROUTER", "Registration and webhook routes registered under /api")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Registration Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "Registration Service shutdown complete")
	}
}
