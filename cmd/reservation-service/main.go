package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-reservation/internal/config"
	"ms-reservation/internal/database/migrations"
	"ms-reservation/internal/kafka"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/qr"
	"ms-reservation/internal/reservation"
	"ms-reservation/internal/reservation/api"
	resdb "ms-reservation/internal/reservation/db"
	residem "ms-reservation/internal/reservation/redis"
	"ms-reservation/internal/sse"
)

func main() {
	_ = godotenv.Load() // Loads .env file if present

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- PostgreSQL Setup ---
	sqldb, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open Postgres: %v", err))
	}
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}
	log.Info("DATABASE", fmt.Sprintf("Connected to Postgres at %s:%s/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.Database))

	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, cfg.Database.Migrations)
		if err := runner.MigrateUp(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
		defer runner.Close()
		log.Info("DATABASE", "Migrations applied")
	}

	// --- Redis Setup (idempotency guard + capacity feed fan-out) ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Redis: %v", err))
		}
		log.Info("DATABASE", fmt.Sprintf("Connected to Redis at %s", cfg.Redis.Addr))
	} else {
		log.Warn("DATABASE", "Redis disabled; idempotency keys and cross-instance feed fan-out are off")
	}

	// --- Kafka Setup ---
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicExists(cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Could not ensure topic %s: %v", cfg.Kafka.Topic, err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		log.Info("KAFKA", fmt.Sprintf("Producer ready on topic %s", cfg.Kafka.Topic))
	}

	// --- Initialize Dependencies ---
	feed := sse.NewCapacityFeed(redisClient, cfg.Redis.FeedChannel, log)
	feed.Start(ctx)

	dbLayer := &resdb.DB{Bun: bunDB}

	var events reservation.EventPublisher
	if producer != nil {
		events = producer
	}
	service := reservation.NewService(dbLayer, feed, events, idemGuard(redisClient, log), log, cfg.Venue)

	handler := api.NewHandler(service, qr.NewQRGenerator(cfg.QRSecret), log)
	sseHandler := api.NewSSEHandler(feed, service, log)

	// --- Setup Router ---
	r := chi.NewRouter()

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/bookings", handler.CreateBooking)
		r.Get("/bookings/{bookingID}", handler.GetBooking)
		r.Get("/bookings/{bookingID}/qr", handler.BookingQR)
		r.Get("/slots", handler.ListSlots)
		r.Get("/capacity", handler.ListCapacities)
		r.Get("/capacity/stream", sseHandler.HandleCapacityStream)
		r.Get("/capacity/stream/{slotID}", sseHandler.HandleSlotCapacityStream)

		r.Route("/admin", func(r chi.Router) {
			r.Use(api.AdminOnly(cfg.Admin.Token))
			r.Get("/bookings", handler.ListBookings)
			r.Delete("/bookings/{bookingID}", handler.CancelBooking)
			r.Patch("/bookings/{bookingID}/complete", handler.CompleteBooking)
		})
	})

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("Reservation service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("SERVER", "Shutdown signal received, cleaning up")

	cancel()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("SERVER", fmt.Sprintf("Server forced to shutdown: %v", err))
	}
	log.Info("SERVER", "Server exited gracefully")
}

func idemGuard(redisClient *redis.Client, log *logger.Logger) reservation.IdempotencyGuard {
	if redisClient == nil {
		return nil
	}
	return residem.NewRedis(redisClient, log)
}
