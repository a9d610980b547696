package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"ms-reservation/internal/slots"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Venue    VenueConfig
	Admin    AdminConfig
	QRSecret string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host        string
	Port        string
	Username    string
	Password    string
	Database    string
	AutoMigrate bool
	Migrations  string
}

type RedisConfig struct {
	Addr    string
	Enabled bool
	// Channel used for cross-instance capacity fan-out.
	FeedChannel string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// VenueConfig describes the fixed operating window and seating capacity.
// Every hour slot shares the same venue-wide total capacity.
type VenueConfig struct {
	TotalCapacity int
	OpenHour      int
	CloseHour     int
}

type AdminConfig struct {
	// Token expected in X-Admin-Token on admin routes. The actual identity
	// check lives upstream; this is only the shared-secret handoff.
	Token string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnv("DB_PORT", "5432"),
			Username:    getEnv("DB_USERNAME", "reservation_user"),
			Password:    getEnv("DB_PASSWORD", "reservation_pass"),
			Database:    getEnv("DB_NAME", "reservations"),
			AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", true),
			Migrations:  getEnv("DB_MIGRATIONS_DIR", "./migrations"),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", "localhost:6379"),
			Enabled:     getEnvBool("REDIS_ENABLED", true),
			FeedChannel: getEnv("REDIS_FEED_CHANNEL", "capacity-feed"),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			Topic:   getEnv("KAFKA_TOPIC_RESERVATIONS", "reservation-events"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
		},
		Venue: VenueConfig{
			TotalCapacity: getEnvInt("VENUE_TOTAL_CAPACITY", 40),
			OpenHour:      getEnvInt("VENUE_OPEN_HOUR", slots.DefaultOpenHour),
			CloseHour:     getEnvInt("VENUE_CLOSE_HOUR", slots.DefaultCloseHour),
		},
		Admin: AdminConfig{
			Token: getEnv("ADMIN_TOKEN", ""),
		},
		QRSecret: getEnv("QR_SECRET", "reservation-secret"),
	}
}

// DSN builds the postgres connection string for lib/pq.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
