// Package config collects the runtime settings of the tiergate service from
// the environment. Values are read once at startup; handlers receive the
// resulting struct instead of calling into env themselves.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
	"github.com/ManuelReschke/tiergate/internal/pkg/env"
)

const (
	RateLimitStoreRedis  = "redis"
	RateLimitStoreMemory = "memory"
)

type Database struct {
	Host        string
	Port        string
	User        string
	Password    string
	Name        string
	AutoMigrate bool
}

// DSN returns the MySQL connection string used by gorm.
func (d Database) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type Cache struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c Cache) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type Archive struct {
	Enabled   bool
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	Endpoint  string
}

type Config struct {
	Host string
	Port string

	Database Database
	Cache    Cache

	CardWebhookSecret string
	IAPWebhookToken   string
	IAPAPIKey         string
	IAPAPIBaseURL     string

	CardTiers *entitlements.TierTable
	IAPTiers  *entitlements.TierTable

	RateLimitStore   string
	RateLimitTimeout time.Duration
	ResolveTimeout   time.Duration

	AdminUser     string
	AdminPassword string

	Archive Archive
}

// Load builds a Config from env. env.SetupEnvFile should run first so that
// .env values take precedence over the process environment.
func Load() (*Config, error) {
	cardTiers, err := entitlements.ParseTierMap(env.GetEnv("TIER_MAP_CARD", ""))
	if err != nil {
		return nil, fmt.Errorf("TIER_MAP_CARD: %w", err)
	}
	iapTiers, err := entitlements.ParseTierMap(env.GetEnv("TIER_MAP_IAP", ""))
	if err != nil {
		return nil, fmt.Errorf("TIER_MAP_IAP: %w", err)
	}

	store := strings.ToLower(strings.TrimSpace(env.GetEnv("RATE_LIMIT_STORE", RateLimitStoreRedis)))
	if store != RateLimitStoreRedis && store != RateLimitStoreMemory {
		return nil, fmt.Errorf("RATE_LIMIT_STORE must be %q or %q, got %q", RateLimitStoreRedis, RateLimitStoreMemory, store)
	}

	cfg := &Config{
		Host: env.GetEnv("APP_HOST", "0.0.0.0"),
		Port: env.GetEnv("APP_PORT", "4000"),
		Database: Database{
			Host:        env.GetEnv("DB_HOST", "db"),
			Port:        env.GetEnv("DB_PORT", "3306"),
			User:        env.GetEnv("DB_USER", "tiergate"),
			Password:    env.GetEnv("DB_PASSWORD", ""),
			Name:        env.GetEnv("DB_NAME", "tiergate"),
			AutoMigrate: env.GetBool("DB_AUTO_MIGRATE", false),
		},
		Cache: Cache{
			Host:     env.GetEnv("CACHE_HOST", "cache"),
			Port:     env.GetInt("CACHE_PORT", 6379),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			DB:       env.GetInt("CACHE_DB", 0),
		},
		CardWebhookSecret: strings.TrimSpace(env.GetEnv("CARD_WEBHOOK_SECRET", "")),
		IAPWebhookToken:   strings.TrimSpace(env.GetEnv("IAP_WEBHOOK_TOKEN", "")),
		IAPAPIKey:         strings.TrimSpace(env.GetEnv("IAP_API_KEY", "")),
		IAPAPIBaseURL:     strings.TrimRight(env.GetEnv("IAP_API_BASE_URL", "https://api.revenuecat.com"), "/"),
		CardTiers:         cardTiers,
		IAPTiers:          iapTiers,
		RateLimitStore:    store,
		RateLimitTimeout:  env.GetDuration("RATE_LIMIT_TIMEOUT", 500*time.Millisecond),
		ResolveTimeout:    env.GetDuration("RESOLVE_TIMEOUT", 500*time.Millisecond),
		AdminUser:         env.GetEnv("ADMIN_USER", "admin"),
		AdminPassword:     env.GetEnv("ADMIN_PASSWORD", ""),
		Archive: Archive{
			Enabled:   env.GetBool("ARCHIVE_ENABLED", false),
			AccessKey: env.GetEnv("ARCHIVE_ACCESS_KEY", ""),
			SecretKey: env.GetEnv("ARCHIVE_SECRET_KEY", ""),
			Region:    env.GetEnv("ARCHIVE_REGION", "us-east-1"),
			Bucket:    env.GetEnv("ARCHIVE_BUCKET", ""),
			Endpoint:  env.GetEnv("ARCHIVE_ENDPOINT", ""),
		},
	}

	if cfg.Archive.Enabled && cfg.Archive.Bucket == "" {
		return nil, fmt.Errorf("ARCHIVE_BUCKET is required when ARCHIVE_ENABLED is set")
	}

	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}
