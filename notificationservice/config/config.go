package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// Store backends.
const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreMemory    = "memory"
)

// Native transports for tokens that are neither Expo tokens nor web push subscriptions.
const (
	ProviderFCM  = "fcm"
	ProviderAPNS = "apns"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type StoreConfig struct {
	Backend     string
	PostgresDSN string
	// CacheTTL applies when Redis is enabled.
	CacheTTL time.Duration
}

type ExpoConfig struct {
	PushURL     string
	AccessToken string
}

type APNSConfig struct {
	KeyID       string
	TeamID      string
	BundleID    string
	P8Key       string
	Development bool
}

// Configured reports whether enough credentials are present to sign APNs requests.
func (c APNSConfig) Configured() bool {
	return c.KeyID != "" && c.TeamID != "" && c.BundleID != "" && c.P8Key != ""
}

type DeliveryConfig struct {
	DefaultProvider string
	Expo            ExpoConfig
	APNS            APNSConfig
}

type EmailConfig struct {
	ResendAPIKey string
	FromAddress  string
	FromName     string
	AppName      string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	Variant                recipient.Kind
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	BroadcastConcurrency   int
	OTPHookSecret          string
	IdentityServiceURL     string

	CorsConfig middleware.CorsConfig
	Store      StoreConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	Delivery   DeliveryConfig
	Email      EmailConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether asynchronous ingestion should run.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	override := func(key string, dest *string) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			*dest = val
		}
	}

	override("PROJECT_ID", &cfg.ProjectID)
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("VARIANT"); val != "" {
		logger.Debug("Overriding config value", "key", "VARIANT", "source", "env")
		cfg.Variant = recipient.Kind(val)
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	override("SUBSCRIPTION_DLQ_TOPIC_ID", &cfg.SubscriptionDLQTopicID)
	override("TOPIC_ID", &cfg.TopicID)
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}
	if val := os.Getenv("BROADCAST_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			logger.Debug("Overriding config value", "key", "BROADCAST_CONCURRENCY", "source", "env")
			cfg.BroadcastConcurrency = n
		}
	}
	override("OTP_HOOK_SECRET", &cfg.OTPHookSecret)
	override("IDENTITY_SERVICE_URL", &cfg.IdentityServiceURL)

	// Store Overrides
	override("STORE_BACKEND", &cfg.Store.Backend)
	override("DATABASE_URL", &cfg.Store.PostgresDSN)

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID Overrides
	override("VAPID_PUBLIC_KEY", &cfg.Vapid.PublicKey)
	override("VAPID_PRIVATE_KEY", &cfg.Vapid.PrivateKey)
	override("VAPID_SUB_EMAIL", &cfg.Vapid.SubscriberEmail)

	// Delivery Overrides
	override("DEFAULT_PUSH_PROVIDER", &cfg.Delivery.DefaultProvider)
	override("EXPO_PUSH_URL", &cfg.Delivery.Expo.PushURL)
	override("EXPO_ACCESS_TOKEN", &cfg.Delivery.Expo.AccessToken)
	override("APNS_KEY_ID", &cfg.Delivery.APNS.KeyID)
	override("APNS_TEAM_ID", &cfg.Delivery.APNS.TeamID)
	override("APNS_BUNDLE_ID", &cfg.Delivery.APNS.BundleID)
	override("APNS_P8_KEY", &cfg.Delivery.APNS.P8Key)
	if val := os.Getenv("APNS_DEVELOPMENT"); val != "" {
		cfg.Delivery.APNS.Development, _ = strconv.ParseBool(val)
	}

	// Email Overrides
	override("RESEND_API_KEY", &cfg.Email.ResendAPIKey)
	override("EMAIL_FROM_ADDRESS", &cfg.Email.FromAddress)
	override("EMAIL_FROM_NAME", &cfg.Email.FromName)

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	kind, err := recipient.ParseKind(string(cfg.Variant))
	if err != nil {
		return nil, fmt.Errorf("invalid variant %q: %w", cfg.Variant, err)
	}
	cfg.Variant = kind

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreFirestore
	}
	switch cfg.Store.Backend {
	case StoreFirestore:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required for the firestore store (set via YAML or PROJECT_ID env var)")
		}
	case StorePostgres:
		if cfg.Store.PostgresDSN == "" {
			return nil, fmt.Errorf("store.postgres_dsn is required for the postgres store (set via YAML or DATABASE_URL env var)")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	if cfg.Delivery.DefaultProvider == "" {
		cfg.Delivery.DefaultProvider = ProviderFCM
	}
	if cfg.Delivery.DefaultProvider != ProviderFCM && cfg.Delivery.DefaultProvider != ProviderAPNS {
		return nil, fmt.Errorf("delivery.default_provider must be %q or %q", ProviderFCM, ProviderAPNS)
	}
	if cfg.PipelineEnabled() && cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required when subscription_id is set")
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.BroadcastConcurrency <= 0 {
		cfg.BroadcastConcurrency = 1
	}
	if cfg.Store.CacheTTL <= 0 {
		cfg.Store.CacheTTL = 24 * time.Hour
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
