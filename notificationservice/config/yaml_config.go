package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlStoreConfig struct {
	Backend         string `yaml:"backend"`
	PostgresDSN     string `yaml:"postgres_dsn"`
	CacheTTLMinutes int    `yaml:"cache_ttl_minutes"`
}

type YamlExpoConfig struct {
	PushURL     string `yaml:"push_url"`
	AccessToken string `yaml:"access_token"`
}

type YamlAPNSConfig struct {
	KeyID       string `yaml:"key_id"`
	TeamID      string `yaml:"team_id"`
	BundleID    string `yaml:"bundle_id"`
	Development bool   `yaml:"development"`
}

type YamlDeliveryConfig struct {
	DefaultProvider string         `yaml:"default_provider"`
	Expo            YamlExpoConfig `yaml:"expo"`
	APNS            YamlAPNSConfig `yaml:"apns"`
}

type YamlBroadcastConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type YamlEmailConfig struct {
	FromAddress string `yaml:"from_address"`
	FromName    string `yaml:"from_name"`
	AppName     string `yaml:"app_name"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
// Secrets (P8 key, Resend key, hook secret) only come from the environment.
type YamlConfig struct {
	ProjectID              string              `yaml:"project_id"`
	ListenAddr             string              `yaml:"listen_addr"`
	Variant                string              `yaml:"variant"`
	IdentityServiceURL     string              `yaml:"identity_service_url"`
	TopicID                string              `yaml:"topic_id"`
	SubscriptionID         string              `yaml:"subscription_id"`
	SubscriptionDLQTopicID string              `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig      `yaml:"cors"`
	StoreConfig            YamlStoreConfig     `yaml:"store"`
	RedisConfig            YamlRedisConfig     `yaml:"redis"`
	VapidConfig            YamlVapidConfig     `yaml:"vapid"`
	DeliveryConfig         YamlDeliveryConfig  `yaml:"delivery"`
	BroadcastConfig        YamlBroadcastConfig `yaml:"broadcast"`
	EmailConfig            YamlEmailConfig     `yaml:"email"`
	NumPipelineWorkers     int                 `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		Variant:            recipient.Kind(baseCfg.Variant),
		IdentityServiceURL: baseCfg.IdentityServiceURL,
		TopicID:            baseCfg.TopicID,
		SubscriptionID:     baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Store: StoreConfig{
			Backend:     baseCfg.StoreConfig.Backend,
			PostgresDSN: baseCfg.StoreConfig.PostgresDSN,
			CacheTTL:    time.Duration(baseCfg.StoreConfig.CacheTTLMinutes) * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		Delivery: DeliveryConfig{
			DefaultProvider: baseCfg.DeliveryConfig.DefaultProvider,
			Expo: ExpoConfig{
				PushURL:     baseCfg.DeliveryConfig.Expo.PushURL,
				AccessToken: baseCfg.DeliveryConfig.Expo.AccessToken,
			},
			APNS: APNSConfig{
				KeyID:       baseCfg.DeliveryConfig.APNS.KeyID,
				TeamID:      baseCfg.DeliveryConfig.APNS.TeamID,
				BundleID:    baseCfg.DeliveryConfig.APNS.BundleID,
				Development: baseCfg.DeliveryConfig.APNS.Development,
			},
		},
		Email: EmailConfig{
			FromAddress: baseCfg.EmailConfig.FromAddress,
			FromName:    baseCfg.EmailConfig.FromName,
			AppName:     baseCfg.EmailConfig.AppName,
		},
		BroadcastConcurrency:   baseCfg.BroadcastConfig.Concurrency,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"variant", cfg.Variant,
		"store", cfg.Store.Backend,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}
