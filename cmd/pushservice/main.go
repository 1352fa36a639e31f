package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	firebase "firebase.google.com/go/v4"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/platform"
	"github.com/tinywideclouds/go-push-broadcast-service/internal/platform/apns"
	"github.com/tinywideclouds/go-push-broadcast-service/internal/platform/email"
	"github.com/tinywideclouds/go-push-broadcast-service/internal/platform/expo"
	"github.com/tinywideclouds/go-push-broadcast-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-broadcast-service/internal/platform/web"
	"github.com/tinywideclouds/go-push-broadcast-service/internal/pushcomponent"
	"github.com/tinywideclouds/go-push-broadcast-service/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-broadcast-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-broadcast-service/internal/storage/memory"
	"github.com/tinywideclouds/go-push-broadcast-service/internal/storage/postgres"
	"github.com/tinywideclouds/go-push-broadcast-service/notificationservice"
	"github.com/tinywideclouds/go-push-broadcast-service/notificationservice/config"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-broadcast-service")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}
	logger = logger.With("variant", cfg.Variant)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// --- Recipient Store (Decorated) ---
	store, closeStore, err := newRecipientStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Recipient store failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// Without Redis the registry is rebuilt from the store on Start; pause flags do not survive a restart.
	var tokenRegistry pushcomponent.Registry = pushcomponent.NewMemoryRegistry()
	if !cfg.Redis.Enabled && cfg.Store.Backend != config.StoreMemory {
		logger.Warn("Push registry is in-process; pause state is lost on restart", "store", cfg.Store.Backend)
	}
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = cache.NewCachedRecipientStore(store, redisClient, cfg.Store.CacheTTL, logger)
		tokenRegistry = pushcomponent.NewRedisRegistry(redisClient.Client())
		logger.Info("RecipientStore upgraded", "type", "redis_cached_"+cfg.Store.Backend)
	}

	// --- Delivery ---
	router, err := newRouter(ctx, cfg, logger)
	if err != nil {
		logger.Error("Delivery setup failed", "err", err)
		os.Exit(1)
	}

	deps := notificationservice.Dependencies{
		Store:     store,
		Component: pushcomponent.New(tokenRegistry, router, logger),
		Registry:  registry,
	}

	// --- Email (optional) ---
	if cfg.Email.ResendAPIKey != "" {
		deps.Mailer = email.NewMailer(email.Config{
			ResendAPIKey: cfg.Email.ResendAPIKey,
			FromAddress:  cfg.Email.FromAddress,
			FromName:     cfg.Email.FromName,
			AppName:      cfg.Email.AppName,
		}, registry, logger)
		logger.Info("OTP email hook enabled")
	}

	// --- Auth ---
	if cfg.Variant == recipient.KindUser {
		identityURL := cfg.IdentityServiceURL
		if identityURL == "" {
			identityURL = "http://localhost:3000"
		}
		jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
		if err != nil {
			logger.Error("JWT discovery failed", "identity_url", identityURL, "err", err)
			os.Exit(1)
		}
		deps.AuthMiddleware, err = middleware.NewJWKSAuthMiddleware(jwksURL, logger)
		if err != nil {
			logger.Error("Auth middleware failed", "err", err)
			os.Exit(1)
		}
	}

	// --- Consumer (optional) ---
	if cfg.PipelineEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		deps.Consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Ingestion consumer failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := notificationservice.New(cfg, deps, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", "err", err)
		}
	}()

	logger.Info("Starting service...", "addr", cfg.ListenAddr)
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newRecipientStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (recipient.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		if err := postgres.RunMigrations(cfg.Store.PostgresDSN); err != nil {
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		logger.Info("RecipientStore initialized", "type", "postgres")
		return postgres.NewStore(pool), pool.Close, nil

	case config.StoreMemory:
		logger.Warn("RecipientStore initialized in memory; recipients are lost on restart")
		return memory.NewStore(), func() {}, nil

	default:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		logger.Info("RecipientStore initialized", "type", "firestore")
		return fsStore.NewFirestoreStore(fsClient), func() { _ = fsClient.Close() }, nil
	}
}

// newRouter builds one sender per transport. Expo and Web Push are always available;
// the native route follows delivery.default_provider.
func newRouter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.Sender, error) {
	router := &platform.Router{
		Expo: expo.NewSender(expo.Config{
			PushURL:     cfg.Delivery.Expo.PushURL,
			AccessToken: cfg.Delivery.Expo.AccessToken,
		}, nil, logger),
	}

	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push is disabled.")
	} else {
		router.Web = web.NewSender(cfg.Vapid, nil, logger)
		logger.Info("Web Push sender enabled", "public_key", cfg.Vapid.PublicKey)
	}

	switch cfg.Delivery.DefaultProvider {
	case config.ProviderAPNS:
		if !cfg.Delivery.APNS.Configured() {
			logger.Warn("APNs credentials incomplete. Native tokens cannot be delivered.")
			break
		}
		sender, err := apns.NewSender(apns.Config{
			KeyID:        cfg.Delivery.APNS.KeyID,
			TeamID:       cfg.Delivery.APNS.TeamID,
			BundleID:     cfg.Delivery.APNS.BundleID,
			P8KeyContent: cfg.Delivery.APNS.P8Key,
			Development:  cfg.Delivery.APNS.Development,
		}, logger)
		if err != nil {
			return nil, err
		}
		router.Native = sender

	default:
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
		}
		router.Native = fcm.NewSender(fcmMessaging, logger)
	}
	return router, nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
