package notificationservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/api"
	"github.com/tinywideclouds/go-push-broadcast-service/internal/broadcast"
	"github.com/tinywideclouds/go-push-broadcast-service/internal/notify"
	"github.com/tinywideclouds/go-push-broadcast-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-broadcast-service/notificationservice/config"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// Dependencies are the clients main builds from config. Mailer and Consumer are optional.
type Dependencies struct {
	Store          recipient.Store
	Component      dispatch.Component
	Mailer         api.OTPMailer
	Consumer       messagepipeline.MessageConsumer
	AuthMiddleware func(http.Handler) http.Handler
	// Registry receives the service metrics and backs GET /internal/metrics.
	Registry *prometheus.Registry
}

type Wrapper struct {
	*microservice.BaseServer
	notifier        *notify.Service
	pipelineService *messagepipeline.StreamingService[pipeline.Command]
	logger          *slog.Logger
}

// New assembles the service.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	if deps.Store == nil || deps.Component == nil {
		return nil, fmt.Errorf("store and delivery component are required")
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Core
	aggregator := broadcast.NewAggregator(
		deps.Store, deps.Component, cfg.BroadcastConcurrency, broadcast.NewMetrics(deps.Registry), logger,
	)
	notifier := notify.New(cfg.Variant, deps.Store, deps.Component, aggregator, logger)

	// 3. Pipeline (optional)
	var streamingService *messagepipeline.StreamingService[pipeline.Command]
	if deps.Consumer != nil {
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			deps.Consumer,
			pipeline.CommandTransformer,
			pipeline.NewProcessor(notifier, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 4. Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)
	pushAPI := api.NewPushAPI(notifier, logger)

	switch cfg.Variant {
	case recipient.KindUser:
		if deps.AuthMiddleware == nil {
			return nil, fmt.Errorf("the user variant requires an auth middleware")
		}
		handle := func(pattern string, handlerFunc http.HandlerFunc) {
			mux.Handle(pattern, corsMiddleware(deps.AuthMiddleware(handlerFunc)))
		}
		handle("PUT /api/v1/users/me/token", pushAPI.RecordToken)
		handle("DELETE /api/v1/users/me/token", pushAPI.RemoveMyToken)
		handle("POST /api/v1/users/me/pause", pushAPI.PauseMe)
		handle("POST /api/v1/users/me/unpause", pushAPI.UnpauseMe)
		handle("POST /api/v1/users/{id}/notifications", pushAPI.SendToRecipient)
		handle("GET /api/v1/users/{id}/status", pushAPI.GetStatus)
		handle("GET /api/v1/users", pushAPI.ListRecipients)
		handle("POST /api/v1/broadcasts", pushAPI.UserBroadcast)

	case recipient.KindDevice:
		handle := func(pattern string, handlerFunc http.HandlerFunc) {
			mux.Handle(pattern, corsMiddleware(handlerFunc))
		}
		handle("POST /api/v1/devices", pushAPI.RegisterDevice)
		handle("DELETE /api/v1/devices/{id}", pushAPI.RemoveDevice)
		handle("POST /api/v1/devices/{id}/pause", pushAPI.PauseDevice)
		handle("POST /api/v1/devices/{id}/unpause", pushAPI.UnpauseDevice)
		handle("POST /api/v1/devices/{id}/notifications", pushAPI.SendToRecipient)
		handle("GET /api/v1/devices/{id}/status", pushAPI.GetStatus)
		handle("GET /api/v1/devices", pushAPI.ListRecipients)
		handle("POST /api/v1/devices/broadcasts", pushAPI.SystemBroadcast)

	default:
		return nil, fmt.Errorf("unknown variant %q", cfg.Variant)
	}

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	if deps.Mailer != nil {
		otpAPI := api.NewOTPAPI(deps.Mailer, cfg.OTPHookSecret, logger)
		mux.HandleFunc("POST /internal/v1/otp/email", otpAPI.SendOTPEmail)
	}
	mux.Handle("GET /internal/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	return &Wrapper{
		BaseServer:      baseServer,
		notifier:        notifier,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

// Notifier exposes the assembled operations (used by main's startup checks and tests).
func (w *Wrapper) Notifier() *notify.Service {
	return w.notifier
}

func (w *Wrapper) Start(ctx context.Context) error {
	if _, err := w.notifier.SyncComponent(ctx); err != nil {
		return fmt.Errorf("failed to sync delivery component: %w", err)
	}
	if w.pipelineService != nil {
		w.logger.Info("Ingestion pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
