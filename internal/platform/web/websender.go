package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-broadcast-service/notificationservice/config"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

type Sender struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewSender(cfg config.VapidConfig, httpClient *http.Client, logger *slog.Logger) *Sender {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Sender{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushSender"),
		httpClient: httpClient,
	}
}

// IsSubscription reports whether a token is a serialized browser PushSubscription.
func IsSubscription(token string) bool {
	return strings.HasPrefix(strings.TrimSpace(token), "{")
}

// Send treats the token as the JSON form of a PushSubscription. The push service's
// Location header (the message resource) is used as the notification id.
func (s *Sender) Send(ctx context.Context, token string, n recipient.Notification) (string, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil {
		return "", fmt.Errorf("%w: malformed web push subscription: %v", dispatch.ErrDeviceNotRegistered, err)
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return "", fmt.Errorf("%w: incomplete web push subscription", dispatch.ErrDeviceNotRegistered)
	}

	payloadBytes, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": n.Title,
			"body":  n.Body,
		},
		"data": n.Data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	urgency := webpush.UrgencyNormal
	if n.Priority == recipient.DefaultPriority {
		urgency = webpush.UrgencyHigh
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, &sub, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             60,
		Urgency:         urgency,
		HTTPClient:      s.httpClient,
	})
	if err != nil {
		return "", fmt.Errorf("web push transport failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK, http.StatusAccepted:
		if loc := resp.Header.Get("Location"); loc != "" {
			return loc, nil
		}
		return "webpush:" + uuid.NewString(), nil
	case http.StatusGone, http.StatusNotFound:
		return "", fmt.Errorf("%w: web push status %d", dispatch.ErrDeviceNotRegistered, resp.StatusCode)
	default:
		s.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return "", fmt.Errorf("web push rejected with status %d", resp.StatusCode)
	}
}
