// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-push-broadcast-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

type Sender struct {
	client APNSClient
	topic  string // The App Bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Development  bool
}

// NewSender parses the P8 key immediately to fail fast on bad credentials.
func NewSender(cfg Config, logger *slog.Logger) (*Sender, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Development {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return NewSenderWithClient(client, cfg.BundleID, logger), nil
}

func NewSenderWithClient(client APNSClient, topic string, logger *slog.Logger) *Sender {
	return &Sender{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSSender"),
	}
}

// Send pushes to one device token and returns the apns-id.
// The HTTP/2 API is unary, so there is nothing to batch.
func (s *Sender) Send(_ context.Context, deviceToken string, n recipient.Notification) (string, error) {
	builder := payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body).
		Sound(n.Sound)
	for k, v := range n.Data {
		builder.Custom(k, v)
	}

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       s.topic,
		Payload:     builder,
		Priority:    apns2.PriorityHigh,
	}

	res, err := s.client.Push(notification)
	if err != nil {
		return "", fmt.Errorf("apns transport failed: %w", err)
	}
	if res.Sent() {
		return res.ApnsID, nil
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return "", fmt.Errorf("%w: apns %s", dispatch.ErrDeviceNotRegistered, res.Reason)
	default:
		s.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		return "", fmt.Errorf("apns rejected notification: %d %s", res.StatusCode, res.Reason)
	}
}
