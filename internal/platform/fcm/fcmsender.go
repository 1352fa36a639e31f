// Package fcm delivers notifications to native Android/iOS tokens through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-broadcast-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Sender struct {
	client MessagingClient
	logger *slog.Logger
}

func NewSender(client MessagingClient, logger *slog.Logger) *Sender {
	return &Sender{
		client: client,
		logger: logger.With("component", "FCMSender"),
	}
}

// Send returns the FCM message name (projects/*/messages/*) as the notification id.
func (s *Sender) Send(ctx context.Context, token string, n recipient.Notification) (string, error) {
	msg := &messaging.Message{
		Token: token,
		Data:  n.StringData(),
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: n.Priority,
			Notification: &messaging.AndroidNotification{
				Sound: n.Sound,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: n.Sound},
			},
		},
	}

	id, err := s.client.Send(ctx, msg)
	if err != nil {
		if messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsInvalidArgument(err) {
			s.logger.Info("FCM rejected token", "err", err)
			return "", fmt.Errorf("%w: %v", dispatch.ErrDeviceNotRegistered, err)
		}
		return "", fmt.Errorf("fcm transport failed: %w", err)
	}
	return id, nil
}
