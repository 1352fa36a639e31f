// Package pushcomponent implements the delivery component: a token registry of its own
// plus a transport Sender. Recipient records elsewhere hold a redundant copy of the token.
package pushcomponent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinywideclouds/go-push-broadcast-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// Entry is what the registry knows about one recipient.
type Entry struct {
	Token  string
	Paused bool
}

// Registry stores the component's view of recipients.
type Registry interface {
	// Get returns a zero Entry (not an error) for unknown recipients.
	Get(ctx context.Context, recipientID string) (Entry, error)
	SetToken(ctx context.Context, recipientID, token string) error
	DeleteToken(ctx context.Context, recipientID string) error
	SetPaused(ctx context.Context, recipientID string, paused bool) error
}

type Component struct {
	registry Registry
	sender   dispatch.Sender
	logger   *slog.Logger
}

var _ dispatch.Component = (*Component)(nil)

func New(registry Registry, sender dispatch.Sender, logger *slog.Logger) *Component {
	return &Component{
		registry: registry,
		sender:   sender,
		logger:   logger.With("component", "PushComponent"),
	}
}

func (c *Component) RecordToken(ctx context.Context, recipientID, token string) error {
	if recipientID == "" || token == "" {
		return fmt.Errorf("%w: recipient id and token are required", recipient.ErrInvalidRequest)
	}
	if err := c.registry.SetToken(ctx, recipientID, token); err != nil {
		return fmt.Errorf("failed to record push token: %w", err)
	}
	c.logger.Debug("Push token recorded", "recipient_id", recipientID, "token", MaskToken(token))
	return nil
}

func (c *Component) RemoveToken(ctx context.Context, recipientID string) error {
	if err := c.registry.DeleteToken(ctx, recipientID); err != nil {
		return fmt.Errorf("failed to remove push token: %w", err)
	}
	return nil
}

func (c *Component) Send(ctx context.Context, recipientID string, n recipient.Notification, allowUnregistered bool) (string, error) {
	entry, err := c.registry.Get(ctx, recipientID)
	if err != nil {
		return "", fmt.Errorf("failed to read push registry: %w", err)
	}
	if entry.Token == "" {
		if allowUnregistered {
			c.logger.Debug("No push token; skipping", "recipient_id", recipientID)
			return "", nil
		}
		return "", dispatch.ErrNoToken
	}
	if entry.Paused {
		c.logger.Debug("Notifications paused; skipping", "recipient_id", recipientID)
		return "", nil
	}

	id, err := c.sender.Send(ctx, entry.Token, n)
	if err != nil {
		if errors.Is(err, dispatch.ErrDeviceNotRegistered) {
			c.logger.Info("Removing unregistered push token", "recipient_id", recipientID, "token", MaskToken(entry.Token))
			if delErr := c.registry.DeleteToken(ctx, recipientID); delErr != nil {
				c.logger.Warn("Failed to remove dead push token", "recipient_id", recipientID, "err", delErr)
			}
		}
		return "", err
	}
	return id, nil
}

func (c *Component) Status(ctx context.Context, recipientID string) (bool, bool, error) {
	entry, err := c.registry.Get(ctx, recipientID)
	if err != nil {
		return false, false, fmt.Errorf("failed to read push registry: %w", err)
	}
	return entry.Token != "", entry.Paused, nil
}

func (c *Component) Pause(ctx context.Context, recipientID string) error {
	return c.registry.SetPaused(ctx, recipientID, true)
}

func (c *Component) Unpause(ctx context.Context, recipientID string) error {
	return c.registry.SetPaused(ctx, recipientID, false)
}

// MaskToken shows the first 8 and last 4 characters of a token.
func MaskToken(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:8] + strings.Repeat("*", 8) + token[len(token)-4:]
}
