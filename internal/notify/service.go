// Package notify implements the recipient-facing operations of the push service:
// token registration and removal, single sends, broadcasts and status queries.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/broadcast"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// BroadcastOptions are the caller-facing knobs of a broadcast.
type BroadcastOptions struct {
	ExcludeID string
	SenderID  string
	// RequireAuth rejects the broadcast when SenderID is empty.
	RequireAuth bool
}

// Broadcaster is satisfied by *broadcast.Aggregator.
type Broadcaster interface {
	Broadcast(ctx context.Context, n recipient.Notification, opts broadcast.Options) (recipient.Report, error)
}

type Service struct {
	kind        recipient.Kind
	store       recipient.Store
	component   dispatch.Component
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

func New(kind recipient.Kind, store recipient.Store, component dispatch.Component, broadcaster Broadcaster, logger *slog.Logger) *Service {
	return &Service{
		kind:        kind,
		store:       store,
		component:   component,
		broadcaster: broadcaster,
		logger:      logger.With("component", "NotifyService", "variant", string(kind)),
		now:         time.Now,
	}
}

func (s *Service) Kind() recipient.Kind {
	return s.kind
}

// RecordToken stores the caller's token on their user record and hands it to the
// delivery component. The user id is stable, so re-registration is idempotent.
// A token previously held by another user is deregistered from that user.
func (s *Service) RecordToken(ctx context.Context, callerID, token string, profile recipient.Profile) (string, error) {
	if callerID == "" {
		return "", recipient.ErrAuthenticationRequired
	}
	if token == "" {
		return "", fmt.Errorf("%w: push token is required", recipient.ErrInvalidRequest)
	}

	r, released, err := s.store.UpsertUserToken(ctx, callerID, profile, token)
	if err != nil {
		return "", err
	}
	for _, prevID := range released {
		if err := s.component.RemoveToken(ctx, prevID); err != nil {
			return "", err
		}
		s.logger.Info("Push token moved to another user", "from_recipient_id", prevID, "recipient_id", r.ID)
	}
	if err := s.component.RecordToken(ctx, r.ID, token); err != nil {
		return "", err
	}
	s.logger.Info("Push token recorded", "recipient_id", r.ID)
	return r.ID, nil
}

// RegisterDevice needs no identity: the token itself (then the device id) keys the record.
func (s *Service) RegisterDevice(ctx context.Context, token string, info recipient.DeviceInfo) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: push token is required", recipient.ErrInvalidRequest)
	}

	r, err := s.store.UpsertDeviceToken(ctx, token, info)
	if err != nil {
		return "", err
	}
	if err := s.component.RecordToken(ctx, r.ID, token); err != nil {
		return "", err
	}
	s.logger.Info("Device registered", "recipient_id", r.ID, "platform", info.Platform)
	return r.ID, nil
}

// RemoveToken deregisters the recipient from the component and clears the local token.
// An unknown device is not an error; an unknown user is.
func (s *Service) RemoveToken(ctx context.Context, id string) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		if errors.Is(err, recipient.ErrNotFound) && s.kind == recipient.KindDevice {
			return nil
		}
		return err
	}
	if err := s.component.RemoveToken(ctx, id); err != nil {
		return err
	}
	if err := s.store.ClearToken(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Push token removed", "recipient_id", id)
	return nil
}

// SendToRecipient returns the delivery id, or "" when the recipient has no usable token.
func (s *Service) SendToRecipient(ctx context.Context, id string, n recipient.Notification) (string, error) {
	n, err := n.Normalize()
	if err != nil {
		return "", err
	}

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if s.kind == recipient.KindDevice && !r.IsActive {
		return "", fmt.Errorf("device %s: %w", id, recipient.ErrInactiveRecipient)
	}

	if _, ok := n.Data["type"]; !ok {
		n = n.WithData(map[string]any{"type": s.defaultSendType()})
	}

	notificationID, err := s.component.Send(ctx, id, n, true)
	if err != nil {
		if errors.Is(err, dispatch.ErrDeviceNotRegistered) {
			s.forgetDeadToken(ctx, id)
		}
		return "", fmt.Errorf("failed to send notification: %w", err)
	}

	if s.kind == recipient.KindDevice {
		if err := s.store.Touch(ctx, id, s.now()); err != nil {
			s.logger.Warn("Failed to update last seen", "recipient_id", id, "err", err)
		}
	}
	return notificationID, nil
}

// forgetDeadToken clears the stored token once the platform has rejected it, so the
// recipient stops counting as eligible. The component already dropped its copy.
func (s *Service) forgetDeadToken(ctx context.Context, id string) {
	if err := s.store.ClearToken(ctx, id); err != nil {
		s.logger.Warn("Failed to clear dead push token", "recipient_id", id, "err", err)
	}
}

// SyncComponent re-registers every eligible stored recipient the delivery component does
// not know. An in-process registry starts empty, so this runs at startup.
func (s *Service) SyncComponent(ctx context.Context) (int, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate recipients: %w", err)
	}
	synced := 0
	for _, r := range all {
		if !r.Eligible() {
			continue
		}
		hasToken, _, err := s.component.Status(ctx, r.ID)
		if err != nil {
			return synced, err
		}
		if hasToken {
			continue
		}
		if err := s.component.RecordToken(ctx, r.ID, r.Token); err != nil {
			return synced, err
		}
		synced++
	}
	if synced > 0 {
		s.logger.Info("Delivery component re-seeded from store", "recipients", synced)
	}
	return synced, nil
}

func (s *Service) defaultSendType() string {
	if s.kind == recipient.KindDevice {
		return recipient.TypeTest
	}
	return recipient.TypeUserMessage
}

// Broadcast sends to every eligible recipient. Per-recipient failures live in the report.
func (s *Service) Broadcast(ctx context.Context, n recipient.Notification, opts BroadcastOptions) (recipient.Report, error) {
	if opts.RequireAuth && opts.SenderID == "" {
		return recipient.Report{}, recipient.ErrAuthenticationRequired
	}
	n, err := n.Normalize()
	if err != nil {
		return recipient.Report{}, err
	}

	kind := recipient.TypeSystemBroadcast
	if s.kind == recipient.KindUser && opts.SenderID != "" {
		kind = recipient.TypeBroadcast
	}
	return s.broadcaster.Broadcast(ctx, n, broadcast.Options{
		ExcludeID: opts.ExcludeID,
		SenderID:  opts.SenderID,
		Type:      kind,
	})
}

// GetStatus never fails for an unknown recipient; it reports no token instead.
func (s *Service) GetStatus(ctx context.Context, id string) (recipient.PushStatus, error) {
	status := recipient.PushStatus{RecipientID: id}

	r, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, recipient.ErrNotFound) {
			return status, nil
		}
		return status, err
	}

	hasToken, paused, err := s.component.Status(ctx, id)
	if err != nil {
		return status, err
	}
	status.HasToken = hasToken
	status.Paused = paused
	if s.kind == recipient.KindDevice {
		active := r.IsActive
		status.IsActive = &active
	}
	return status, nil
}

func (s *Service) GetAllRecipients(ctx context.Context) ([]recipient.Recipient, error) {
	return s.store.List(ctx)
}

func (s *Service) Pause(ctx context.Context, id string) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	return s.component.Pause(ctx, id)
}

func (s *Service) Unpause(ctx context.Context, id string) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	return s.component.Unpause(ctx, id)
}
