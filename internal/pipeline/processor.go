package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/notify"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// Notifier is the part of *notify.Service the processor drives.
type Notifier interface {
	SendToRecipient(ctx context.Context, id string, n recipient.Notification) (string, error)
	Broadcast(ctx context.Context, n recipient.Notification, opts notify.BroadcastOptions) (recipient.Report, error)
}

// NewProcessor executes commands. Errors that redelivery cannot fix are logged and
// acked; everything else is returned so Pub/Sub retries the message.
func NewProcessor(notifier Notifier, logger *slog.Logger) messagepipeline.StreamProcessor[Command] {
	return func(ctx context.Context, original messagepipeline.Message, cmd *Command) error {
		procLogger := logger.With("pubsub_msg_id", original.ID, "kind", cmd.Kind)

		switch cmd.Kind {
		case KindSend:
			id, err := notifier.SendToRecipient(ctx, cmd.RecipientID, cmd.Notification)
			if err != nil {
				if isPermanent(err) {
					procLogger.Warn("Dropping undeliverable send", "recipient_id", cmd.RecipientID, "err", err)
					return nil
				}
				procLogger.Error("Send failed", "recipient_id", cmd.RecipientID, "err", err)
				return err
			}
			procLogger.Info("Send dispatched", "recipient_id", cmd.RecipientID, "notification_id", id)

		case KindBroadcast:
			report, err := notifier.Broadcast(ctx, cmd.Notification, notify.BroadcastOptions{
				ExcludeID: cmd.ExcludeID,
				SenderID:  cmd.SenderID,
			})
			if err != nil {
				if isPermanent(err) {
					procLogger.Warn("Dropping invalid broadcast", "err", err)
					return nil
				}
				procLogger.Error("Broadcast failed", "err", err)
				return err
			}
			// Per-recipient failures are in the report; retrying would resend to everyone.
			procLogger.Info("Broadcast dispatched",
				"total", report.Total, "success", report.Success, "failed", report.Failed)
		}
		return nil
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, recipient.ErrNotFound) ||
		errors.Is(err, recipient.ErrInactiveRecipient) ||
		errors.Is(err, recipient.ErrInvalidRequest) ||
		errors.Is(err, recipient.ErrAuthenticationRequired)
}
