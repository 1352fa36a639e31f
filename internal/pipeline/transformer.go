// Package pipeline contains the Pub/Sub processing components for the service.
package pipeline

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// CommandTransformer is a dataflow Transformer that unmarshals and validates a raw
// payload into a Command. Anything malformed is skipped so the StreamingService
// can route it to the dead-letter topic instead of redelivering it forever.
func CommandTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*Command, bool, error) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal command from message %s: %w", msg.ID, err)
	}

	switch cmd.Kind {
	case KindSend:
		if cmd.RecipientID == "" {
			return nil, true, fmt.Errorf("send command in message %s has no recipientId", msg.ID)
		}
	case KindBroadcast:
	default:
		return nil, true, fmt.Errorf("message %s has unknown command kind %q", msg.ID, cmd.Kind)
	}

	if _, err := cmd.Notification.Normalize(); err != nil {
		return nil, true, fmt.Errorf("invalid notification in message %s: %w", msg.ID, err)
	}
	return &cmd, false, nil
}
