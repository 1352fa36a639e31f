package pipeline

import (
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// Command kinds accepted on the ingestion subscription.
const (
	KindSend      = "send"
	KindBroadcast = "broadcast"
)

// Command is the asynchronous form of a send or broadcast request.
type Command struct {
	Kind         string                 `json:"kind"`
	RecipientID  string                 `json:"recipientId,omitempty"`
	ExcludeID    string                 `json:"excludeId,omitempty"`
	SenderID     string                 `json:"senderId,omitempty"`
	Notification recipient.Notification `json:"notification"`
}
