package dispatch

import (
	"context"
	"errors"

	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

var (
	// ErrNoToken is returned by a Component when asked to send to a recipient without a token
	// and the caller did not allow unregistered recipients.
	ErrNoToken = errors.New("no push token registered")
	// ErrDeviceNotRegistered is returned by a Sender when the platform reports the token as dead.
	ErrDeviceNotRegistered = errors.New("device not registered")
)

// Sender defines the contract for a component that can deliver a notification
// to a single platform token (Expo, FCM, APNs, Web Push).
type Sender interface {
	// Send returns the platform's opaque id for the accepted notification.
	Send(ctx context.Context, token string, n recipient.Notification) (string, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, token string, n recipient.Notification) (string, error)

func (f SenderFunc) Send(ctx context.Context, token string, n recipient.Notification) (string, error) {
	return f(ctx, token, n)
}

// Component is the external delivery component: it keeps its own copy of every
// recipient's token and owns the transport.
type Component interface {
	RecordToken(ctx context.Context, recipientID, token string) error
	RemoveToken(ctx context.Context, recipientID string) error
	// Send returns "" with a nil error when the recipient has no token (and allowUnregistered
	// is set) or when notifications are paused for it.
	Send(ctx context.Context, recipientID string, n recipient.Notification, allowUnregistered bool) (string, error)
	Status(ctx context.Context, recipientID string) (hasToken bool, paused bool, err error)
	Pause(ctx context.Context, recipientID string) error
	Unpause(ctx context.Context, recipientID string) error
}
