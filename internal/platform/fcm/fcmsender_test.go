package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFCMSend(t *testing.T) {
	ctx := context.Background()
	n := recipient.Notification{
		Title:    "Test",
		Body:     "Body",
		Data:     map[string]any{"type": "broadcast", "count": 3},
		Sound:    "default",
		Priority: "high",
	}

	t.Run("Happy Path", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, newTestLogger())

		mockClient.On("Send", ctx, mock.MatchedBy(func(msg *messaging.Message) bool {
			return msg.Token == "token-1" &&
				msg.Notification.Title == "Test" &&
				msg.Data["type"] == "broadcast" &&
				msg.Data["count"] == "3" &&
				msg.Android.Priority == "high"
		})).Return("projects/p/messages/1", nil)

		id, err := sender.Send(ctx, "token-1", n)
		require.NoError(t, err)
		assert.Equal(t, "projects/p/messages/1", id)
		mockClient.AssertExpectations(t)
	})

	t.Run("Transport Failure", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, newTestLogger())
		mockClient.On("Send", ctx, mock.Anything).Return("", errors.New("network down"))

		_, err := sender.Send(ctx, "token-1", n)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport failed")
	})

	// Firebase error codes are internal to the SDK; unregistered-token mapping is covered by
	// the component's self-healing tests with a mocked sender.
}
