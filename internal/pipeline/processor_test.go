package pipeline_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/notify"
	"github.com/tinywideclouds/go-push-broadcast-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendToRecipient(ctx context.Context, id string, n recipient.Notification) (string, error) {
	args := m.Called(ctx, id, n)
	return args.String(0), args.Error(1)
}

func (m *mockNotifier) Broadcast(ctx context.Context, n recipient.Notification, opts notify.BroadcastOptions) (recipient.Report, error) {
	args := m.Called(ctx, n, opts)
	return args.Get(0).(recipient.Report), args.Error(1)
}

func TestProcessor_Routing(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	hello := recipient.Notification{Title: "Hello"}

	t.Run("Send is delegated", func(t *testing.T) {
		notifier := new(mockNotifier)
		notifier.On("SendToRecipient", mock.Anything, "dev-1", hello).Return("ticket-1", nil)

		processor := pipeline.NewProcessor(notifier, logger)
		err := processor(ctx, messagepipeline.Message{}, &pipeline.Command{Kind: pipeline.KindSend, RecipientID: "dev-1", Notification: hello})

		require.NoError(t, err)
		notifier.AssertExpectations(t)
	})

	t.Run("Broadcast carries exclusion and sender", func(t *testing.T) {
		notifier := new(mockNotifier)
		notifier.On("Broadcast", mock.Anything, hello, notify.BroadcastOptions{ExcludeID: "u1", SenderID: "u1"}).
			Return(recipient.Report{Total: 2, Success: 1, Failed: 1}, nil)

		processor := pipeline.NewProcessor(notifier, logger)
		err := processor(ctx, messagepipeline.Message{}, &pipeline.Command{
			Kind: pipeline.KindBroadcast, ExcludeID: "u1", SenderID: "u1", Notification: hello,
		})

		require.NoError(t, err, "per-recipient failures must not trigger redelivery")
		notifier.AssertExpectations(t)
	})
}

func TestProcessor_ErrorClassification(t *testing.T) {
	ctx := context.Background()
	hello := recipient.Notification{Title: "Hello"}

	testCases := []struct {
		name        string
		serviceErr  error
		expectRetry bool
	}{
		{name: "Unknown recipient is acked", serviceErr: fmt.Errorf("lookup: %w", recipient.ErrNotFound)},
		{name: "Inactive device is acked", serviceErr: recipient.ErrInactiveRecipient},
		{name: "Transport failure is retried", serviceErr: assert.AnError, expectRetry: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			notifier := new(mockNotifier)
			notifier.On("SendToRecipient", mock.Anything, "dev-1", hello).Return("", tc.serviceErr)

			processor := pipeline.NewProcessor(notifier, newTestLogger())
			err := processor(ctx, messagepipeline.Message{}, &pipeline.Command{Kind: pipeline.KindSend, RecipientID: "dev-1", Notification: hello})

			if tc.expectRetry {
				assert.ErrorIs(t, err, tc.serviceErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
