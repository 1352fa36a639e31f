package expo_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/platform/expo"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSender_Send(t *testing.T) {
	ctx := context.Background()
	n := recipient.Notification{Title: "Hi", Body: "there", Data: map[string]any{"type": "test"}}

	t.Run("Returns ticket id on ok", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

			var msgs []map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&msgs))
			require.Len(t, msgs, 1)
			assert.Equal(t, "ExponentPushToken[abc]", msgs[0]["to"])
			assert.Equal(t, "default", msgs[0]["sound"])
			assert.Equal(t, "high", msgs[0]["priority"])

			_, _ = w.Write([]byte(`{"data":[{"status":"ok","id":"ticket-123"}]}`))
		}))
		defer server.Close()

		sender := expo.NewSender(expo.Config{PushURL: server.URL, AccessToken: "secret"}, server.Client(), newTestLogger())
		id, err := sender.Send(ctx, "ExponentPushToken[abc]", n)
		require.NoError(t, err)
		assert.Equal(t, "ticket-123", id)
	})

	t.Run("DeviceNotRegistered maps to the dispatch sentinel", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":[{"status":"error","message":"not a registered device","details":{"error":"DeviceNotRegistered"}}]}`))
		}))
		defer server.Close()

		sender := expo.NewSender(expo.Config{PushURL: server.URL}, server.Client(), newTestLogger())
		_, err := sender.Send(ctx, "ExponentPushToken[dead]", n)
		require.Error(t, err)
		assert.ErrorIs(t, err, dispatch.ErrDeviceNotRegistered)
		assert.Contains(t, err.Error(), "DeviceNotRegistered")
	})

	t.Run("Non-OK status is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		sender := expo.NewSender(expo.Config{PushURL: server.URL}, server.Client(), newTestLogger())
		_, err := sender.Send(ctx, "ExponentPushToken[abc]", n)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
	})
}

func TestIsExpoToken(t *testing.T) {
	assert.True(t, expo.IsExpoToken("ExponentPushToken[xxxx]"))
	assert.True(t, expo.IsExpoToken("ExpoPushToken[xxxx]"))
	assert.False(t, expo.IsExpoToken("fcm-raw-token"))
	assert.False(t, expo.IsExpoToken("ExponentPushToken[unterminated"))
}
