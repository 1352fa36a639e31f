package notificationservice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/pushcomponent"
	"github.com/tinywideclouds/go-push-broadcast-service/internal/storage/memory"
	"github.com/tinywideclouds/go-push-broadcast-service/notificationservice"
	"github.com/tinywideclouds/go-push-broadcast-service/notificationservice/config"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// recordingSender accepts every token and remembers what it was asked to send.
type recordingSender struct {
	mu    sync.Mutex
	sends map[string]recipient.Notification
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sends: map[string]recipient.Notification{}}
}

func (s *recordingSender) Send(_ context.Context, token string, n recipient.Notification) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends[token] = n
	return "ticket-" + token, nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDeps(sender dispatch.Sender) notificationservice.Dependencies {
	logger := newTestLogger()
	return notificationservice.Dependencies{
		Store:     memory.NewStore(),
		Component: pushcomponent.New(pushcomponent.NewMemoryRegistry(), sender, logger),
	}
}

func serve(t *testing.T, svc *notificationservice.Wrapper, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	w := httptest.NewRecorder()
	svc.Mux().ServeHTTP(w, httptest.NewRequest(method, path, reader))
	return w
}

func TestService_DeviceVariantRoutes(t *testing.T) {
	sender := newRecordingSender()
	cfg := &config.Config{ListenAddr: ":0", Variant: recipient.KindDevice, BroadcastConcurrency: 1}

	svc, err := notificationservice.New(cfg, newDeps(sender), newTestLogger())
	require.NoError(t, err)

	w := serve(t, svc, http.MethodPost, "/api/v1/devices", map[string]string{"token": "ExponentPushToken[aaa]", "platform": "ios"})
	require.Equal(t, http.StatusOK, w.Code)
	var registered struct {
		RecipientID string `json:"recipientId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &registered))
	require.NotEmpty(t, registered.RecipientID)

	w = serve(t, svc, http.MethodPost, "/api/v1/devices", map[string]string{"token": "ExponentPushToken[bbb]"})
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(t, svc, http.MethodPost, "/api/v1/devices/"+registered.RecipientID+"/notifications", map[string]string{"title": "Ping"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ticket-ExponentPushToken[aaa]")

	w = serve(t, svc, http.MethodPost, "/api/v1/devices/broadcasts", map[string]string{"title": "All hands"})
	require.Equal(t, http.StatusOK, w.Code)
	var report recipient.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Success)

	w = serve(t, svc, http.MethodDelete, "/api/v1/devices/"+registered.RecipientID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(t, svc, http.MethodGet, "/api/v1/devices/"+registered.RecipientID+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"isActive":false`)

	w = serve(t, svc, http.MethodPost, "/api/v1/devices/does-not-exist/notifications", map[string]string{"title": "Ping"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(t, svc, http.MethodGet, "/internal/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "push_broadcast_recipients_total"))
}

func TestService_UserVariantRequiresAuth(t *testing.T) {
	cfg := &config.Config{ListenAddr: ":0", Variant: recipient.KindUser}

	_, err := notificationservice.New(cfg, newDeps(newRecordingSender()), newTestLogger())
	assert.Error(t, err, "user variant without auth middleware must be rejected")

	const caller = "urn:test:user:alice"
	deps := newDeps(newRecordingSender())
	deps.AuthMiddleware = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(middleware.ContextWithUserID(r.Context(), caller)))
		})
	}
	svc, err := notificationservice.New(cfg, deps, newTestLogger())
	require.NoError(t, err)

	w := serve(t, svc, http.MethodPut, "/api/v1/users/me/token", map[string]string{"token": "tok"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/me/token", strings.NewReader(`{"token":"ExponentPushToken[alice]"}`))
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	svc.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	status, err := svc.Notifier().GetStatus(context.Background(), caller)
	require.NoError(t, err)
	assert.True(t, status.HasToken)
}

func TestService_RejectsUnknownVariant(t *testing.T) {
	cfg := &config.Config{ListenAddr: ":0", Variant: "robot"}
	_, err := notificationservice.New(cfg, newDeps(newRecordingSender()), newTestLogger())
	assert.Error(t, err)
}
