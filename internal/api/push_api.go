// Package api exposes the push service over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/notify"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// maxBodyBytes bounds every request body; notifications are small.
const maxBodyBytes = 64 << 10

var validate = validator.New()

// PushService is the subset of *notify.Service the handlers call.
type PushService interface {
	RecordToken(ctx context.Context, callerID, token string, profile recipient.Profile) (string, error)
	RegisterDevice(ctx context.Context, token string, info recipient.DeviceInfo) (string, error)
	RemoveToken(ctx context.Context, id string) error
	SendToRecipient(ctx context.Context, id string, n recipient.Notification) (string, error)
	Broadcast(ctx context.Context, n recipient.Notification, opts notify.BroadcastOptions) (recipient.Report, error)
	GetStatus(ctx context.Context, id string) (recipient.PushStatus, error)
	GetAllRecipients(ctx context.Context) ([]recipient.Recipient, error)
	Pause(ctx context.Context, id string) error
	Unpause(ctx context.Context, id string) error
}

var _ PushService = (*notify.Service)(nil)

type PushAPI struct {
	Service PushService
	Logger  *slog.Logger
}

func NewPushAPI(service PushService, logger *slog.Logger) *PushAPI {
	return &PushAPI{
		Service: service,
		Logger:  logger.With("component", "PushAPI"),
	}
}

// --- Request / response shapes ---

type NotificationRequest struct {
	Title string         `json:"title" validate:"required,max=256"`
	Body  string         `json:"body,omitempty" validate:"max=4096"`
	Data  map[string]any `json:"data,omitempty"`
}

func (r NotificationRequest) notification() recipient.Notification {
	return recipient.Notification{Title: r.Title, Body: r.Body, Data: r.Data}
}

type BroadcastRequest struct {
	NotificationRequest
	ExcludeID string `json:"excludeId,omitempty"`
}

type RecipientResponse struct {
	RecipientID string `json:"recipientId"`
}

// SendResponse carries a null notificationId when the recipient had no usable token.
type SendResponse struct {
	NotificationID *string `json:"notificationId"`
}

type RecipientsResponse struct {
	Recipients []recipient.Recipient `json:"recipients"`
}

// --- Shared handlers ---

func (api *PushAPI) SendToRecipient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req NotificationRequest
	if !api.decode(w, r, &req) {
		return
	}

	n := req.notification()
	if callerID, ok := callerFromContext(ctx); ok {
		n = n.WithData(map[string]any{"senderId": callerID})
	}

	id, err := api.Service.SendToRecipient(ctx, r.PathValue("id"), n)
	if err != nil {
		api.writeError(w, "SendToRecipient", err)
		return
	}
	resp := SendResponse{}
	if id != "" {
		resp.NotificationID = &id
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *PushAPI) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := api.Service.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, "GetStatus", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (api *PushAPI) ListRecipients(w http.ResponseWriter, r *http.Request) {
	all, err := api.Service.GetAllRecipients(r.Context())
	if err != nil {
		api.writeError(w, "ListRecipients", err)
		return
	}
	writeJSON(w, http.StatusOK, RecipientsResponse{Recipients: all})
}

// --- Helpers ---

// callerFromContext returns the authenticated caller's handle in canonical URN form.
func callerFromContext(ctx context.Context) (string, bool) {
	handle, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok || handle == "" {
		return "", false
	}
	parsed, err := urn.Parse(handle)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

func (api *PushAPI) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	return decodeValid(w, r, dest, api.Logger)
}

// decodeValid writes a 400 and returns false when the body is not valid JSON for dest
// or fails its validate tags.
func decodeValid(w http.ResponseWriter, r *http.Request, dest any, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := validate.Struct(dest); err != nil {
		logger.Debug("Request validation failed", "path", r.URL.Path, "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (api *PushAPI) writeError(w http.ResponseWriter, op string, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		api.Logger.Error(op+" failed", "err", err)
	} else {
		api.Logger.Debug(op+" rejected", "status", code, "err", err)
	}
	response.WriteJSONError(w, code, msg)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, recipient.ErrAuthenticationRequired):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, recipient.ErrNotFound):
		return http.StatusNotFound, "recipient not found"
	case errors.Is(err, recipient.ErrInactiveRecipient):
		return http.StatusConflict, "recipient is inactive"
	case errors.Is(err, recipient.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, dispatch.ErrNoToken):
		return http.StatusConflict, "no push token registered"
	}
	return http.StatusInternalServerError, "internal error"
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
