package api

import (
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/notify"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// Handlers for the authenticated user variant. Every route sits behind the JWKS middleware.

type RecordTokenRequest struct {
	Token string `json:"token" validate:"required"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Name  string `json:"name,omitempty" validate:"max=128"`
}

func (api *PushAPI) RecordToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID, ok := callerFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RecordTokenRequest
	if !api.decode(w, r, &req) {
		return
	}

	id, err := api.Service.RecordToken(ctx, callerID, req.Token, recipient.Profile{Email: req.Email, Name: req.Name})
	if err != nil {
		api.writeError(w, "RecordToken", err)
		return
	}
	writeJSON(w, http.StatusOK, RecipientResponse{RecipientID: id})
}

func (api *PushAPI) RemoveMyToken(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := api.Service.RemoveToken(r.Context(), callerID); err != nil {
		api.writeError(w, "RemoveToken", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *PushAPI) PauseMe(w http.ResponseWriter, r *http.Request) {
	api.setMyPause(w, r, true)
}

func (api *PushAPI) UnpauseMe(w http.ResponseWriter, r *http.Request) {
	api.setMyPause(w, r, false)
}

func (api *PushAPI) setMyPause(w http.ResponseWriter, r *http.Request, paused bool) {
	callerID, ok := callerFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	op := api.Service.Unpause
	if paused {
		op = api.Service.Pause
	}
	if err := op(r.Context(), callerID); err != nil {
		api.writeError(w, "SetPause", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UserBroadcast sends to every other user; the caller is always excluded.
func (api *PushAPI) UserBroadcast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID, _ := callerFromContext(ctx)

	var req NotificationRequest
	if !api.decode(w, r, &req) {
		return
	}

	report, err := api.Service.Broadcast(ctx, req.notification(), notify.BroadcastOptions{
		ExcludeID:   callerID,
		SenderID:    callerID,
		RequireAuth: true,
	})
	if err != nil {
		api.writeError(w, "Broadcast", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
