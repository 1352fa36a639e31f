package api

import (
	"net/http"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/notify"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// Handlers for the self-registered device variant. No identity is required.

type RegisterDeviceRequest struct {
	Token      string `json:"token" validate:"required"`
	DeviceID   string `json:"deviceId,omitempty" validate:"max=128"`
	Platform   string `json:"platform,omitempty" validate:"omitempty,oneof=ios android web"`
	AppVersion string `json:"appVersion,omitempty" validate:"max=32"`
}

func (api *PushAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req RegisterDeviceRequest
	if !api.decode(w, r, &req) {
		return
	}

	id, err := api.Service.RegisterDevice(r.Context(), req.Token, recipient.DeviceInfo{
		DeviceID:   req.DeviceID,
		Platform:   req.Platform,
		AppVersion: req.AppVersion,
	})
	if err != nil {
		api.writeError(w, "RegisterDevice", err)
		return
	}
	writeJSON(w, http.StatusOK, RecipientResponse{RecipientID: id})
}

func (api *PushAPI) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	if err := api.Service.RemoveToken(r.Context(), r.PathValue("id")); err != nil {
		api.writeError(w, "RemoveDevice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *PushAPI) PauseDevice(w http.ResponseWriter, r *http.Request) {
	if err := api.Service.Pause(r.Context(), r.PathValue("id")); err != nil {
		api.writeError(w, "PauseDevice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *PushAPI) UnpauseDevice(w http.ResponseWriter, r *http.Request) {
	if err := api.Service.Unpause(r.Context(), r.PathValue("id")); err != nil {
		api.writeError(w, "UnpauseDevice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SystemBroadcast sends to every active device, optionally excluding one.
func (api *PushAPI) SystemBroadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if !api.decode(w, r, &req) {
		return
	}

	report, err := api.Service.Broadcast(r.Context(), req.notification(), notify.BroadcastOptions{
		ExcludeID: req.ExcludeID,
	})
	if err != nil {
		api.writeError(w, "SystemBroadcast", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
