package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/platform/email"
)

// HookSecretHeader carries the shared secret the auth provider signs its hook calls with.
const HookSecretHeader = "X-Hook-Secret"

// OTPMailer is satisfied by *email.Mailer.
type OTPMailer interface {
	SendOTP(ctx context.Context, otp email.OTPEmail) (string, error)
}

// OTPAPI is the webhook the external auth provider calls to deliver a code by e-mail.
type OTPAPI struct {
	Mailer OTPMailer
	Secret string
	Logger *slog.Logger
}

func NewOTPAPI(mailer OTPMailer, secret string, logger *slog.Logger) *OTPAPI {
	return &OTPAPI{
		Mailer: mailer,
		Secret: secret,
		Logger: logger.With("component", "OTPAPI"),
	}
}

type OTPEmailRequest struct {
	Email            string `json:"email" validate:"required,email"`
	Code             string `json:"code" validate:"required,numeric,min=4,max=10"`
	Purpose          string `json:"purpose" validate:"required,oneof=verify reset"`
	ExpiresInMinutes int    `json:"expiresInMinutes,omitempty" validate:"gte=0,lte=1440"`
}

type OTPEmailResponse struct {
	EmailID string `json:"emailId"`
}

func (api *OTPAPI) SendOTPEmail(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(HookSecretHeader)
	if api.Secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(api.Secret)) != 1 {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req OTPEmailRequest
	if !decodeValid(w, r, &req, api.Logger) {
		return
	}

	id, err := api.Mailer.SendOTP(r.Context(), email.OTPEmail{
		To:        req.Email,
		Code:      req.Code,
		Purpose:   req.Purpose,
		ExpiresIn: time.Duration(req.ExpiresInMinutes) * time.Minute,
	})
	if err != nil {
		if errors.Is(err, email.ErrUnknownPurpose) {
			response.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		api.Logger.Error("OTP email failed", "err", err)
		response.WriteJSONError(w, http.StatusBadGateway, "email delivery failed")
		return
	}
	writeJSON(w, http.StatusAccepted, OTPEmailResponse{EmailID: id})
}
