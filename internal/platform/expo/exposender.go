// Package expo delivers notifications through the Expo Push API.
package expo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tinywideclouds/go-push-broadcast-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

const (
	// DefaultPushURL is the Expo Push API endpoint.
	DefaultPushURL = "https://exp.host/--/api/v2/push/send"

	pushTimeout = 30 * time.Second
)

// Config for the Expo sender. AccessToken is only needed when enhanced push security is on.
type Config struct {
	PushURL     string
	AccessToken string
}

// message is the Expo push API message format.
type message struct {
	To       string         `json:"to"`
	Title    string         `json:"title,omitempty"`
	Body     string         `json:"body,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Sound    string         `json:"sound,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

type response struct {
	Data   []ticket   `json:"data"`
	Errors []apiError `json:"errors,omitempty"`
}

type ticket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details *ticketDetails `json:"details,omitempty"`
}

type ticketDetails struct {
	Error string `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Sender struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[string]
	logger     *slog.Logger
}

func NewSender(cfg Config, httpClient *http.Client, logger *slog.Logger) *Sender {
	if cfg.PushURL == "" {
		cfg.PushURL = DefaultPushURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: pushTimeout}
	}
	logger = logger.With("component", "ExpoSender")
	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "expo-push",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Per-ticket rejections mean the API is up.
		IsSuccessful: func(err error) bool {
			return err == nil || isTicketError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Sender{
		cfg:        cfg,
		httpClient: httpClient,
		breaker:    breaker,
		logger:     logger,
	}
}

// IsExpoToken reports whether a token was issued by Expo.
func IsExpoToken(token string) bool {
	return (strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")) &&
		strings.HasSuffix(token, "]")
}

// Send posts one message and returns the push ticket id.
func (s *Sender) Send(ctx context.Context, token string, n recipient.Notification) (string, error) {
	msg := message{
		To:       token,
		Title:    n.Title,
		Body:     n.Body,
		Data:     n.Data,
		Sound:    n.Sound,
		Priority: n.Priority,
	}
	if msg.Sound == "" {
		msg.Sound = recipient.DefaultSound
	}
	if msg.Priority == "" {
		msg.Priority = recipient.DefaultPriority
	}

	return s.breaker.Execute(func() (string, error) {
		return s.post(ctx, msg)
	})
}

func (s *Sender) post(ctx context.Context, msg message) (string, error) {
	body, err := json.Marshal([]message{msg})
	if err != nil {
		return "", fmt.Errorf("failed to marshal expo message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.PushURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("expo transport failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read expo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		s.logger.Error("Expo push API returned non-OK status", "status", resp.StatusCode, "response", string(respBody))
		return "", fmt.Errorf("expo push API returned status %d", resp.StatusCode)
	}

	var parsed response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse expo response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return "", fmt.Errorf("expo push API error %s: %s", parsed.Errors[0].Code, parsed.Errors[0].Message)
	}
	if len(parsed.Data) == 0 {
		return "", fmt.Errorf("expo push API returned no ticket")
	}

	t := parsed.Data[0]
	if t.Status != "ok" {
		return "", newTicketError(t)
	}
	return t.ID, nil
}

// TicketError is a per-message rejection from Expo.
type TicketError struct {
	Code    string
	Message string
}

func (e *TicketError) Error() string {
	if e.Code == "" {
		return "expo ticket error: " + e.Message
	}
	return fmt.Sprintf("expo ticket error %s: %s", e.Code, e.Message)
}

func (e *TicketError) Unwrap() error {
	if e.Code == "DeviceNotRegistered" {
		return dispatch.ErrDeviceNotRegistered
	}
	return nil
}

func newTicketError(t ticket) error {
	te := &TicketError{Message: t.Message}
	if t.Details != nil {
		te.Code = t.Details.Error
	}
	return te
}

func isTicketError(err error) bool {
	var te *TicketError
	return errors.As(err, &te)
}
