// Package recipient contains the domain model shared by the push broadcast service:
// recipients, notifications, delivery outcomes and the store contract.
package recipient

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAuthenticationRequired is returned when an operation needs a caller identity that is absent.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrNotFound is returned when a recipient id does not resolve.
	ErrNotFound = errors.New("recipient not found")
	// ErrInactiveRecipient is returned when a device has been explicitly deactivated.
	ErrInactiveRecipient = errors.New("recipient is inactive")
	// ErrInvalidRequest is returned for malformed input (missing title, empty token...).
	ErrInvalidRequest = errors.New("invalid request")
)

// Kind selects which recipient flavour a deployment serves.
type Kind string

const (
	KindUser   Kind = "user"
	KindDevice Kind = "device"
)

// ParseKind validates a configured variant name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindUser, KindDevice:
		return Kind(s), nil
	}
	return "", errors.New("variant must be 'user' or 'device'")
}

// Recipient is either an authenticated user or a self-registered device.
type Recipient struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Email      string     `json:"email,omitempty"`
	Name       string     `json:"name,omitempty"`
	Token      string     `json:"pushToken,omitempty"`
	DeviceID   string     `json:"deviceId,omitempty"`
	Platform   string     `json:"platform,omitempty"`
	AppVersion string     `json:"appVersion,omitempty"`
	LastSeen   *time.Time `json:"lastSeen,omitempty"`
	IsActive   bool       `json:"isActive"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// HasToken reports whether the recipient holds a push token.
func (r Recipient) HasToken() bool {
	return r.Token != ""
}

// Eligible reports whether a broadcast should attempt delivery to this recipient.
func (r Recipient) Eligible() bool {
	return r.HasToken() && r.IsActive
}

// DisplayName is used in broadcast reports.
func (r Recipient) DisplayName() string {
	switch {
	case r.Name != "":
		return r.Name
	case r.Email != "":
		return r.Email
	case r.DeviceID != "":
		return r.DeviceID
	}
	return r.ID
}

// Profile carries the optional user attributes supplied with a token registration.
type Profile struct {
	Email string
	Name  string
}

// DeviceInfo carries the optional device metadata supplied with a registration.
type DeviceInfo struct {
	DeviceID   string
	Platform   string
	AppVersion string
}

// Store persists recipients. Implementations must make the upserts atomic on their key:
// concurrent registrations of one token never produce two rows.
type Store interface {
	// UpsertUserToken creates the user if needed and sets its token. A token belongs to one
	// installation, so it is cleared from any other user; their ids are returned.
	UpsertUserToken(ctx context.Context, userID string, profile Profile, token string) (Recipient, []string, error)
	// UpsertDeviceToken finds a device by token (then by device id) and refreshes it, or creates one.
	// A device id stays on one record: a stale record holding it is deactivated.
	UpsertDeviceToken(ctx context.Context, token string, info DeviceInfo) (Recipient, error)
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (Recipient, error)
	List(ctx context.Context) ([]Recipient, error)
	// ClearToken removes a user's token or deactivates a device. Returns ErrNotFound for unknown ids.
	ClearToken(ctx context.Context, id string) error
	// Touch records the last time a recipient was sent to.
	Touch(ctx context.Context, id string, at time.Time) error
}
