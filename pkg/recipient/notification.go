package recipient

import (
	"fmt"
	"strings"
)

// Values of the data.type discriminator the mobile client routes taps on.
const (
	TypeTest            = "test"
	TypeUserMessage     = "user_message"
	TypeBroadcast       = "broadcast"
	TypeSystemBroadcast = "system_broadcast"
)

const (
	DefaultSound    = "default"
	DefaultPriority = "high"
)

// Notification is a push request. Sound and Priority are fixed by Normalize.
type Notification struct {
	Title    string         `json:"title"`
	Body     string         `json:"body,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Sound    string         `json:"sound,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

// Normalize validates the notification and applies the fixed sound/priority settings.
func (n Notification) Normalize() (Notification, error) {
	if strings.TrimSpace(n.Title) == "" {
		return n, fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	n.Sound = DefaultSound
	n.Priority = DefaultPriority
	return n, nil
}

// WithData returns a copy whose data is the caller's data overlaid with extra.
func (n Notification) WithData(extra map[string]any) Notification {
	merged := make(map[string]any, len(n.Data)+len(extra))
	for k, v := range n.Data {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	n.Data = merged
	return n
}

// StringData flattens Data for transports that only carry string values.
func (n Notification) StringData() map[string]string {
	if len(n.Data) == 0 {
		return nil
	}
	out := make(map[string]string, len(n.Data))
	for k, v := range n.Data {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}
