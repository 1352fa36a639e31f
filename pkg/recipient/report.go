package recipient

// Status classifies one recipient in a broadcast.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusNoToken  Status = "no_token"
	StatusInactive Status = "inactive"
)

// Outcome is the per-recipient line of a broadcast report.
type Outcome struct {
	RecipientID    string `json:"recipientId"`
	Name           string `json:"name,omitempty"`
	Status         Status `json:"status"`
	NotificationID string `json:"notificationId,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Report summarises a broadcast. Success+Failed == Total (the eligible count) and
// len(Details) == TotalRecipients.
type Report struct {
	Success         int       `json:"success"`
	Failed          int       `json:"failed"`
	Total           int       `json:"total"`
	TotalRecipients int       `json:"totalRecipients"`
	Eligible        int       `json:"eligible"`
	Ineligible      int       `json:"ineligible"`
	Details         []Outcome `json:"details"`
}

// PushStatus is the fixed-shape answer of a status query.
type PushStatus struct {
	RecipientID string `json:"recipientId"`
	HasToken    bool   `json:"hasToken"`
	Paused      bool   `json:"paused"`
	IsActive    *bool  `json:"isActive,omitempty"`
}
