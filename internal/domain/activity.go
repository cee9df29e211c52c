package domain

import "time"

type ActivityStatus string

const (
	ActivitySuccess ActivityStatus = "success"
	ActivityWarning ActivityStatus = "warning"
	ActivityError   ActivityStatus = "error"
)

// ActivityLogEntry is an immutable line of the user-facing audit trail.
type ActivityLogEntry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Message   string         `json:"message"`
	Status    ActivityStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}
