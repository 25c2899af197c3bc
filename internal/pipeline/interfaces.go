package pipeline

import (
	"context"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes digests for change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Notification is the payload sent when a significant change is detected.
type Notification struct {
	ProjectID string        `json:"project_id"`
	Subject   string        `json:"subject"`
	Body      string        `json:"body"`
	Changes   ChangeSummary `json:"changes"`
}

// Notifier delivers significant-change alerts (email, webhook, pubsub).
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
