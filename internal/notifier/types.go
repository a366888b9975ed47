package notifier

import (
	"context"
	"time"

	"crouswatch/internal/watch"
)

// Config controls pacing and retention.
type Config struct {
	RatePerSec  int
	SendTimeout time.Duration
	HistorySize int
}

// Channel is one outbound delivery path.
type Channel interface {
	Name() string
	Send(ctx context.Context, n watch.Notification) error
}

// DeliveryEvent is published on the event bus after every send attempt.
type DeliveryEvent struct {
	Channel   string        `json:"channel"`
	Kind      watch.Kind    `json:"kind"`
	ListingID string        `json:"listing_id"`
	CycleID   string        `json:"cycle_id,omitempty"`
	At        time.Time     `json:"at"`
	Took      time.Duration `json:"took"`
	Error     string        `json:"error,omitempty"`
}
