// Package watch is the change-detection and notification-scheduling engine.
//
// One cycle takes a freshly fetched snapshot of listings, compares it with the
// tracked state, decides which notifications are due and commits the next
// state. Fetching and delivery are collaborators behind small interfaces.
package watch

import (
	"context"
	"math"
	"time"

	"crouswatch/internal/listing"
)

// Kind is the reason a notification is sent.
type Kind string

const (
	KindNew         Kind = "NEW"
	KindReminder    Kind = "REMINDER"
	KindDisappeared Kind = "DISAPPEARED"
)

// Observed is a fetched record with its resolved identity.
type Observed struct {
	ID     listing.Identity
	Record listing.Record
}

// Tracked is a listing known to the engine.
type Tracked struct {
	ID          listing.Identity `json:"id"`
	Record      listing.Record   `json:"record"`
	FirstSeenAt time.Time        `json:"first_seen_at"`
	LastSeenAt  time.Time        `json:"last_seen_at"`
}

// Notification is one decided action for one listing.
type Notification struct {
	CycleID string    `json:"cycle_id"`
	Kind    Kind      `json:"kind"`
	Listing Tracked   `json:"listing"`
	At      time.Time `json:"at"`
	// LastNotifiedAt is zero when the listing was never notified.
	LastNotifiedAt time.Time `json:"last_notified_at,omitzero"`
}

// ElapsedMinutes is the rounded time since the previous notification.
// ok is false for NEW notices and for never-notified reminders.
func (n Notification) ElapsedMinutes() (minutes int, ok bool) {
	if n.Kind != KindReminder || n.LastNotifiedAt.IsZero() {
		return 0, false
	}
	return int(math.Round(n.At.Sub(n.LastNotifiedAt).Minutes())), true
}

// Fetcher supplies one snapshot per cycle. An error means the poll failed and
// the cycle must not touch state; an empty slice is a valid empty snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) ([]listing.Record, error)
}

// Dispatcher delivers a notification through the configured channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// DispatcherFunc adapts a plain function to Dispatcher.
type DispatcherFunc func(ctx context.Context, n Notification) error

func (f DispatcherFunc) Dispatch(ctx context.Context, n Notification) error { return f(ctx, n) }
