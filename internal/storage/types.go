package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Delivery records one send attempt on one channel.
type Delivery struct {
	At        time.Time `json:"at"`
	CycleID   string    `json:"cycle_id,omitempty"`
	Kind      string    `json:"kind"`
	ListingID string    `json:"listing_id"`
	Title     string    `json:"title,omitempty"`
	Channel   string    `json:"channel"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Source  string    `json:"source"` // "telegram" | "http"
	ActorID int64     `json:"actor_id,omitempty"`
	Actor   string    `json:"actor,omitempty"`
	Action  string    `json:"action"`
	Detail  string    `json:"detail,omitempty"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
}

// Store is the journal API.
type Store interface {
	AppendDelivery(ctx context.Context, d Delivery) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentDeliveries returns up to limit deliveries, newest first.
	RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error)
	Close() error
}
