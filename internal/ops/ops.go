// Package ops is the operator-facing view of a running watcher.
//
// The Telegram command router and the HTTP API both go through Service, so
// status output, forced checks, resets and their audit trail behave the same
// whichever surface the operator uses.
package ops

import (
	"context"
	"errors"
	"time"

	"crouswatch/internal/poller"
	"crouswatch/internal/storage"
	"crouswatch/internal/watch"
	"crouswatch/pkg/logx"
)

// StatusText is reported while the watcher runs.
const StatusText = "Bot CROUS actif"

// Driver is the poll driver surface ops needs.
type Driver interface {
	Status() poller.Status
	TriggerNow(ctx context.Context) (watch.Report, error)
	Reset(ctx context.Context) (int, error)
}

// Source describes what is being watched.
type Source interface {
	Zone() string
	SearchURL() string
}

// History serves recent deliveries when no journal is configured.
type History interface {
	History(limit int) []storage.Delivery
	Channels() []string
}

// Deps wires a Service. Driver and State are required.
type Deps struct {
	Driver  Driver
	State   *watch.State
	Watch   func() watch.Config
	Source  Source
	History History
	Store   storage.Store
	Log     logx.Logger
	Now     func() time.Time
}

// Actor identifies who asked for an operation.
type Actor struct {
	Source string // "telegram" | "http"
	ID     int64
	Name   string
}

// CycleView is the last finished cycle.
type CycleView struct {
	ID            string        `json:"id"`
	Trigger       string        `json:"trigger"`
	Outcome       string        `json:"outcome"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
	Observed      int           `json:"observed"`
	New           int           `json:"new"`
	Reminders     int           `json:"reminders"`
	Disappeared   int           `json:"disappeared"`
	DispatchFails int           `json:"dispatch_fails"`
	Error         string        `json:"error,omitempty"`
}

// Status is the watcher status as shown to operators.
type Status struct {
	Status           string     `json:"status"`
	Zone             string     `json:"zone"`
	URL              string     `json:"url_surveillance"`
	Tracked          int        `json:"logements_actuels"`
	LastCheck        *time.Time `json:"derniere_verification"`
	LedgerEntries    int        `json:"ledger_entries"`
	ReminderInterval string     `json:"reminder_interval"`
	Schedule         string     `json:"schedule"`
	Running          bool       `json:"running"`
	Busy             bool       `json:"busy"`
	Cycles           uint64     `json:"cycles"`
	Skipped          uint64     `json:"skipped"`
	NextCheck        *time.Time `json:"next_check,omitempty"`
	Channels         []string   `json:"channels"`
	LastCycle        *CycleView `json:"last_cycle,omitempty"`
}

type Service struct {
	d   Deps
	log logx.Logger
}

func New(d Deps) (*Service, error) {
	if d.Driver == nil || d.State == nil {
		return nil, errors.New("ops: driver and state are required")
	}
	if d.Watch == nil {
		d.Watch = func() watch.Config { return watch.Config{} }
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{d: d, log: log.With(logx.String("comp", "ops"))}, nil
}

func (s *Service) Status() Status {
	ds := s.d.Driver.Status()
	tracked, ledger := s.d.State.Len()
	st := Status{
		Status:           StatusText,
		Tracked:          tracked,
		LedgerEntries:    ledger,
		ReminderInterval: s.d.Watch().ReminderInterval.String(),
		Schedule:         ds.Schedule,
		Running:          ds.Running,
		Busy:             ds.Busy,
		Cycles:           ds.Cycles,
		Skipped:          ds.Skipped,
		Channels:         []string{},
	}
	if s.d.Source != nil {
		st.Zone = s.d.Source.Zone()
		st.URL = s.d.Source.SearchURL()
	}
	if s.d.History != nil {
		st.Channels = s.d.History.Channels()
	}
	if !ds.Next.IsZero() {
		next := ds.Next
		st.NextCheck = &next
	}
	if last := ds.Last; last != nil {
		r := last.Report
		st.LastCycle = &CycleView{
			ID:            r.CycleID,
			Trigger:       last.Trigger,
			Outcome:       r.Outcome,
			StartedAt:     r.StartedAt,
			Duration:      r.Duration,
			Observed:      r.Observed,
			New:           r.New,
			Reminders:     r.Reminders,
			Disappeared:   r.Disappeared,
			DispatchFails: r.DispatchFails,
		}
		if r.Err != nil {
			st.LastCycle.Error = r.Err.Error()
		}
		if !r.StartedAt.IsZero() {
			at := r.StartedAt
			st.LastCheck = &at
		}
	}
	return st
}

// Listings returns the tracked listings, oldest first.
func (s *Service) Listings() watch.Snapshot {
	return s.d.State.Snapshot()
}

// Check forces one cycle now.
func (s *Service) Check(ctx context.Context, who Actor) (watch.Report, error) {
	rep, err := s.d.Driver.TriggerNow(ctx)
	s.audit(ctx, who, "check", rep.CycleID, err)
	return rep, err
}

// Reset drops every tracked listing and the notification ledger.
func (s *Service) Reset(ctx context.Context, who Actor) (int, error) {
	n, err := s.d.Driver.Reset(ctx)
	s.audit(ctx, who, "reset", "", err)
	return n, err
}

// Deliveries returns recent delivery attempts, newest first. The journal is
// preferred because it outlives restarts; the in-memory history is the
// fallback.
func (s *Service) Deliveries(ctx context.Context, limit int) ([]storage.Delivery, error) {
	if s.d.Store != nil {
		out, err := s.d.Store.RecentDeliveries(ctx, limit)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, storage.ErrDisabled) {
			return nil, err
		}
	}
	if s.d.History == nil {
		return []storage.Delivery{}, nil
	}
	return s.d.History.History(limit), nil
}

func (s *Service) audit(ctx context.Context, who Actor, action, detail string, err error) {
	fields := []logx.Field{
		logx.String("action", action),
		logx.String("source", who.Source),
		logx.Int64("actor_id", who.ID),
	}
	if err != nil {
		s.log.Warn("operator action failed", append(fields, logx.Err(err))...)
	} else {
		s.log.Info("operator action", fields...)
	}
	if s.d.Store == nil {
		return
	}
	e := storage.AuditEntry{
		At:      s.d.Now(),
		Source:  who.Source,
		ActorID: who.ID,
		Actor:   who.Name,
		Action:  action,
		Detail:  detail,
		OK:      err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 250*time.Millisecond)
	defer cancel()
	if aerr := s.d.Store.AppendAudit(actx, e); aerr != nil {
		s.log.Debug("audit append failed", logx.Err(aerr))
	}
}
