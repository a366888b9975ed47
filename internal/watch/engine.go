package watch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"crouswatch/internal/eventbus"
	"crouswatch/internal/listing"
	"crouswatch/pkg/logx"
)

// Config is the hot-swappable part of the engine configuration.
type Config struct {
	ReminderInterval  time.Duration
	NotifyDisappeared bool
	FetchTimeout      time.Duration
}

// Options wires an Engine. Fetcher and Dispatcher are required.
type Options struct {
	Fetcher    Fetcher
	Dispatcher Dispatcher
	State      *State
	Bus        eventbus.Bus
	Log        logx.Logger
	Config     Config

	Now   func() time.Time
	NewID func() string
}

// Outcome of one cycle.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Report summarizes one cycle.
type Report struct {
	CycleID     string
	Outcome     string
	StartedAt   time.Time
	Duration    time.Duration
	Observed    int
	Tracked     int
	New         int
	Reminders   int
	Disappeared int
	// Notifications lists what was scheduled, in dispatch order.
	Notifications []Notification
	DispatchFails int
	Err           error
}

// ResetInfo is the payload of eventbus.StateReset.
type ResetInfo struct {
	Dropped int
	At      time.Time
}

// Engine runs one change-detection cycle at a time. RunCycle and Reset are
// not safe for concurrent use; the poll driver serializes them.
type Engine struct {
	fetch    Fetcher
	dispatch Dispatcher
	state    *State
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time
	newID    func() string

	cfg atomic.Pointer[Config]
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("watch: fetcher is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("watch: dispatcher is required")
	}
	if opts.State == nil {
		opts.State = NewState()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop{}
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.Config.ReminderInterval < 0 {
		return nil, fmt.Errorf("watch: reminder interval must be >= 0, got %s", opts.Config.ReminderInterval)
	}
	e := &Engine{
		fetch:    opts.Fetcher,
		dispatch: opts.Dispatcher,
		state:    opts.State,
		bus:      opts.Bus,
		log:      opts.Log.With(logx.String("comp", "watch")),
		now:      opts.Now,
		newID:    opts.NewID,
	}
	cfg := opts.Config
	e.cfg.Store(&cfg)
	return e, nil
}

// State returns the store owned by the engine.
func (e *Engine) State() *State { return e.state }

// Config returns the active configuration.
func (e *Engine) Config() Config { return *e.cfg.Load() }

// Apply swaps the configuration; the next cycle uses it.
func (e *Engine) Apply(cfg Config) error {
	if cfg.ReminderInterval < 0 {
		return fmt.Errorf("watch: reminder interval must be >= 0, got %s", cfg.ReminderInterval)
	}
	e.cfg.Store(&cfg)
	return nil
}

// RunCycle performs fetch, diff, schedule, commit and dispatch.
//
// A fetch error aborts the cycle before state is touched and is returned.
// Dispatch errors are logged and counted; the ledger is stamped for every
// scheduled listing whatever the delivery outcome.
func (e *Engine) RunCycle(ctx context.Context) (Report, error) {
	cfg := e.Config()
	rep := Report{CycleID: e.newID(), StartedAt: e.now()}
	log := e.log.With(logx.String("cycle", rep.CycleID))

	records, err := e.fetchSnapshot(ctx, cfg.FetchTimeout)
	if err != nil {
		rep.Outcome = OutcomeFailed
		rep.Err = err
		rep.Duration = e.now().Sub(rep.StartedAt)
		log.Warn("fetch failed; state left untouched", logx.Err(err))
		e.bus.Publish(eventbus.Event{Type: eventbus.CycleFailed, Data: rep})
		return rep, fmt.Errorf("fetch: %w", err)
	}

	now := e.now()
	observed := Resolve(records)
	prevLedger := e.state.Ledger()
	d := Diff(e.state.Tracked(), observed, now)
	scheduled := Schedule(d, prevLedger, now, cfg.ReminderInterval)
	for i := range scheduled {
		scheduled[i].CycleID = rep.CycleID
	}

	e.state.Commit(d.Next, IDs(d.Disappeared))

	rep.Observed = len(records)
	rep.Tracked = len(d.Next)
	rep.New = len(d.New)
	rep.Disappeared = len(d.Disappeared)

	for _, n := range scheduled {
		if n.Kind == KindReminder {
			rep.Reminders++
		}
		if err := e.dispatch.Dispatch(ctx, n); err != nil {
			rep.DispatchFails++
			log.Warn("dispatch failed",
				logx.String("kind", string(n.Kind)),
				logx.String("listing", string(n.Listing.ID)),
				logx.Err(err),
			)
		}
		e.state.MarkNotified(n.Listing.ID, now)
	}
	rep.Notifications = scheduled

	if cfg.NotifyDisappeared {
		for _, t := range d.Disappeared {
			n := Notification{
				CycleID:        rep.CycleID,
				Kind:           KindDisappeared,
				Listing:        t,
				At:             now,
				LastNotifiedAt: prevLedger[t.ID],
			}
			if err := e.dispatch.Dispatch(ctx, n); err != nil {
				rep.DispatchFails++
				log.Warn("dispatch failed",
					logx.String("kind", string(n.Kind)),
					logx.String("listing", string(t.ID)),
					logx.Err(err),
				)
			}
			rep.Notifications = append(rep.Notifications, n)
		}
	}

	rep.Outcome = OutcomeOK
	rep.Duration = e.now().Sub(rep.StartedAt)
	log.Info("cycle done",
		logx.Int("observed", rep.Observed),
		logx.Int("tracked", rep.Tracked),
		logx.Int("new", rep.New),
		logx.Int("reminders", rep.Reminders),
		logx.Int("disappeared", rep.Disappeared),
		logx.Int("dispatch_fails", rep.DispatchFails),
		logx.Duration("took", rep.Duration),
	)
	e.bus.Publish(eventbus.Event{Type: eventbus.CycleCompleted, Data: rep})
	return rep, nil
}

func (e *Engine) fetchSnapshot(ctx context.Context, timeout time.Duration) (recs []listing.Record, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetcher panic: %v", r)
		}
	}()
	return e.fetch.Fetch(ctx)
}

// Reset clears the tracked set and the ledger.
func (e *Engine) Reset() int {
	n := e.state.Reset()
	at := e.now()
	e.log.Info("state reset", logx.Int("dropped", n))
	e.bus.Publish(eventbus.Event{Type: eventbus.StateReset, Time: at, Data: ResetInfo{Dropped: n, At: at}})
	return n
}
