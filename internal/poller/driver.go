// Package poller drives the watch engine on a schedule.
//
// At most one cycle runs at a time. Timer ticks that find a cycle in flight
// are skipped; operator triggers wait for the running cycle to finish.
package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"crouswatch/internal/eventbus"
	"crouswatch/internal/watch"
	"crouswatch/pkg/logx"
)

// ErrStopped is returned by triggers issued after Stop.
var ErrStopped = errors.New("poller: stopped")

// Runner is the cycle owner.
type Runner interface {
	RunCycle(ctx context.Context) (watch.Report, error)
	Reset() int
}

// Trigger names the origin of a cycle.
const (
	TriggerStartup = "startup"
	TriggerTimer   = "timer"
	TriggerManual  = "manual"
)

// Config configures the driver.
type Config struct {
	// Schedule accepts anything NormalizeSchedule does.
	Schedule string
	// SkipStartup disables the immediate cycle on Start.
	SkipStartup bool
}

// LastCycle describes the most recent finished cycle.
type LastCycle struct {
	Trigger string
	Report  watch.Report
}

// Status is a point-in-time view for the status surface.
type Status struct {
	Schedule string
	Running  bool
	Busy     bool
	Cycles   uint64
	Skipped  uint64
	Last     *LastCycle
	Next     time.Time
}

// SkipInfo is the payload of eventbus.CycleSkipped.
type SkipInfo struct {
	Trigger string
	At      time.Time
}

type Driver struct {
	runner Runner
	log    logx.Logger
	bus    eventbus.Bus

	// slot holds one token while a cycle or reset owns the engine.
	slot chan struct{}

	mu      sync.Mutex
	cfg     Config
	spec    string
	c       *cron.Cron
	entry   cron.EntryID
	ctx     context.Context
	stopped bool
	wg      sync.WaitGroup

	cycles  atomic.Uint64
	skipped atomic.Uint64
	last    atomic.Pointer[LastCycle]
}

func New(cfg Config, r Runner, log logx.Logger, bus eventbus.Bus) (*Driver, error) {
	if r == nil {
		return nil, errors.New("poller: runner is required")
	}
	spec, err := NormalizeSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Driver{
		runner: r,
		log:    log.With(logx.String("comp", "poller")),
		bus:    bus,
		slot:   make(chan struct{}, 1),
		cfg:    cfg,
		spec:   spec,
	}, nil
}

// Start registers the schedule and, unless disabled, runs one cycle at once.
// Cycles started by the driver live until ctx is cancelled.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}
	if d.c != nil {
		return nil
	}
	d.ctx = ctx
	d.c = cron.New(cron.WithParser(parser), cron.WithLogger(cronLogger{log: d.log}))
	id, err := d.c.AddFunc(d.spec, func() { d.tick(TriggerTimer) })
	if err != nil {
		d.c = nil
		return fmt.Errorf("poller: register %q: %w", d.spec, err)
	}
	d.entry = id
	d.c.Start()
	d.log.Info("poller started", logx.String("schedule", d.spec), logx.Time("next", d.c.Entry(id).Next))

	if !d.cfg.SkipStartup {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.tick(TriggerStartup)
		}()
	}
	return nil
}

// Stop stops the timer and waits for an in-flight cycle, bounded by ctx.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	c := d.c
	d.c = nil
	d.stopped = true
	d.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	// Wait for a manual trigger still holding the slot.
	select {
	case d.slot <- struct{}{}:
		<-d.slot
	case <-ctx.Done():
		return ctx.Err()
	}
	d.log.Info("poller stopped")
	return nil
}

// Apply swaps the schedule live. An invalid schedule keeps the old one.
func (d *Driver) Apply(cfg Config) error {
	spec, err := NormalizeSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	if spec == d.spec {
		return nil
	}
	old := d.spec
	d.spec = spec
	if d.c != nil {
		d.c.Remove(d.entry)
		id, err := d.c.AddFunc(spec, func() { d.tick(TriggerTimer) })
		if err != nil {
			return fmt.Errorf("poller: register %q: %w", spec, err)
		}
		d.entry = id
	}
	d.log.Info("poll schedule changed", logx.String("from", old), logx.String("to", spec))
	return nil
}

// TriggerNow runs one cycle, waiting for a running one to finish first.
// Once started, the cycle is not cancelled by ctx.
func (d *Driver) TriggerNow(ctx context.Context) (watch.Report, error) {
	if err := d.acquire(ctx); err != nil {
		return watch.Report{}, err
	}
	defer d.release()
	return d.run(context.WithoutCancel(ctx), TriggerManual)
}

// Reset clears the engine state between cycles.
func (d *Driver) Reset(ctx context.Context) (int, error) {
	if err := d.acquire(ctx); err != nil {
		return 0, err
	}
	defer d.release()
	return d.runner.Reset(), nil
}

// Status returns the driver state.
func (d *Driver) Status() Status {
	d.mu.Lock()
	st := Status{Schedule: d.spec, Running: d.c != nil}
	if d.c != nil {
		st.Next = d.c.Entry(d.entry).Next
	}
	d.mu.Unlock()
	st.Busy = len(d.slot) > 0
	st.Cycles = d.cycles.Load()
	st.Skipped = d.skipped.Load()
	st.Last = d.last.Load()
	return st
}

func (d *Driver) acquire(ctx context.Context) error {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	select {
	case d.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) release() { <-d.slot }

func (d *Driver) tick(trigger string) {
	select {
	case d.slot <- struct{}{}:
	default:
		d.skipped.Add(1)
		d.log.Warn("cycle still running; tick skipped", logx.String("trigger", trigger))
		d.bus.Publish(eventbus.Event{Type: eventbus.CycleSkipped, Data: SkipInfo{Trigger: trigger, At: time.Now()}})
		return
	}
	defer d.release()

	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	_, _ = d.run(context.WithoutCancel(ctx), trigger)
}

// run executes one cycle with the slot held. Errors and panics are logged
// and reported, never propagated to the timer.
func (d *Driver) run(ctx context.Context, trigger string) (rep watch.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("cycle panicked", logx.String("trigger", trigger), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("cycle panic: %v", r)
			rep.Outcome = watch.OutcomeFailed
			rep.Err = err
		}
		d.cycles.Add(1)
		d.last.Store(&LastCycle{Trigger: trigger, Report: rep})
	}()
	rep, err = d.runner.RunCycle(ctx)
	if err != nil {
		d.log.Debug("cycle failed", logx.String("trigger", trigger), logx.String("cycle", rep.CycleID), logx.Err(err))
	}
	return rep, err
}

// cronLogger routes robfig/cron messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
