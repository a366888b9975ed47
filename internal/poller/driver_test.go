package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"crouswatch/internal/eventbus"
	"crouswatch/internal/watch"
	"crouswatch/pkg/logx"
)

type fakeRunner struct {
	calls   atomic.Int32
	resets  atomic.Int32
	running atomic.Int32
	overlap atomic.Bool
	gate    chan struct{} // when non-nil, RunCycle blocks until it is closed
	entered chan struct{}
	panics  bool
}

func (f *fakeRunner) RunCycle(ctx context.Context) (watch.Report, error) {
	if f.running.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.running.Add(-1)
	f.calls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.panics {
		panic("fetch exploded")
	}
	return watch.Report{CycleID: "c", Outcome: watch.OutcomeOK}, nil
}

func (f *fakeRunner) Reset() int {
	if f.running.Load() > 0 {
		f.overlap.Store(true)
	}
	f.resets.Add(1)
	return 3
}

func TestNormalizeSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1m", want: "@every 1m0s"},
		{in: " 90s ", want: "@every 1m30s"},
		{in: "00:05", want: "@every 5m0s"},
		{in: "@every 30s", want: "@every 30s"},
		{in: "*/5 * * * *", want: "*/5 * * * *"},
		{in: "", wantErr: true},
		{in: "0s", wantErr: true},
		{in: "-1m", wantErr: true},
		{in: "00:75", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "* * *", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeSchedule(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeSchedule(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("NormalizeSchedule(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestTickSkipsWhileCycleRunning(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	d, err := New(Config{Schedule: "1h"}, r, logx.Nop(), bus)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := d.TriggerNow(context.Background())
		done <- err
	}()
	<-r.entered

	d.tick(TriggerTimer)
	if got := d.Status().Skipped; got != 1 {
		t.Fatalf("Skipped = %d, want 1", got)
	}
	select {
	case ev := <-events:
		if ev.Type != eventbus.CycleSkipped {
			t.Fatalf("event = %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("no skip event")
	}

	close(r.gate)
	if err := <-done; err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	if got := r.calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestTriggerNowWaitsForSlotAndHonoursContext(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	d, err := New(Config{Schedule: "1h"}, r, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go func() { _, _ = d.TriggerNow(context.Background()) }()
	<-r.entered

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := d.TriggerNow(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if _, err := d.Reset(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Reset err = %v, want deadline exceeded", err)
	}

	close(r.gate)
	n, err := d.Reset(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("Reset = %d, %v", n, err)
	}
	if r.overlap.Load() {
		t.Fatalf("reset overlapped a cycle")
	}
}

func TestConcurrentTriggersNeverOverlap(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{}
	d, err := New(Config{Schedule: "1h"}, r, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := d.TriggerNow(context.Background())
			errs <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("TriggerNow: %v", err)
		}
	}
	if r.overlap.Load() {
		t.Fatalf("cycles overlapped")
	}
	if got := d.Status().Cycles; got != 8 {
		t.Fatalf("Cycles = %d, want 8", got)
	}
}

func TestStartRunsImmediateCycleAndStop(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{entered: make(chan struct{}, 1)}
	d, err := New(Config{Schedule: "1h"}, r, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-r.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("startup cycle did not run")
	}
	st := d.Status()
	if !st.Running || st.Next.IsZero() || st.Schedule != "@every 1h0m0s" {
		t.Fatalf("status = %+v", st)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := d.TriggerNow(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop err = %v, want ErrStopped", err)
	}
}

func TestPanickingCycleIsReported(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{panics: true}
	d, err := New(Config{Schedule: "1h"}, r, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := d.TriggerNow(context.Background()); err == nil {
		t.Fatalf("expected error from panicking cycle")
	}
	last := d.Status().Last
	if last == nil || last.Report.Outcome != watch.OutcomeFailed || last.Trigger != TriggerManual {
		t.Fatalf("last = %+v", last)
	}
	// The slot was released.
	r.panics = false
	if _, err := d.TriggerNow(context.Background()); err != nil {
		t.Fatalf("second trigger: %v", err)
	}
}

func TestApplyKeepsOldScheduleOnError(t *testing.T) {
	t.Parallel()
	d, err := New(Config{Schedule: "1m"}, &fakeRunner{}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Apply(Config{Schedule: "nope"}); err == nil {
		t.Fatalf("expected error")
	}
	if got := d.Status().Schedule; got != "@every 1m0s" {
		t.Fatalf("schedule = %q", got)
	}
	if err := d.Apply(Config{Schedule: "2m"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := d.Status().Schedule; got != "@every 2m0s" {
		t.Fatalf("schedule = %q", got)
	}
}
