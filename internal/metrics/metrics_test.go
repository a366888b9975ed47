package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"crouswatch/internal/eventbus"
	"crouswatch/internal/notifier"
	"crouswatch/internal/poller"
	"crouswatch/internal/watch"
	"crouswatch/pkg/logx"
)

type fixedState struct{ tracked, ledger int }

func (f fixedState) Len() (int, int) { return f.tracked, f.ledger }

func TestObserve(t *testing.T) {
	t.Parallel()
	m := New(fixedState{tracked: 3, ledger: 2}, logx.Nop())

	m.Observe(eventbus.Event{Type: eventbus.CycleCompleted, Data: watch.Report{Outcome: watch.OutcomeOK, Observed: 4, Duration: time.Second}})
	m.Observe(eventbus.Event{Type: eventbus.CycleFailed, Data: watch.Report{Outcome: watch.OutcomeFailed, Err: errors.New("x")}})
	m.Observe(eventbus.Event{Type: eventbus.CycleSkipped, Data: poller.SkipInfo{Trigger: poller.TriggerTimer}})
	m.Observe(eventbus.Event{Type: eventbus.StateReset, Data: watch.ResetInfo{Dropped: 1}})
	m.Observe(eventbus.Event{Type: eventbus.NotifySent, Data: notifier.DeliveryEvent{Channel: "telegram", Kind: watch.KindNew}})
	m.Observe(eventbus.Event{Type: eventbus.NotifyFailed, Data: notifier.DeliveryEvent{Channel: "email", Kind: watch.KindReminder}})
	m.Observe(eventbus.Event{Type: "unknown", Data: 42})
	m.Observe(eventbus.Event{Type: eventbus.CycleCompleted, Data: "not a report"})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"cycles ok", testutil.ToFloat64(m.cycles.WithLabelValues("ok")), 1},
		{"cycles failed", testutil.ToFloat64(m.cycles.WithLabelValues("failed")), 1},
		{"observed", testutil.ToFloat64(m.observed), 4},
		{"skipped", testutil.ToFloat64(m.skipped), 1},
		{"resets", testutil.ToFloat64(m.resets), 1},
		{"sent", testutil.ToFloat64(m.notifications.WithLabelValues("NEW", "telegram", "ok")), 1},
		{"failed", testutil.ToFloat64(m.notifications.WithLabelValues("REMINDER", "email", "failed")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if n := testutil.CollectAndCount(m.cycleDuration); n != 1 {
		t.Fatalf("histogram series = %d", n)
	}
}

func TestHandlerExposesStateGauges(t *testing.T) {
	t.Parallel()
	m := New(fixedState{tracked: 5, ledger: 4}, logx.Nop())
	bus := eventbus.New()
	_, unsub := bus.Subscribe(1)
	defer unsub()
	bus.Publish(eventbus.Event{Type: eventbus.StateReset})
	bus.Publish(eventbus.Event{Type: eventbus.StateReset})
	m.TrackBus(bus)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"crouswatch_tracked_listings 5",
		"crouswatch_ledger_entries 4",
		"crouswatch_events_dropped_total 1",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("exposition missing %q", want)
		}
	}
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	m := New(nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(m.resets) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("event not consumed")
		}
		// Publishing before Subscribe ran is dropped; keep publishing.
		bus.Publish(eventbus.Event{Type: eventbus.StateReset})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}
