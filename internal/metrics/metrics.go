// Package metrics exposes Prometheus metrics for the watcher.
//
// Counters and the cycle histogram are fed from the event bus; tracked and
// ledger sizes are read from the state at scrape time.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crouswatch/internal/eventbus"
	"crouswatch/internal/notifier"
	"crouswatch/internal/poller"
	"crouswatch/internal/watch"
	"crouswatch/pkg/logx"
)

const namespace = "crouswatch"

// StateReader is the part of the state store the collector reads.
type StateReader interface {
	Len() (tracked, ledger int)
}

var (
	trackedDesc = prometheus.NewDesc(
		namespace+"_tracked_listings",
		"Listings currently tracked",
		nil, nil,
	)
	ledgerDesc = prometheus.NewDesc(
		namespace+"_ledger_entries",
		"Listings with a recorded last notification time",
		nil, nil,
	)
)

// stateCollector reads the state store on each scrape.
type stateCollector struct {
	state StateReader
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- trackedDesc
	ch <- ledgerDesc
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	tracked, ledger := c.state.Len()
	ch <- prometheus.MustNewConstMetric(trackedDesc, prometheus.GaugeValue, float64(tracked))
	ch <- prometheus.MustNewConstMetric(ledgerDesc, prometheus.GaugeValue, float64(ledger))
}

type Metrics struct {
	reg *prometheus.Registry
	log logx.Logger

	cycles        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	observed      prometheus.Gauge
	skipped       prometheus.Counter
	resets        prometheus.Counter
}

// New builds a registry with process and Go collectors. state may be nil.
func New(state StateReader, log logx.Logger) *Metrics {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		log: log.With(logx.String("comp", "metrics")),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Detection cycles by outcome",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Delivery attempts by kind, channel and outcome",
		}, []string{"kind", "channel", "outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a detection cycle, fetch included",
			Buckets:   []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		}),
		observed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_observed_listings",
			Help:      "Listings seen on the page by the last successful cycle",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_skipped_total",
			Help:      "Timer ticks skipped because a cycle was still running",
		}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_resets_total",
			Help:      "Operator state resets",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles, m.notifications, m.cycleDuration, m.observed, m.skipped, m.resets,
	)
	if state != nil {
		m.reg.MustRegister(&stateCollector{state: state})
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// TrackBus exports the bus drop counter. Call once.
func (m *Metrics) TrackBus(bus eventbus.Bus) {
	m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Bus events lost because a subscriber lagged",
	}, func() float64 { return float64(bus.Dropped()) }))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Observe updates metrics for one bus event. Unknown events are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.CycleCompleted, eventbus.CycleFailed:
		rep, ok := e.Data.(watch.Report)
		if !ok {
			return
		}
		outcome := rep.Outcome
		if outcome == "" {
			outcome = watch.OutcomeFailed
		}
		m.cycles.WithLabelValues(outcome).Inc()
		m.cycleDuration.Observe(rep.Duration.Seconds())
		if e.Type == eventbus.CycleCompleted {
			m.observed.Set(float64(rep.Observed))
		}
	case eventbus.CycleSkipped:
		if _, ok := e.Data.(poller.SkipInfo); ok {
			m.skipped.Inc()
		}
	case eventbus.StateReset:
		m.resets.Inc()
	case eventbus.NotifySent, eventbus.NotifyFailed:
		de, ok := e.Data.(notifier.DeliveryEvent)
		if !ok {
			return
		}
		outcome := "ok"
		if e.Type == eventbus.NotifyFailed {
			outcome = "failed"
		}
		m.notifications.WithLabelValues(string(de.Kind), de.Channel, outcome).Inc()
	}
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	m.log.Debug("metrics consumer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
