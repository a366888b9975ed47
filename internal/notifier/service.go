package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"crouswatch/internal/eventbus"
	"crouswatch/internal/storage"
	"crouswatch/internal/watch"
	"crouswatch/pkg/logx"
)

var ErrNoChannels = errors.New("notifier: no channel configured")

const (
	defaultRatePerSec  = 3
	defaultSendTimeout = 15 * time.Second
	defaultHistorySize = 300
)

// Service implements watch.Dispatcher.
//
// It is safe for concurrent use; channels and config can be swapped while a
// dispatch is in flight, which keeps the snapshot it started with.
type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	now   func() time.Time

	mu       sync.Mutex
	cfg      Config
	limiter  *rate.Limiter
	channels []Channel

	hmu     sync.Mutex
	history []storage.Delivery
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store, channels ...Channel) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		log:      log.With(logx.String("comp", "notifier")),
		bus:      bus,
		store:    store,
		now:      time.Now,
		channels: channels,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so a burst of NEW listings
	// goes out without waiting.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetChannels replaces the delivery channels.
func (s *Service) SetChannels(channels ...Channel) {
	s.mu.Lock()
	s.channels = append([]Channel(nil), channels...)
	s.mu.Unlock()
}

// Channels returns the names of the configured channels.
func (s *Service) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c.Name())
	}
	return out
}

// Dispatch sends n on every channel. The returned error joins the failures
// of individual channels; it is nil only if every channel succeeded.
func (s *Service) Dispatch(ctx context.Context, n watch.Notification) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	channels := s.channels
	s.mu.Unlock()

	if len(channels) == 0 {
		return ErrNoChannels
	}

	var errs []error
	for _, ch := range channels {
		if err := lim.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		start := s.now()
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := ch.Send(callCtx, n)
		cancel()
		took := s.now().Sub(start)

		s.record(ctx, cfg, ch.Name(), n, start, took, err)
		if err != nil {
			s.log.Warn("send failed",
				logx.String("channel", ch.Name()),
				logx.String("kind", string(n.Kind)),
				logx.String("listing", string(n.Listing.ID)),
				logx.Err(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		s.log.Info("notification sent",
			logx.String("channel", ch.Name()),
			logx.String("kind", string(n.Kind)),
			logx.String("title", n.Listing.Record.Title),
			logx.Duration("took", took),
		)
	}
	return errors.Join(errs...)
}

func (s *Service) record(ctx context.Context, cfg Config, channel string, n watch.Notification, at time.Time, took time.Duration, err error) {
	d := storage.Delivery{
		At:        at,
		CycleID:   n.CycleID,
		Kind:      string(n.Kind),
		ListingID: string(n.Listing.ID),
		Title:     n.Listing.Record.Title,
		Channel:   channel,
		OK:        err == nil,
		TookMS:    took.Milliseconds(),
	}
	ev := DeliveryEvent{Channel: channel, Kind: n.Kind, ListingID: d.ListingID, CycleID: n.CycleID, At: at, Took: took}
	typ := eventbus.NotifySent
	if err != nil {
		d.Error = err.Error()
		ev.Error = d.Error
		typ = eventbus.NotifyFailed
	}

	s.hmu.Lock()
	s.history = append(s.history, d)
	if len(s.history) > cfg.HistorySize {
		s.history = append(s.history[:0], s.history[len(s.history)-cfg.HistorySize:]...)
	}
	s.hmu.Unlock()

	if s.store != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 250*time.Millisecond)
		if err := s.store.AppendDelivery(sctx, d); err != nil {
			s.log.Debug("journal append failed", logx.Err(err))
		}
		cancel()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}

// History returns up to limit recent deliveries, newest first.
func (s *Service) History(limit int) []storage.Delivery {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]storage.Delivery, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}
