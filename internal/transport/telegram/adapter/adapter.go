// Package adapter connects crouswatch to the Telegram Bot API.
package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "crouswatch/internal/runtime/supervisor"
	kit "crouswatch/internal/transport"
	logx "crouswatch/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	stopGrace          = 2 * time.Second
)

type Config struct {
	Token       string
	PollTimeout time.Duration

	// APIURL overrides the Bot API endpoint; empty means api.telegram.org.
	APIURL string
	// Offline skips the getMe handshake. Tests only.
	Offline bool
}

// Adapter implements kit.Adapter and kit.CommandMenuUpdater.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	mu  sync.Mutex
	out chan<- kit.Update
	sup *rtsup.Supervisor

	dropped    atomic.Uint64
	dropReport rate.Sometimes

	menuMu sync.Mutex
	menu   []tele.Command
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = defaultPollTimeout
	}
	bot, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: poll},
		Client:  &http.Client{Timeout: poll + 10*time.Second},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		log:        log.With(logx.String("comp", "telegram")),
		bot:        bot,
		dropReport: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	bot.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := &kit.Message{ID: m.ID, ChatID: m.Chat.ID, ThreadID: m.ThreadID, Text: m.Text}
	if u := m.Sender; u != nil {
		msg.FromID, msg.FromUsername = u.ID, u.Username
	}
	a.forward(kit.Update{Kind: kit.UpdateMessage, Message: msg})
	return nil
}

// forward hands an update to the consumer without blocking the poller.
func (a *Adapter) forward(up kit.Update) {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- up:
		return
	default:
	}
	total := a.dropped.Add(1)
	a.dropReport.Do(func() {
		a.log.Warn("command consumer lagging, update dropped",
			logx.Uint64("dropped_total", total), logx.Int("queue", cap(out)))
	})
}

// Start long-polls in the background and forwards text messages to out.
// A second Start while running is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out = out
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))

	a.sup.Go0("telegram.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start returns only after bot.Stop; an earlier return is a crash
	// of the poller and gets restarted.
	a.sup.GoRestart("telegram.poll", func(c context.Context) error {
		a.log.Info("long polling")
		a.bot.Start()
		if c.Err() != nil {
			return nil
		}
		return errors.New("telegram poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

// Stop cancels polling and waits at most stopGrace (or ctx) for it. A long
// poll still in flight is abandoned.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup, a.out = nil, nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	switch err := sup.Wait(wctx); {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.log.Warn("telegram poller still busy at shutdown")
	default:
		a.log.Debug("telegram poller stopped", logx.Err(err))
	}
	if n := a.dropped.Load(); n > 0 {
		a.log.Info("telegram stopped", logx.Uint64("dropped_updates", n))
	}
	return nil
}
