// Package app wires the watcher components together and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"crouswatch/internal/config"
	"crouswatch/internal/eventbus"
	"crouswatch/internal/httpapi"
	"crouswatch/internal/metrics"
	"crouswatch/internal/notifier"
	"crouswatch/internal/ops"
	"crouswatch/internal/poller"
	"crouswatch/internal/runtime/supervisor"
	"crouswatch/internal/source/crous"
	"crouswatch/internal/storage"
	kit "crouswatch/internal/transport"
	telegram "crouswatch/internal/transport/telegram/adapter"
	"crouswatch/internal/transport/telegram/router"
	"crouswatch/internal/watch"
	"crouswatch/pkg/logx"
	"crouswatch/pkg/systemd"
)

// StopReason is logged on shutdown.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	fetcher *crous.Fetcher
	notif   *notifier.Service
	engine  *watch.Engine
	driver  *poller.Driver
	ops     *ops.Service
	metrics *metrics.Metrics

	// adapter is nil when no bot token is configured; cmdm is nil when the
	// command router is disabled.
	adapter *telegram.Adapter
	cmdm    *router.CommandManager
	http    *httpapi.Server
	httpCfg httpapi.Config

	sd      systemd.Notifier
	updates chan kit.Update
}

// NewApp loads the config at cfgPath and builds every component. Nothing is
// started.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, updates: make(chan kit.Update, 256)}

	// The adapter logs through a console logger until the log service
	// exists; the log service needs the adapter as its Telegram sink.
	var sender kit.Sender
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		tc, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(tc, logx.NewConsole("INFO"))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.adapter = ad
		sender = ad
	}

	a.logs, a.log = logx.New(mapLogConfig(cfg), sender)
	a.log = a.log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, a.log)
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	srcCfg, err := mapSourceConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.fetcher = crous.New(srcCfg, a.log)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(ncfg, a.log, a.bus, a.store)
	a.notif.SetChannels(a.buildChannels(cfg)...)

	wcfg, err := mapWatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.engine, err = watch.NewEngine(watch.Options{
		Fetcher:    a.fetcher,
		Dispatcher: a.notif,
		Bus:        a.bus,
		Log:        a.log,
		Config:     wcfg,
	})
	if err != nil {
		return nil, err
	}

	pcfg, err := mapPollerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.driver, err = poller.New(pcfg, a.engine, a.log, a.bus)
	if err != nil {
		return nil, err
	}

	a.ops, err = ops.New(ops.Deps{
		Driver:  a.driver,
		State:   a.engine.State(),
		Watch:   a.engine.Config,
		Source:  a.fetcher,
		History: a.notif,
		Store:   a.store,
		Log:     a.log,
	})
	if err != nil {
		return nil, err
	}

	a.metrics = metrics.New(a.engine.State(), a.log)
	a.metrics.TrackBus(a.bus)

	if a.adapter != nil && cfg.Telegram.Commands {
		a.cmdm = router.NewCommandManager(a.log, a.adapter, a.ops, cfg.Telegram.OwnerUserIDs)
	}
	if hc, enabled := mapHTTPConfig(cfg); enabled {
		a.httpCfg = hc
		a.http = httpapi.New(hc, a.ops, a.metrics.Handler(), a.log)
	}
	return a, nil
}

// buildChannels returns the delivery channels the config enables.
func (a *App) buildChannels(cfg *config.Config) []notifier.Channel {
	var out []notifier.Channel
	if a.adapter != nil {
		if cfg.Telegram.ChatID != 0 {
			out = append(out, notifier.NewTelegramChannel(a.adapter, kit.ChatTarget{
				ChatID:   cfg.Telegram.ChatID,
				ThreadID: cfg.Telegram.ThreadID,
			}))
		} else if !a.log.IsZero() {
			a.log.Warn("telegram.chat_id not set; telegram notifications disabled")
		}
	}
	if ec, ok := mapEmailConfig(cfg); ok {
		out = append(out, notifier.NewEmailChannel(ec, a.fetcher.Zone))
	}
	if len(out) == 0 && !a.log.IsZero() {
		a.log.Warn("no notification channel configured; cycles will report dispatch failures")
	}
	return out
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if a.cmdm != nil {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.cmdm.DispatchLoop(c, a.updates)
		})
		a.sup.Go0("commands.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := a.adapter.UpdateMenuCommands(mctx, a.cmdm.MenuCommands()); err != nil {
				a.log.Warn("command menu update failed", logx.Err(err))
			}
		})
	}

	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	a.watchEvents()

	if a.http != nil {
		ln, err := net.Listen("tcp", a.httpCfg.Addr)
		if err != nil {
			return fmt.Errorf("http listen %s: %w", a.httpCfg.Addr, err)
		}
		a.sup.Go("http.serve", func(context.Context) error { return a.http.Serve(ln) })
	}

	if err := a.driver.Start(a.sup.Context()); err != nil {
		return err
	}

	a.watchConfig()

	if sent, err := a.sd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready", logx.Duration("watchdog", systemd.WatchdogInterval()))
	}
	a.log.Info("app started",
		logx.String("zone", a.fetcher.Zone()),
		logx.Strings("channels", a.notif.Channels()),
		logx.Bool("commands", a.cmdm != nil),
		logx.Bool("http", a.http != nil),
	)
	return nil
}

// watchEvents logs bus events and pets the systemd watchdog after every
// finished cycle.
func (a *App) watchEvents() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("events", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if e.Type != eventbus.CycleCompleted && e.Type != eventbus.CycleFailed {
					continue
				}
				if _, err := a.sd.Watchdog(); err != nil {
					a.log.Debug("sd_notify watchdog failed", logx.Err(err))
				}
				if rep, ok := e.Data.(watch.Report); ok {
					_, _ = a.sd.Status(fmt.Sprintf("%d logement(s) suivi(s), dernier cycle %s", rep.Tracked, rep.Outcome))
				}
			}
		}
	})
}

// watchConfig starts the file watcher and the reload fan-out.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
}

// applyConfig pushes a validated config to the running components. Sections
// that only take effect at startup are reported instead.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if oldCfg != nil {
		var restart []string
		if !equalStorage(oldCfg.Storage, newCfg.Storage) {
			restart = append(restart, "storage")
		}
		if oldCfg.HTTP.Enabled != newCfg.HTTP.Enabled || strings.TrimSpace(oldCfg.HTTP.Addr) != strings.TrimSpace(newCfg.HTTP.Addr) {
			restart = append(restart, "http.enabled/http.addr")
		}
		if oldCfg.HTTP.Pprof.Enabled != newCfg.HTTP.Pprof.Enabled || oldCfg.HTTP.Pprof.Prefix != newCfg.HTTP.Pprof.Prefix {
			restart = append(restart, "http.pprof")
		}
		if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
			oldCfg.Telegram.Commands != newCfg.Telegram.Commands ||
			strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
			restart = append(restart, "telegram.token/commands/poll_timeout")
		}
		if len(restart) > 0 {
			a.log.Warn("config changed; restart required for these to take effect", logx.Strings("keys", restart))
		}
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if sc, err := mapSourceConfig(newCfg); err != nil {
		a.log.Warn("invalid source config; keeping previous", logx.Err(err))
	} else {
		a.fetcher.Apply(sc)
	}
	if wc, err := mapWatchConfig(newCfg); err == nil {
		err = a.engine.Apply(wc)
		if err != nil {
			a.log.Warn("invalid watch config; keeping previous", logx.Err(err))
		}
	}
	if pc, err := mapPollerConfig(newCfg); err == nil {
		if err := a.driver.Apply(pc); err != nil {
			a.log.Warn("poll schedule not applied", logx.Err(err))
		}
	}
	if nc, err := mapNotifierConfig(newCfg); err == nil {
		a.notif.Apply(nc)
	}
	a.notif.SetChannels(a.buildChannels(newCfg)...)

	if a.cmdm != nil {
		a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)
	}
	if a.http != nil {
		a.http.SetToken(newCfg.HTTP.Token)
		if hc, ok := mapHTTPConfig(newCfg); ok {
			httpapi.ApplyProfileRates(hc.Pprof)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func equalStorage(x, y *config.StorageConfig) bool {
	if x == nil || y == nil {
		return x == y
	}
	return *x == *y
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.sd.Stopping()
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
		}
	}

	step("poller", 5*time.Second, a.driver.Stop)
	if a.http != nil {
		step("http", 3*time.Second, a.http.Shutdown)
	}
	if a.cmdm != nil {
		step("adapter", 3*time.Second, a.adapter.Stop)
	}
	if a.store != nil {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}
	step("supervisor", 3*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
