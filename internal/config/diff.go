package config

import (
	"reflect"
	"sort"
	"strings"

	"crouswatch/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and log attrs safe to
// print. Tokens and passwords are reported only as "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)
	trim := strings.TrimSpace
	set := func(s string) bool { return trim(s) != "" }

	if oldCfg.Source != newCfg.Source {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.url", trim(newCfg.Source.URL)),
			logx.String("source.fetch_timeout", trim(newCfg.Source.FetchTimeout)),
		)
	}

	if oldCfg.Watch != newCfg.Watch {
		changed = append(changed, "watch")
		attrs = append(attrs,
			logx.String("watch.poll_interval", trim(newCfg.Watch.PollInterval)),
			logx.String("watch.reminder_interval", trim(newCfg.Watch.ReminderInterval)),
			logx.Bool("watch.notify_disappeared", newCfg.Watch.NotifyDisappeared),
		)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if trim(ot.Token) != trim(nt.Token) ||
		ot.ChatID != nt.ChatID ||
		ot.ThreadID != nt.ThreadID ||
		ot.Commands != nt.Commands ||
		trim(ot.PollTimeout) != trim(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", set(nt.Token)),
			logx.Bool("telegram.token_changed", trim(ot.Token) != trim(nt.Token)),
			logx.Int64("telegram.chat_id", nt.ChatID),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.commands", nt.Commands),
		)
	}

	oe, ne := oldCfg.Email, newCfg.Email
	if oe.Enabled != ne.Enabled ||
		trim(oe.Host) != trim(ne.Host) ||
		oe.Port != ne.Port ||
		trim(oe.TLS) != trim(ne.TLS) ||
		trim(oe.Username) != trim(ne.Username) ||
		oe.Password != ne.Password ||
		trim(oe.From) != trim(ne.From) ||
		trim(oe.FromName) != trim(ne.FromName) ||
		!reflect.DeepEqual(oe.To, ne.To) {
		changed = append(changed, "email")
		attrs = append(attrs,
			logx.Bool("email.enabled", ne.Enabled),
			logx.String("email.host", trim(ne.Host)),
			logx.Int("email.port", ne.Port),
			logx.Bool("email.password_set", ne.Password != ""),
			logx.Int("email.recipients", len(ne.To)),
		)
	}

	// Nil means component defaults.
	var on, nn NotifierConfig
	if oldCfg.Notifier != nil {
		on = *oldCfg.Notifier
	}
	if newCfg.Notifier != nil {
		nn = *newCfg.Notifier
	}
	if on != nn {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.String("notifier.send_timeout", trim(nn.SendTimeout)),
			logx.Int("notifier.history_size", nn.HistorySize),
		)
	}

	if oldCfg.HTTP.Enabled != newCfg.HTTP.Enabled ||
		trim(oldCfg.HTTP.Addr) != trim(newCfg.HTTP.Addr) ||
		trim(oldCfg.HTTP.Token) != trim(newCfg.HTTP.Token) ||
		oldCfg.HTTP.Pprof != newCfg.HTTP.Pprof {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", trim(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", set(newCfg.HTTP.Token)),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof.Enabled),
		)
	}

	// Nil means disabled.
	var oldS, ns StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		ns = *newCfg.Storage
	}
	if trim(oldS.Driver) != trim(ns.Driver) || trim(oldS.Path) != trim(ns.Path) || trim(oldS.BusyTimeout) != trim(ns.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", trim(ns.Driver)),
			logx.Bool("storage.path_set", set(ns.Path)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
