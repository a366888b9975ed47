package app

import (
	"strings"
	"time"

	"crouswatch/internal/config"
	"crouswatch/internal/httpapi"
	"crouswatch/internal/notifier"
	"crouswatch/internal/poller"
	"crouswatch/internal/source/crous"
	"crouswatch/internal/storage"
	telegram "crouswatch/internal/transport/telegram/adapter"
	"crouswatch/internal/watch"
	"crouswatch/pkg/logx"
)

func mapSourceConfig(cfg *config.Config) (crous.Config, error) {
	timeout, err := config.ParseDurationField("source.fetch_timeout", cfg.Source.FetchTimeout)
	if err != nil {
		return crous.Config{}, err
	}
	return crous.Config{
		URL:       strings.TrimSpace(cfg.Source.URL),
		BaseURL:   strings.TrimSpace(cfg.Source.BaseURL),
		UserAgent: strings.TrimSpace(cfg.Source.UserAgent),
		Timeout:   timeout,
	}, nil
}

func mapWatchConfig(cfg *config.Config) (watch.Config, error) {
	reminder, err := config.ReminderInterval(cfg)
	if err != nil {
		return watch.Config{}, err
	}
	fetch, err := config.ParseDurationOrDefault("source.fetch_timeout", cfg.Source.FetchTimeout, crous.DefaultTimeout)
	if err != nil {
		return watch.Config{}, err
	}
	return watch.Config{
		ReminderInterval:  reminder,
		NotifyDisappeared: cfg.Watch.NotifyDisappeared,
		FetchTimeout:      fetch,
	}, nil
}

func mapPollerConfig(cfg *config.Config) (poller.Config, error) {
	pc := poller.Config{Schedule: cfg.Watch.PollInterval, SkipStartup: cfg.Watch.SkipStartup}
	if _, err := poller.NormalizeSchedule(pc.Schedule); err != nil {
		return poller.Config{}, err
	}
	return pc, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier == nil {
		return notifier.Config{}, nil
	}
	timeout, err := config.ParseDurationField("notifier.send_timeout", cfg.Notifier.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:  cfg.Notifier.RatePerSec,
		SendTimeout: timeout,
		HistorySize: cfg.Notifier.HistorySize,
	}, nil
}

// mapEmailConfig returns ok=false when email delivery is off.
func mapEmailConfig(cfg *config.Config) (notifier.EmailConfig, bool) {
	if !cfg.Email.Enabled {
		return notifier.EmailConfig{}, false
	}
	ec := notifier.EmailConfig{
		Host:     strings.TrimSpace(cfg.Email.Host),
		Port:     cfg.Email.Port,
		TLS:      strings.ToLower(strings.TrimSpace(cfg.Email.TLS)),
		Username: strings.TrimSpace(cfg.Email.Username),
		Password: cfg.Email.Password,
		From:     strings.TrimSpace(cfg.Email.From),
		FromName: strings.TrimSpace(cfg.Email.FromName),
		To:       cfg.Email.To,
	}
	return ec, ec.Enabled()
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), PollTimeout: timeout}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, bool) {
	if !cfg.HTTP.Enabled {
		return httpapi.Config{}, false
	}
	p := cfg.HTTP.Pprof
	return httpapi.Config{
		Addr:  strings.TrimSpace(cfg.HTTP.Addr),
		Token: cfg.HTTP.Token,
		Pprof: httpapi.PprofConfig{
			Enabled:              p.Enabled,
			Prefix:               p.Prefix,
			AllowInsecure:        p.AllowInsecure,
			MutexProfileFraction: p.MutexProfileFraction,
			BlockProfileRate:     p.BlockProfileRate,
		},
	}, true
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(cfg.Storage.Path), BusyTimeout: busy}, true, nil
}

// mapLogConfig resolves the log sink chat to telegram.chat_id when the
// logging section leaves it unset.
func mapLogConfig(cfg *config.Config) logx.Config {
	lt := cfg.Logging.Telegram
	chatID := lt.ChatID
	if chatID == 0 {
		chatID = cfg.Telegram.ChatID
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lt.Enabled && strings.TrimSpace(cfg.Telegram.Token) != "",
			ChatID:     chatID,
			ThreadID:   lt.ThreadID,
			MinLevel:   lt.MinLevel,
			RatePerSec: lt.RatePerSec,
		},
	}
}

// validate runs every mapper so a hot reload is rejected before commit if
// any component would refuse it.
func validate(cfg *config.Config) error {
	if _, err := mapSourceConfig(cfg); err != nil {
		return err
	}
	if _, err := mapWatchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPollerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	_, _, err := mapStorageConfig(cfg)
	return err
}
