package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultReminderInterval applies when watch.reminder_interval is empty.
const DefaultReminderInterval = time.Hour

// Validate checks what can be checked without building components. It is
// run on every load and on every hot reload before commit.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if u := strings.TrimSpace(cfg.Source.URL); u != "" {
		if p, err := url.Parse(u); err != nil || p.Scheme == "" || p.Host == "" {
			errs = append(errs, fmt.Errorf("source.url: invalid %q", u))
		}
	}
	if _, err := ParseDurationField("source.fetch_timeout", cfg.Source.FetchTimeout); err != nil {
		errs = append(errs, err)
	}

	if strings.TrimSpace(cfg.Watch.PollInterval) == "" {
		errs = append(errs, errors.New("watch.poll_interval is required"))
	}
	if _, err := ReminderInterval(cfg); err != nil {
		errs = append(errs, err)
	}

	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Telegram.ThreadID < 0 {
		errs = append(errs, errors.New("telegram.thread_id must be >= 0"))
	}

	if cfg.Email.Enabled {
		if strings.TrimSpace(cfg.Email.Host) == "" {
			errs = append(errs, errors.New("email.host is required when email.enabled"))
		}
		if len(cfg.Email.To) == 0 {
			errs = append(errs, errors.New("email.to is required when email.enabled"))
		}
		if cfg.Email.Port < 0 || cfg.Email.Port > 65535 {
			errs = append(errs, fmt.Errorf("email.port: invalid %d", cfg.Email.Port))
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Email.TLS)) {
	case "", "none", "tls", "starttls":
	default:
		errs = append(errs, fmt.Errorf("email.tls: want none, tls or starttls, got %q", cfg.Email.TLS))
	}

	if n := cfg.Notifier; n != nil {
		if n.RatePerSec < 0 {
			errs = append(errs, errors.New("notifier.rate_per_sec must be >= 0"))
		}
		if n.HistorySize < 0 {
			errs = append(errs, errors.New("notifier.history_size must be >= 0"))
		}
		if _, err := ParseDurationField("notifier.send_timeout", n.SendTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.HTTP.Enabled && strings.TrimSpace(cfg.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required when http.enabled"))
	}

	if p := cfg.HTTP.Pprof; p.MutexProfileFraction < 0 || p.BlockProfileRate < 0 {
		errs = append(errs, errors.New("http.pprof rates must be >= 0"))
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, errors.New("storage.path is required when storage.driver is set"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown storage.driver: %s", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Logging.Telegram.RatePerSec < 0 {
		errs = append(errs, errors.New("logging.telegram.rate_per_sec must be >= 0"))
	}
	return errors.Join(errs...)
}

// ReminderInterval returns the effective re-notification interval. Only an
// empty value takes the default; "0s" reminds on every cycle.
func ReminderInterval(cfg *Config) (time.Duration, error) {
	if strings.TrimSpace(cfg.Watch.ReminderInterval) == "" {
		return DefaultReminderInterval, nil
	}
	return ParseDurationField("watch.reminder_interval", cfg.Watch.ReminderInterval)
}
