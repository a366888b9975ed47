package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables that override the file.
const (
	EnvTelegramToken    = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID   = "TELEGRAM_CHAT_ID"
	EnvEmailUser        = "EMAIL_USER"
	EnvEmailPass        = "EMAIL_PASS"
	EnvReminderInterval = "RENOTIFICATION_INTERVAL" // milliseconds
	EnvPort             = "PORT"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment values on cfg. lookup is os.LookupEnv in
// production.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvTelegramChatID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid chat id %q", EnvTelegramChatID, v)
		}
		cfg.Telegram.ChatID = id
	}
	if v, ok := get(EnvEmailUser); ok {
		cfg.Email.Username = v
		if strings.TrimSpace(cfg.Email.From) == "" {
			cfg.Email.From = v
		}
		if len(cfg.Email.To) == 0 {
			cfg.Email.To = []string{v}
		}
	}
	if v, ok := get(EnvEmailPass); ok {
		cfg.Email.Password = v
	}
	if v, ok := get(EnvReminderInterval); ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms <= 0 {
			return fmt.Errorf("%s: want positive milliseconds, got %q", EnvReminderInterval, v)
		}
		cfg.Watch.ReminderInterval = (time.Duration(ms) * time.Millisecond).String()
	}
	if v, ok := get(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		cfg.HTTP.Enabled = true
		cfg.HTTP.Addr = ":" + strconv.Itoa(port)
	}
	return nil
}
