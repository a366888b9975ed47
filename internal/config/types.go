package config

// Config is the root of config.json / config.yaml.
//
// Durations are Go duration strings ("30s", "1h"). Secrets may be left empty
// and supplied through the environment instead (see ApplyEnv).
type Config struct {
	Source   SourceConfig    `json:"source"`
	Watch    WatchConfig     `json:"watch"`
	Telegram TelegramConfig  `json:"telegram"`
	Email    EmailConfig     `json:"email"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	HTTP     HTTPConfig      `json:"http"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Logging  LoggingConfig   `json:"logging"`
}

// SourceConfig selects the CROUS search page to watch.
type SourceConfig struct {
	URL          string `json:"url"`
	BaseURL      string `json:"base_url,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`
}

type WatchConfig struct {
	// PollInterval is a duration ("1m"), an HH:MM interval ("00:05") or a
	// cron spec ("*/2 * * * *").
	PollInterval string `json:"poll_interval"`
	// ReminderInterval is the minimum delay between two notifications for
	// the same listing. Empty means 1h.
	ReminderInterval  string `json:"reminder_interval,omitempty"`
	NotifyDisappeared bool   `json:"notify_disappeared,omitempty"`
	// SkipStartup disables the immediate first cycle.
	SkipStartup bool `json:"skip_startup,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	ChatID       int64   `json:"chat_id"`
	ThreadID     int     `json:"thread_id,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	// Commands enables the operator command router (long polling). When
	// false the bot only sends.
	Commands bool `json:"commands"`
}

type EmailConfig struct {
	Enabled  bool     `json:"enabled"`
	Host     string   `json:"host,omitempty"`
	Port     int      `json:"port,omitempty"`
	TLS      string   `json:"tls,omitempty"` // "none" | "tls" | "starttls"
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	From     string   `json:"from,omitempty"`
	FromName string   `json:"from_name,omitempty"`
	To       []string `json:"to,omitempty"`
}

// NotifierConfig paces deliveries. Omitted means defaults.
type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	// Token, when set, is required as a bearer token on POST routes.
	Token string      `json:"token,omitempty"`
	Pprof PprofConfig `json:"pprof"`
}

// PprofConfig serves /debug/pprof on the HTTP listener.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Prefix               string `json:"prefix,omitempty"`
	AllowInsecure        bool   `json:"allow_insecure,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}

// StorageConfig configures the optional delivery journal. Nil or driver
// "none" disables it.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path"`
	} `json:"file"`
	Telegram struct {
		Enabled bool `json:"enabled"`
		// ChatID defaults to telegram.chat_id.
		ChatID     int64  `json:"chat_id,omitempty"`
		ThreadID   int    `json:"thread_id,omitempty"`
		MinLevel   string `json:"min_level,omitempty"`
		RatePerSec int    `json:"rate_per_sec,omitempty"`
	} `json:"telegram"`
}
