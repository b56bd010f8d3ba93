package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Reminder  ReminderConfig  `json:"reminder"`
	Holiday   HolidayConfig   `json:"holiday"`
	Storage   StorageConfig   `json:"storage"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls trigger behavior.
type SchedulerConfig struct {
	// Timezone is an IANA TZ name, e.g. "Asia/Shanghai". Empty means Local.
	Timezone string `json:"timezone,omitempty"`
}

// ReminderConfig controls item creation policy.
type ReminderConfig struct {
	// MaxItems limits how many items a user may hold. 0 disables the limit.
	// With UniqueSession the limit applies per isolated partition; without
	// it the limit is shared across all partitions.
	MaxItems int `json:"max_items,omitempty"`

	// UniqueSession gives each group member an isolated item list.
	UniqueSession bool `json:"unique_session,omitempty"`

	// Whitelist is a comma-separated list of user ids allowed to use the
	// bot. Empty means everyone is allowed.
	Whitelist string `json:"whitelist,omitempty"`

	// CommandPrefix is required on command-task instructions ("/" by
	// default). Empty string disables the prefix check.
	CommandPrefix *string `json:"command_prefix,omitempty"`

	// Mention toggles for group-chat delivery.
	MentionOnReminder *bool `json:"mention_on_reminder,omitempty"` // default true
	MentionOnTask     *bool `json:"mention_on_task,omitempty"`     // default true
	MentionOnCommand  *bool `json:"mention_on_command,omitempty"`  // default false
}

func (r ReminderConfig) Prefix() string {
	if r.CommandPrefix == nil {
		return "/"
	}
	return *r.CommandPrefix
}

// HolidayConfig controls the statutory-holiday data source.
type HolidayConfig struct {
	// BaseURL of the holiday API, e.g. "http://timor.tech/api".
	BaseURL string `json:"base_url,omitempty"`
	// CachePath is the JSON cache file for fetched year data.
	CachePath string `json:"cache_path,omitempty"`
	// CacheTTL is a Go duration string; cached data older than this is
	// refetched. Default: 720h (30 days).
	CacheTTL string `json:"cache_ttl,omitempty"`
}

// StorageConfig selects the item persistence driver.
//
// Driver values:
//   - "file": single JSON document (default)
//   - "sqlite": SQLite database file
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
