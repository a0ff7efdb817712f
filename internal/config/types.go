package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "15s", "24h").
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Admission    AdmissionConfig    `json:"admission"`
	Broadcast    BroadcastConfig    `json:"broadcast"`
	Storage      StorageConfig      `json:"storage"`
	Metrics      MetricsConfig      `json:"metrics,omitempty"`
	Housekeeping HousekeepingConfig `json:"housekeeping,omitempty"`
	Media        MediaConfig        `json:"media,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// LogChannel receives operational lines (new users, bans, broadcast summaries).
	// 0 disables the sink.
	LogChannel  int64  `json:"log_channel,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Workers is the update dispatcher pool size (default 8).
	Workers int `json:"workers,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Forward LoggingForward `json:"forward,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingForward mirrors log lines at or above MinLevel into the log channel.
type LoggingForward struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type AdmissionConfig struct {
	// MinInterval between accepted events of one user (default "15s").
	MinInterval string `json:"min_interval"`
	// Timezone for day boundaries (IANA name, default "UTC").
	Timezone string `json:"timezone,omitempty"`
	// DefaultBanDays is used by /ban without an explicit duration (default 30).
	DefaultBanDays int `json:"default_ban_days,omitempty"`
}

type BroadcastConfig struct {
	IDAlphabet  string `json:"id_alphabet,omitempty"`
	IDLength    int    `json:"id_length,omitempty"`
	IDMaxLength int    `json:"id_max_length,omitempty"`
	// RatePerSec paces deliveries across all running broadcasts (default 20).
	RatePerSec       float64 `json:"rate_per_sec,omitempty"`
	ProgressInterval string  `json:"progress_interval,omitempty"`
}

// StorageConfig selects the user store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/shotbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9090"
	// Pprof adds net/http/pprof handlers under /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

type HousekeepingConfig struct {
	Enabled bool `json:"enabled"`
	// PruneSchedule is a cron spec for flood-gate and session pruning (default "@every 10m").
	PruneSchedule string `json:"prune_schedule,omitempty"`
	// ReportSchedule is a cron spec for the daily activity report; empty disables it.
	ReportSchedule string `json:"report_schedule,omitempty"`
}

type MediaConfig struct {
	// StreamHost serves uploaded files as <host>/file/<chat>/<message>. Empty means URLs only.
	StreamHost   string `json:"stream_host,omitempty"`
	FFProbePath  string `json:"ffprobe_path,omitempty"`
	ProbeTimeout string `json:"probe_timeout,omitempty"` // default "30s"
	SessionTTL   string `json:"session_ttl,omitempty"`   // default "6h"
}
