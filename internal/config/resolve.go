package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"shotbot/internal/calendar"
)

// Defaults applied by Resolve.
const (
	DefaultMinInterval      = 15 * time.Second
	DefaultBanDays          = 30
	DefaultPollTimeout      = 10 * time.Second
	DefaultWorkers          = 8
	DefaultBusyTimeout      = 5 * time.Second
	DefaultProgressInterval = 10 * time.Second
	DefaultProbeTimeout     = 30 * time.Second
	DefaultSessionTTL       = 6 * time.Hour
	DefaultMetricsAddr      = "127.0.0.1:9090"
	DefaultPruneSchedule    = "@every 10m"
)

// Resolved is Config with defaults applied and strings parsed into typed values.
type Resolved struct {
	Token       string
	Owners      map[int64]bool
	LogChannel  int64
	PollTimeout time.Duration
	Workers     int

	MinInterval    time.Duration
	Location       *time.Location
	DefaultBanDays int

	IDAlphabet       string
	IDLength         int
	IDMaxLength      int
	BroadcastRate    float64
	ProgressInterval time.Duration

	StorageDriver string
	StoragePath   string
	BusyTimeout   time.Duration

	MetricsEnabled bool
	MetricsAddr    string
	MetricsPprof   bool

	HousekeepingEnabled bool
	PruneSchedule       string
	ReportSchedule      string

	StreamHost   string
	FFProbePath  string
	ProbeTimeout time.Duration
	SessionTTL   time.Duration
}

func (r Resolved) IsOwner(userID int64) bool { return r.Owners[userID] }

// Resolve validates cfg and applies defaults.
// ScheduleParser accepts 5-field cron lines, an optional leading seconds field
// and descriptors such as "@daily" or "@every 10m".
var ScheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func Resolve(cfg *Config) (Resolved, error) {
	if cfg == nil {
		return Resolved{}, errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := durationField(path, raw, def, false)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	r := Resolved{
		Token:      strings.TrimSpace(cfg.Telegram.Token),
		Owners:     make(map[int64]bool, len(cfg.Telegram.OwnerUserIDs)),
		LogChannel: cfg.Telegram.LogChannel,
		Workers:    cfg.Telegram.Workers,

		DefaultBanDays: cfg.Admission.DefaultBanDays,

		IDAlphabet:    cfg.Broadcast.IDAlphabet,
		IDLength:      cfg.Broadcast.IDLength,
		IDMaxLength:   cfg.Broadcast.IDMaxLength,
		BroadcastRate: cfg.Broadcast.RatePerSec,

		StorageDriver: strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		StoragePath:   strings.TrimSpace(cfg.Storage.Path),

		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsAddr:    strings.TrimSpace(cfg.Metrics.Addr),
		MetricsPprof:   cfg.Metrics.Pprof,

		HousekeepingEnabled: cfg.Housekeeping.Enabled,
		PruneSchedule:       strings.TrimSpace(cfg.Housekeeping.PruneSchedule),
		ReportSchedule:      strings.TrimSpace(cfg.Housekeeping.ReportSchedule),

		StreamHost:  strings.TrimSpace(cfg.Media.StreamHost),
		FFProbePath: strings.TrimSpace(cfg.Media.FFProbePath),
	}
	for _, id := range cfg.Telegram.OwnerUserIDs {
		r.Owners[id] = true
	}

	r.PollTimeout = dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, DefaultPollTimeout)
	// "0s" turns flood control off.
	switch d, err := durationField("admission.min_interval", cfg.Admission.MinInterval, DefaultMinInterval, true); {
	case err != nil:
		errs = append(errs, err)
	case d%time.Second != 0:
		// the flood gate counts whole seconds
		errs = append(errs, fmt.Errorf("admission.min_interval: %q is not a whole number of seconds", cfg.Admission.MinInterval))
	default:
		r.MinInterval = d
	}
	r.ProgressInterval = dur("broadcast.progress_interval", cfg.Broadcast.ProgressInterval, DefaultProgressInterval)
	r.BusyTimeout = dur("storage.busy_timeout", cfg.Storage.BusyTimeout, DefaultBusyTimeout)
	r.ProbeTimeout = dur("media.probe_timeout", cfg.Media.ProbeTimeout, DefaultProbeTimeout)
	r.SessionTTL = dur("media.session_ttl", cfg.Media.SessionTTL, DefaultSessionTTL)

	loc, err := calendar.LoadLocation(cfg.Admission.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("admission.timezone: %w", err))
	}
	r.Location = loc

	if r.Token == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if r.Workers <= 0 {
		r.Workers = DefaultWorkers
	}
	if r.DefaultBanDays < 0 {
		errs = append(errs, errors.New("admission.default_ban_days must be >= 0"))
	} else if r.DefaultBanDays == 0 {
		r.DefaultBanDays = DefaultBanDays
	}
	if r.IDLength < 0 || r.IDMaxLength < 0 {
		errs = append(errs, errors.New("broadcast id lengths must be >= 0"))
	}
	if r.IDLength > 0 && r.IDMaxLength > 0 && r.IDMaxLength < r.IDLength {
		errs = append(errs, errors.New("broadcast.id_max_length must be >= id_length"))
	}
	if r.BroadcastRate < 0 {
		errs = append(errs, errors.New("broadcast.rate_per_sec must be >= 0"))
	}
	switch r.StorageDriver {
	case "", "none", "memory":
	case "sqlite", "sqlite3":
		if r.StoragePath == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", r.StorageDriver))
	}
	if r.MetricsAddr == "" {
		r.MetricsAddr = DefaultMetricsAddr
	}
	if r.PruneSchedule == "" {
		r.PruneSchedule = DefaultPruneSchedule
	}
	if r.HousekeepingEnabled {
		schedules := [][2]string{
			{"housekeeping.prune_schedule", r.PruneSchedule},
			{"housekeeping.report_schedule", r.ReportSchedule},
		}
		for _, s := range schedules {
			if s[1] == "" {
				continue
			}
			if _, err := ScheduleParser.Parse(s[1]); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s[0], err))
			}
		}
	}
	if r.StreamHost != "" && !strings.HasPrefix(r.StreamHost, "http://") && !strings.HasPrefix(r.StreamHost, "https://") {
		errs = append(errs, errors.New("media.stream_host must be an http(s) URL"))
	}

	if len(errs) > 0 {
		return Resolved{}, errors.Join(errs...)
	}
	return r, nil
}
