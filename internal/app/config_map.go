package app

import (
	"sort"

	"shotbot/internal/admission"
	"shotbot/internal/bot"
	"shotbot/internal/broadcast"
	"shotbot/internal/config"
	"shotbot/internal/housekeeping"
	"shotbot/internal/storage"
	logx "shotbot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config, logChannel int64) logx.Config {
	fwd := cfg.Logging.Forward
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Forward: logx.ForwardConfig{
			// forwarding needs somewhere to go
			Enabled:    fwd.Enabled && logChannel != 0,
			MinLevel:   fwd.MinLevel,
			RatePerSec: fwd.RatePerSec,
		},
	}
}

func mapStorageConfig(r config.Resolved) storage.Config {
	return storage.Config{Driver: r.StorageDriver, Path: r.StoragePath, BusyTimeout: r.BusyTimeout}
}

func mapAdmissionSettings(r config.Resolved) admission.Settings {
	return admission.Settings{MinInterval: r.MinInterval, Location: r.Location}
}

func mapRegistryConfig(r config.Resolved) broadcast.RegistryConfig {
	return broadcast.RegistryConfig{Alphabet: r.IDAlphabet, Length: r.IDLength, MaxLength: r.IDMaxLength}
}

func mapEngineConfig(r config.Resolved) broadcast.EngineConfig {
	return broadcast.EngineConfig{RatePerSec: r.BroadcastRate, ProgressInterval: r.ProgressInterval}
}

func mapBotSettings(r config.Resolved) bot.Settings {
	return bot.Settings{StreamHost: r.StreamHost, ProbeTimeout: r.ProbeTimeout, DefaultBanDays: r.DefaultBanDays}
}

func mapHousekeepingConfig(r config.Resolved) housekeeping.Config {
	return housekeeping.Config{
		PruneSchedule:  r.PruneSchedule,
		ReportSchedule: r.ReportSchedule,
		Location:       r.Location,
		// entries younger than the admission interval must survive a prune
		Retention:  r.MinInterval,
		SessionTTL: r.SessionTTL,
	}
}

func ownerList(r config.Resolved) []int64 {
	out := make([]int64, 0, len(r.Owners))
	for id := range r.Owners {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
