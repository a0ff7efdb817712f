package config

import (
	"reflect"
	"slices"

	logx "shotbot/pkg/logx"
)

// SummarizeConfigChange lists the changed sections, safe log attrs (never secrets) and
// the changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout || ot.Workers != nt.Workers {
		changed = append(changed, "telegram")
		restart = append(restart, "telegram")
	} else if !slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs) || ot.LogChannel != nt.LogChannel {
		changed = append(changed, "telegram")
	}
	if len(changed) > 0 {
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.log_channel_set", nt.LogChannel != 0),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.forward", newCfg.Logging.Forward.Enabled),
		)
	}
	if oldCfg.Admission != newCfg.Admission {
		changed = append(changed, "admission")
		attrs = append(attrs,
			logx.String("admission.min_interval", newCfg.Admission.MinInterval),
			logx.String("admission.timezone", newCfg.Admission.Timezone),
		)
	}
	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		ob, nb := oldCfg.Broadcast, newCfg.Broadcast
		if ob.IDAlphabet != nb.IDAlphabet || ob.IDLength != nb.IDLength || ob.IDMaxLength != nb.IDMaxLength {
			restart = append(restart, "broadcast.id")
		}
	}
	for _, s := range []struct {
		name string
		same bool
	}{
		{"storage", oldCfg.Storage == newCfg.Storage},
		{"metrics", oldCfg.Metrics == newCfg.Metrics},
		{"housekeeping", oldCfg.Housekeeping == newCfg.Housekeeping},
		{"media", oldCfg.Media == newCfg.Media},
	} {
		if !s.same {
			changed = append(changed, s.name)
			restart = append(restart, s.name)
		}
	}
	return changed, attrs, restart
}
