package config

import (
	"reflect"
	"sort"
	"strings"

	logx "clubbot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and
// safe structured attrs for logging. Secrets (the bot token) are never
// included; only their presence is.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Discord (never log token)
	if (strings.TrimSpace(oldCfg.Discord.Token) != "") != (strings.TrimSpace(newCfg.Discord.Token) != "") ||
		strings.TrimSpace(oldCfg.Discord.CommandPrefix) != strings.TrimSpace(newCfg.Discord.CommandPrefix) ||
		strings.TrimSpace(oldCfg.Discord.LogChannel) != strings.TrimSpace(newCfg.Discord.LogChannel) ||
		oldCfg.Discord.UpdateBuffer != newCfg.Discord.UpdateBuffer {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.Bool("discord.token_set", strings.TrimSpace(newCfg.Discord.Token) != ""),
			logx.String("discord.command_prefix", strings.TrimSpace(newCfg.Discord.CommandPrefix)),
			logx.Bool("discord.log_channel_set", strings.TrimSpace(newCfg.Discord.LogChannel) != ""),
		)
	}

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File != newCfg.Logging.File ||
		oldCfg.Logging.Discord != newCfg.Logging.Discord {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.discord_enabled", newCfg.Logging.Discord.Enabled),
		)
	}

	// Security (role/channel IDs summarized as counts; the table itself
	// can be large and is visible via the sec limits command anyway)
	oldRL := derefRateLimits(oldCfg.Security.RateLimits)
	newRL := derefRateLimits(newCfg.Security.RateLimits)
	if !reflect.DeepEqual(oldCfg.Security.AdminRoles, newCfg.Security.AdminRoles) ||
		!reflect.DeepEqual(oldCfg.Security.MemberRoles, newCfg.Security.MemberRoles) ||
		!reflect.DeepEqual(oldCfg.Security.AllowedChannels, newCfg.Security.AllowedChannels) ||
		!reflect.DeepEqual(oldRL, newRL) ||
		strings.TrimSpace(oldCfg.Security.EventRetention) != strings.TrimSpace(newCfg.Security.EventRetention) {
		changed = append(changed, "security")
		attrs = append(attrs,
			logx.Int("security.admin_roles", len(newCfg.Security.AdminRoles)),
			logx.Int("security.member_roles", len(newCfg.Security.MemberRoles)),
			logx.Int("security.allowed_channels", len(newCfg.Security.AllowedChannels)),
			logx.Int("security.rate_limit_rules", len(newRL.Commands)),
			logx.Bool("security.rate_limit_default_set", newRL.Default != nil),
			logx.String("security.event_retention", strings.TrimSpace(newCfg.Security.EventRetention)),
		)
	}

	// Storage. Nil means defaults, not disabled; compare normalized values.
	oldS := derefStorage(oldCfg.Storage)
	newS := derefStorage(newCfg.Storage)
	if strings.TrimSpace(oldS.Driver) != strings.TrimSpace(newS.Driver) ||
		(strings.TrimSpace(oldS.Path) != "") != (strings.TrimSpace(newS.Path) != "") ||
		strings.TrimSpace(oldS.BusyTimeout) != strings.TrimSpace(newS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newS.BusyTimeout)),
		)
	}

	// Scheduler
	oldSch := derefScheduler(oldCfg.Scheduler)
	newSch := derefScheduler(newCfg.Scheduler)
	if !reflect.DeepEqual(oldSch, newSch) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newSch.Enabled),
			logx.Int("scheduler.workers", newSch.Workers),
			logx.String("scheduler.timezone", strings.TrimSpace(newSch.Timezone)),
		)
	}

	// Notifier
	oldN := derefNotifier(oldCfg.Notifier)
	newN := derefNotifier(newCfg.Notifier)
	if !reflect.DeepEqual(oldN, newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_min", newN.RatePerMin),
		)
	}

	// Club
	if !reflect.DeepEqual(oldCfg.Club, newCfg.Club) {
		changed = append(changed, "club")
		attrs = append(attrs,
			logx.Bool("club.guild_set", strings.TrimSpace(newCfg.Club.GuildID) != ""),
			logx.Bool("club.roster_csv_set", strings.TrimSpace(newCfg.Club.Roster.CSVPath) != ""),
			logx.Bool("club.fee_enabled", newCfg.Club.Fee.Enabled),
		)
	}

	// Ops
	oldO := derefOps(oldCfg.Ops)
	newO := derefOps(newCfg.Ops)
	if oldO != newO {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newO.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newO.Addr)),
			logx.Bool("ops.pprof", newO.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefRateLimits(rl *RateLimitsConfig) RateLimitsConfig {
	if rl == nil {
		return RateLimitsConfig{}
	}
	return *rl
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefScheduler(s *SchedulerConfig) SchedulerConfig {
	if s == nil {
		return SchedulerConfig{}
	}
	return *s
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}

func derefOps(o *OpsConfig) OpsConfig {
	if o == nil {
		return OpsConfig{}
	}
	return *o
}
