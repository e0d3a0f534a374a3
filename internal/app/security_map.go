package app

import (
	"fmt"
	"time"

	"clubbot/internal/config"
	"clubbot/internal/security"
)

const (
	defaultRateLimit     = 5
	defaultRateWindow    = time.Minute
	defaultEventRetained = 720 * time.Hour
)

// mapSecurityConfig maps the security section into the engine config.
// The default rate rule always exists: omitting the whole rate_limits
// section means 5 per minute.
func mapSecurityConfig(cfg *Config) (security.Config, error) {
	out := security.Config{
		Rates: security.RateConfig{
			Default: security.RateRule{Limit: defaultRateLimit, Window: defaultRateWindow},
		},
		EventRetention: defaultEventRetained,
	}
	if cfg == nil {
		return out, nil
	}
	sec := cfg.Security

	out.Policy = security.GuildPolicy{
		AdminRoles:      sec.AdminRoles,
		MemberRoles:     sec.MemberRoles,
		AllowedChannels: sec.AllowedChannels,
	}

	if rl := sec.RateLimits; rl != nil {
		if rl.Default != nil {
			r, err := mapRateRule("security.rate_limits.default", *rl.Default)
			if err != nil {
				return security.Config{}, err
			}
			out.Rates.Default = r
		}
		if len(rl.Commands) > 0 {
			out.Rates.Commands = make(map[string]security.RateRule, len(rl.Commands))
			for name, rule := range rl.Commands {
				r, err := mapRateRule("security.rate_limits.commands."+name, rule)
				if err != nil {
					return security.Config{}, err
				}
				out.Rates.Commands[name] = r
			}
		}
	}

	ret, err := parseDurationOrDefault("security.event_retention", sec.EventRetention, defaultEventRetained)
	if err != nil {
		return security.Config{}, err
	}
	out.EventRetention = ret

	return out, out.Validate()
}

func mapRateRule(path string, r config.RateLimitRule) (security.RateRule, error) {
	if r.Limit <= 0 {
		return security.RateRule{}, fmt.Errorf("%s.limit must be > 0", path)
	}
	w, err := parseDurationField(path+".window", r.Window)
	if err != nil {
		return security.RateRule{}, err
	}
	if w <= 0 {
		return security.RateRule{}, fmt.Errorf("%s.window must be > 0", path)
	}
	return security.RateRule{Limit: r.Limit, Window: w}, nil
}
