package app

import (
	"strings"
	"time"

	"clubbot/internal/club"
)

const defaultRemindCron = "0 9 * * *"

func mapClubConfig(cfg *Config) club.Config {
	if cfg == nil {
		return club.Config{}
	}
	c := cfg.Club
	return club.Config{
		GuildID:         c.GuildID,
		AnnounceChannel: c.AnnounceChannel,
		FeeEnabled:      c.Fee.Enabled,
		FeeAmount:       c.Fee.Amount,
		FeeDueDay:       c.Fee.DueDay,
	}
}

func rosterSyncEvery(cfg *Config) (time.Duration, error) {
	raw := ""
	if cfg != nil {
		raw = cfg.Club.Roster.SyncEvery
	}
	return parseDurationOrDefault("club.roster.sync_every", raw, 6*time.Hour)
}

func feeRemindCron(cfg *Config) string {
	if cfg != nil {
		if c := strings.TrimSpace(cfg.Club.Fee.RemindCron); c != "" {
			return c
		}
	}
	return defaultRemindCron
}
