package app

import (
	"fmt"
	"time"

	"clubbot/internal/notifier"
	"clubbot/internal/notifier/broadcast"
)

// mapNotifierConfig maps the notifier section into the runtime config.
// An omitted section keeps the pipeline disabled; reminders and poll
// announcements then stay silent and only command replies go out.
func mapNotifierConfig(cfg *Config, persist bool) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         false,
		Workers:         2,
		QueueSize:       64,
		RatePerMin:      20,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		DedupWindow:     time.Hour,
		DedupMaxEntries: 2000,
		PersistDedup:    persist,
	}
	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	out.Enabled = n.Enabled
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerMin != 0 {
		out.RatePerMin = n.RatePerMin
	}

	var err error
	out.DedupWindow, err = parseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}

	if out.QueueSize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	}
	if out.RatePerMin < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_min must be >= 0")
	}
	return out, nil
}

// mapBroadcastConfig derives the DM fan-out config. It rides the
// notifier enable flag: turning the notifier off silences reminders
// entirely rather than leaving a second pipeline running.
func mapBroadcastConfig(cfg *Config) broadcast.Config {
	enabled := cfg != nil && cfg.Notifier != nil && cfg.Notifier.Enabled
	return broadcast.Config{
		Enabled:    enabled,
		Workers:    2,
		RatePerSec: 1,
		RetryMax:   2,
	}
}
