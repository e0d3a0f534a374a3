package app

import (
	"fmt"
	"strings"
	"time"

	"clubbot/internal/scheduler"
)

// mapSchedulerConfig maps the scheduler section. An omitted section
// runs the scheduler with defaults: the security sweep and club jobs
// are housekeeping the bot should not silently skip. An explicit
// enabled: false turns it off.
func mapSchedulerConfig(cfg *Config) (scheduler.Config, error) {
	out := scheduler.Config{Enabled: true}
	if cfg == nil || cfg.Scheduler == nil {
		return out, nil
	}
	sc := cfg.Scheduler

	out.Enabled = sc.Enabled
	out.Workers = sc.Workers
	out.QueueSize = sc.QueueSize
	out.HistorySize = sc.HistorySize
	out.Timezone = sc.Timezone

	if out.Workers < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.workers must be >= 0")
	}
	if out.QueueSize < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.queue_size must be >= 0")
	}
	if out.HistorySize < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.history_size must be >= 0")
	}

	var err error
	out.DefaultTimeout, err = parseDurationOrDefault("scheduler.default_timeout", sc.DefaultTimeout, 2*time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}

	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return out, nil
}
