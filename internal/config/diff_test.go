package config

import (
	"slices"
	"testing"
)

func TestSummarizeConfigChangeSections(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Discord: DiscordConfig{Token: "a", CommandPrefix: "!"},
		Logging: LoggingConfig{Level: "info"},
		Security: SecurityConfig{
			AdminRoles:  []string{"1"},
			MemberRoles: []string{"2"},
		},
	}
	newCfg := &Config{
		Discord: DiscordConfig{Token: "a", CommandPrefix: "?"},
		Logging: LoggingConfig{Level: "debug"},
		Security: SecurityConfig{
			AdminRoles:  []string{"1", "9"},
			MemberRoles: []string{"2"},
		},
	}

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	for _, want := range []string{"discord", "logging", "security"} {
		if !slices.Contains(changed, want) {
			t.Fatalf("changed = %v, missing %q", changed, want)
		}
	}
	if slices.Contains(changed, "club") {
		t.Fatalf("changed = %v, club did not change", changed)
	}
}

func TestSummarizeConfigChangeNoChange(t *testing.T) {
	t.Parallel()
	cfg := &Config{Discord: DiscordConfig{Token: "a"}}
	changed, attrs := SummarizeConfigChange(cfg, cfg)
	if len(changed) != 0 {
		t.Fatalf("changed = %v, want empty", changed)
	}
	if len(attrs) != 0 {
		t.Fatalf("attrs = %d, want 0", len(attrs))
	}
}

func TestSummarizeConfigChangeNilSections(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	newCfg := &Config{Ops: &OpsConfig{Enabled: true, Addr: "127.0.0.1:6060"}}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if !slices.Contains(changed, "ops") {
		t.Fatalf("changed = %v, want ops", changed)
	}

	// nil vs zero-value section is not a change
	changed, _ = SummarizeConfigChange(&Config{}, &Config{Scheduler: &SchedulerConfig{}})
	if slices.Contains(changed, "scheduler") {
		t.Fatalf("changed = %v, zero scheduler should equal nil", changed)
	}
}
