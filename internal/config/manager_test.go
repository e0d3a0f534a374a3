package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, "config.yaml", `
discord:
  token: "abc"
  command_prefix: "!"
logging:
  level: debug
  console: true
security:
  admin_roles: ["111"]
  member_roles: ["222", "333"]
  rate_limits:
    default:
      limit: 5
      window: "1m"
    commands:
      ping:
        limit: 10
        window: "30s"
club:
  guild_id: "900"
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Discord.Token != "abc" {
		t.Fatalf("token = %q, want abc", cfg.Discord.Token)
	}
	if len(cfg.Security.MemberRoles) != 2 {
		t.Fatalf("member_roles = %d, want 2", len(cfg.Security.MemberRoles))
	}
	if cfg.Security.RateLimits == nil || cfg.Security.RateLimits.Default == nil {
		t.Fatal("rate_limits.default missing")
	}
	if got := cfg.Security.RateLimits.Commands["ping"].Limit; got != 10 {
		t.Fatalf("ping limit = %d, want 10", got)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, "config.yaml", `
discord:
  token: "abc"
  totally_unknown: 1
logging: {}
security:
  admin_roles: []
  member_roles: []
club: {}
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, "config.json",
		`{"discord":{"token":"x"},"logging":{},"security":{"admin_roles":[],"member_roles":[]},"club":{}}{"extra":1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestPublishDropsOldestWhenSlow(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{}
	m.publish(first)
	m.publish(second)

	got := <-ch
	if got != second {
		t.Fatal("expected newest config after overflow, got oldest")
	}
	select {
	case <-ch:
		t.Fatal("expected a single buffered config")
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after Unsubscribe")
	}
	// second call must be a no-op
	m.Unsubscribe(ch)
}

func TestHashConfigStable(t *testing.T) {
	t.Parallel()
	a := &Config{Discord: DiscordConfig{Token: "x"}}
	b := &Config{Discord: DiscordConfig{Token: "x"}}
	if hashConfig(a) != hashConfig(b) {
		t.Fatal("equal configs should hash equal")
	}
	c := &Config{Discord: DiscordConfig{Token: "y"}}
	if hashConfig(a) == hashConfig(c) {
		t.Fatal("different configs should hash differently")
	}
	if hashConfig(nil) != 0 {
		t.Fatal("nil config should hash to 0")
	}
}
