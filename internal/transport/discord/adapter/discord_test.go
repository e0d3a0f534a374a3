package adapter

import (
	"strings"
	"testing"

	kit "clubbot/internal/transport"
)

func TestSplitDiscordTextShort(t *testing.T) {
	got := splitDiscordText("hello", 2000)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("split = %v", got)
	}
}

func TestSplitDiscordTextPrefersNewlines(t *testing.T) {
	lines := make([]string, 30)
	for i := range lines {
		lines[i] = strings.Repeat("x", 10)
	}
	text := strings.Join(lines, "\n")

	chunks := splitDiscordText(text, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d over limit: %d runes", i, len([]rune(c)))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d has dangling newline: %q", i, c)
		}
	}
	if got := strings.Join(chunks, "\n"); got != text {
		t.Fatalf("rejoined text differs:\n%q\n%q", got, text)
	}
}

func TestSplitDiscordTextHardWrap(t *testing.T) {
	text := strings.Repeat("a", 250)
	chunks := splitDiscordText(text, 100)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if strings.Join(chunks, "") != text {
		t.Fatal("hard wrap lost content")
	}
}

func TestToDiscordEmbed(t *testing.T) {
	e := &kit.Embed{
		Title:       "status",
		Description: "ok",
		Color:       0x00ff00,
		Fields: []kit.EmbedField{
			{Name: "a", Value: "1", Inline: true},
			{Name: "b", Value: "2"},
		},
		Footer: "clubbot",
	}
	got := toDiscordEmbed(e)
	if got.Title != "status" || got.Color != 0x00ff00 {
		t.Fatalf("embed = %+v", got)
	}
	if len(got.Fields) != 2 || !got.Fields[0].Inline || got.Fields[1].Inline {
		t.Fatalf("fields = %+v", got.Fields)
	}
	if got.Footer == nil || got.Footer.Text != "clubbot" {
		t.Fatalf("footer = %+v", got.Footer)
	}

	if plain := toDiscordEmbed(&kit.Embed{Title: "t"}); plain.Footer != nil {
		t.Fatal("empty footer should stay nil")
	}
}
