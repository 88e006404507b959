package sym

import (
	"testing"
	"unicode/utf8"
)

func TestRegistryCoversAllPlatforms(t *testing.T) {
	for _, p := range Platforms() {
		if _, ok := platformToGlyph[p]; !ok {
			t.Errorf("Platforms() contains %q but the glyph table has no entry for it", p)
		}
		if _, ok := platformToLabel[p]; !ok {
			t.Errorf("Platforms() contains %q but the label table has no entry for it", p)
		}
	}
}

func TestTablesHaveSameSize(t *testing.T) {
	if len(platformToGlyph) != len(platformToLabel) {
		t.Errorf("table size mismatch: glyphs has %d entries, labels has %d",
			len(platformToGlyph), len(platformToLabel))
	}
}

func TestPlatformGlyphUnknownFallback(t *testing.T) {
	if got := PlatformGlyph("matrix"); got != "·" {
		t.Errorf("PlatformGlyph(unknown) = %q, want %q", got, "·")
	}
}

func TestPlatformLabelUnknownFallback(t *testing.T) {
	if got := PlatformLabel("matrix"); got != "matrix" {
		t.Errorf("PlatformLabel(unknown) = %q, want raw id %q", got, "matrix")
	}
}

func TestGlyphsAreValidUnicode(t *testing.T) {
	for platform, glyph := range platformToGlyph {
		if !utf8.ValidString(glyph) {
			t.Errorf("glyph %q for platform %q is not valid UTF-8", glyph, platform)
		}
		if utf8.RuneCountInString(glyph) == 0 {
			t.Errorf("glyph for platform %q is empty", platform)
		}
	}
}

func TestNoDuplicateGlyphs(t *testing.T) {
	seen := make(map[string]string, len(registry))
	for _, e := range registry {
		if prev, ok := seen[e.glyph]; ok {
			t.Errorf("duplicate glyph %q: used by both %q and %q", e.glyph, prev, e.platform)
		}
		seen[e.glyph] = e.platform
	}
}

func TestPriorityOrderStable(t *testing.T) {
	want := []string{"signal", "whatsapp", "discord", "telegram", "gmail", "gitlog"}
	got := Platforms()
	if len(got) != len(want) {
		t.Fatalf("Platforms() has %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Platforms()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
