package fonts

import (
	"testing"

	"github.com/go-text/typesetting/language"
)

func TestDetectScript(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect language.Script
	}{
		{"Latin", "R13-SDS-BIS-25-10-1", language.Latin},
		{"DigitsOnly", "12345", language.Latin},
		{"Greek", "Γειά σου", language.Greek},
		{"Cyrillic", "Привет", language.Cyrillic},
		{"LatinDominant", "Hello World Γει", language.Latin},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectScript([]rune(tc.input)); got != tc.expect {
				t.Errorf("expected %v, got %v", tc.expect, got)
			}
		})
	}
}

func TestDefaultLabelFontMetrics(t *testing.T) {
	font, err := DefaultLabelFont()
	if err != nil {
		t.Fatalf("load default font: %v", err)
	}
	if font.Subtype != "Type0" || font.Encoding != "Identity-H" {
		t.Fatalf("unexpected font type %s/%s", font.Subtype, font.Encoding)
	}
	if !font.Embedded() {
		t.Fatalf("default font should embed its program")
	}
	d := font.Descriptor
	if d.Ascent <= 0 || d.Descent >= 0 || d.CapHeight <= 0 {
		t.Fatalf("unexpected vertical metrics: %+v", d)
	}
	if font.DescendantFont == nil || font.DescendantFont.CIDToGIDMapName != "Identity" {
		t.Fatalf("descendant font should map CIDs to GIDs by identity")
	}
	if font.ToUnicode == nil {
		t.Fatalf("ToUnicode map should be initialized")
	}
}

func TestShaperWidthsMatchFontWidths(t *testing.T) {
	font, err := DefaultLabelFont()
	if err != nil {
		t.Fatalf("load default font: %v", err)
	}
	s, err := NewShaper(font)
	if err != nil {
		t.Fatalf("new shaper: %v", err)
	}
	glyphs := s.Shape("R13-12")
	if len(glyphs) != 6 {
		t.Fatalf("expected 6 glyphs, got %d", len(glyphs))
	}
	var sum float64
	for _, g := range glyphs {
		if g.ID == 0 {
			t.Fatalf("glyph for cluster %d missing from font", g.Cluster)
		}
		w, ok := font.Widths[g.ID]
		if !ok {
			t.Fatalf("no width for glyph %d", g.ID)
		}
		if diff := g.XAdvance - float64(w); diff > 1 || diff < -1 {
			t.Fatalf("glyph %d advance %.2f differs from width %d", g.ID, g.XAdvance, w)
		}
		sum += g.XAdvance
	}
	if got := s.Width("R13-12"); got != sum {
		t.Fatalf("Width = %.2f, want %.2f", got, sum)
	}
	if s.Width("") != 0 {
		t.Fatalf("empty text should have zero width")
	}
}

func TestLoadTrueTypeRejectsGarbage(t *testing.T) {
	if _, err := LoadTrueType("x", nil); err == nil {
		t.Fatalf("expected error for empty data")
	}
	if _, err := LoadTrueType("x", []byte("not a font")); err == nil {
		t.Fatalf("expected parse error")
	}
}
