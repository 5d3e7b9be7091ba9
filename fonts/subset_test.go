package fonts

import (
	"bytes"
	"encoding/binary"
	"testing"

	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
)

func glyphIDs(t *testing.T, text string) []int {
	t.Helper()
	f, err := sfnt.Parse(goregular.TTF)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var buf sfnt.Buffer
	var ids []int
	for _, r := range text {
		gid, err := f.GlyphIndex(&buf, r)
		if err != nil || gid == 0 {
			t.Fatalf("no glyph for %q", r)
		}
		ids = append(ids, int(gid))
	}
	return ids
}

func TestSubsetTrueType(t *testing.T) {
	gids := glyphIDs(t, "R13-0")
	out, err := SubsetTrueType(goregular.TTF, gids)
	if err != nil {
		t.Fatalf("subset: %v", err)
	}
	if len(out) >= len(goregular.TTF)/2 {
		t.Fatalf("subset is %d bytes, original %d", len(out), len(goregular.TTF))
	}

	orig, _ := parseFontFile(goregular.TTF)
	sub, err := parseFontFile(out)
	if err != nil {
		t.Fatalf("reparse subset: %v", err)
	}
	for _, tag := range []string{"glyf", "loca", "head", "hhea", "hmtx", "maxp", "cmap"} {
		if !sub.has(tag) {
			t.Errorf("subset lacks %q", tag)
		}
	}
	for _, tag := range []string{"GSUB", "GPOS", "name", "post"} {
		if sub.has(tag) {
			t.Errorf("subset should drop %q", tag)
		}
	}

	last := 0
	for _, g := range gids {
		last = max(last, g)
	}
	maxp, _ := sub.table("maxp")
	if n := int(binary.BigEndian.Uint16(maxp[4:6])); n != last+1 {
		t.Fatalf("numGlyphs = %d, want %d", n, last+1)
	}
	head, _ := sub.table("head")
	if binary.BigEndian.Uint16(head[50:52]) != 1 {
		t.Fatalf("subset loca must be long format")
	}

	origHead, _ := orig.table("head")
	origMaxp, _ := orig.table("maxp")
	origGlyphs, err := orig.glyphs(int(binary.BigEndian.Uint16(origMaxp[4:6])), binary.BigEndian.Uint16(origHead[50:52]) == 1)
	if err != nil {
		t.Fatal(err)
	}
	subGlyphs, err := sub.glyphs(last+1, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, g := range gids {
		if !bytes.Equal(subGlyphs.outline(g), origGlyphs.outline(g)) {
			t.Errorf("glyph %d outline changed", g)
		}
	}
	kept := map[int]bool{0: true}
	for _, g := range gids {
		kept[g] = true
	}
	origGlyphs.closeComposites(kept)
	for g := 1; g <= last; g++ {
		if !kept[g] && len(subGlyphs.outline(g)) != 0 {
			t.Fatalf("glyph %d should be empty in the subset", g)
		}
	}

	if sum := checksum(out); sum != 0xB1B0AFBA {
		t.Fatalf("file checksum %#x, want 0xB1B0AFBA", sum)
	}
}

func TestSubsetTrueTypeRejectsGarbage(t *testing.T) {
	if _, err := SubsetTrueType([]byte("nope"), []int{1}); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestSubsetTag(t *testing.T) {
	a := SubsetTag([]int{5, 3, 9})
	if len(a) != 6 {
		t.Fatalf("tag %q should have six letters", a)
	}
	for _, c := range a {
		if c < 'A' || c > 'Z' {
			t.Fatalf("tag %q has non-uppercase letter", a)
		}
	}
	if b := SubsetTag([]int{9, 5, 3}); a != b {
		t.Fatalf("order should not matter: %q != %q", a, b)
	}
	if c := SubsetTag([]int{5, 3}); a == c {
		t.Fatalf("different glyph sets should differ")
	}
}
