// Package fonts loads TrueType faces into embeddable PDF fonts and shapes
// label text against them.
package fonts

import (
	"fmt"
	"math"
	"strings"

	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/qrsheet/ir/semantic"
)

// DefaultLabelFontName is the resource name the sheet uses for label text.
const DefaultLabelFontName = "FLabel"

// LoadTrueType parses a TrueType/OpenType font, extracts basic metrics, and
// returns a semantic.Font configured for Type0 Identity-H usage with a
// FontFile2 stream. The full font is embedded (no subsetting); glyph ids are
// used as CIDs, so the descendant font maps CIDs to GIDs by identity.
func LoadTrueType(name string, data []byte) (*semantic.Font, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("truetype font data is empty")
	}
	font, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse truetype: %w", err)
	}
	unitsPerEm := font.UnitsPerEm()
	if unitsPerEm == 0 {
		return nil, fmt.Errorf("invalid unitsPerEm")
	}
	buf := &sfnt.Buffer{}
	ppem := fixed.Int26_6(unitsPerEm << 6)

	baseName := strings.TrimSpace(name)
	if ps, _ := font.Name(buf, sfnt.NameIDPostScript); len(ps) > 0 {
		baseName = ps
	}
	if baseName == "" {
		baseName = "CustomTT"
	}

	widths := glyphWidths(font, buf, unitsPerEm, ppem)
	defaultWidth := widths[0]
	if defaultWidth == 0 {
		defaultWidth = 1000
	}

	metrics, _ := font.Metrics(buf, ppem, xfont.HintingNone)
	bounds, _ := font.Bounds(buf, ppem, xfont.HintingNone)
	capHeight := metrics.CapHeight
	if capHeight == 0 {
		capHeight = metrics.Ascent
	}
	descriptor := &semantic.FontDescriptor{
		FontName:    baseName,
		Flags:       32, // nonsymbolic
		ItalicAngle: italicAngle(font),
		Ascent:      scaleFixed(metrics.Ascent, unitsPerEm),
		// sfnt reports descent as a positive distance below the baseline.
		Descent:   -scaleFixed(metrics.Descent, unitsPerEm),
		CapHeight: scaleFixed(capHeight, unitsPerEm),
		StemV:     80,
		FontBBox: [4]float64{
			scaleFixed(bounds.Min.X, unitsPerEm),
			-scaleFixed(bounds.Max.Y, unitsPerEm),
			scaleFixed(bounds.Max.X, unitsPerEm),
			-scaleFixed(bounds.Min.Y, unitsPerEm),
		},
		FontFile:     data,
		FontFileType: "FontFile2",
	}

	cidInfo := semantic.CIDSystemInfo{Registry: "Adobe", Ordering: "Identity", Supplement: 0}
	descendant := &semantic.CIDFont{
		Subtype:         "CIDFontType2",
		BaseFont:        baseName,
		CIDSystemInfo:   cidInfo,
		DW:              defaultWidth,
		W:               widths,
		CIDToGIDMapName: "Identity",
		Descriptor:      descriptor,
	}

	return &semantic.Font{
		Subtype:        "Type0",
		BaseFont:       baseName,
		Encoding:       "Identity-H",
		Widths:         widths,
		ToUnicode:      make(map[int][]rune),
		CIDSystemInfo:  &cidInfo,
		DescendantFont: descendant,
		Descriptor:     descriptor,
	}, nil
}

// DefaultLabelFont loads the Go Regular face bundled with x/image. Each call
// returns a fresh font so ToUnicode bookkeeping stays per document.
func DefaultLabelFont() (*semantic.Font, error) {
	return LoadTrueType("GoRegular", goregular.TTF)
}

func glyphWidths(font *sfnt.Font, buf *sfnt.Buffer, unitsPerEm sfnt.Units, ppem fixed.Int26_6) map[int]int {
	glyphs := font.NumGlyphs()
	widths := make(map[int]int, glyphs)
	for i := 0; i < glyphs; i++ {
		adv, err := font.GlyphAdvance(buf, sfnt.GlyphIndex(i), ppem, xfont.HintingNone)
		if err != nil {
			continue
		}
		widths[i] = int(math.Round(scaleFixed(adv, unitsPerEm)))
	}
	return widths
}

func italicAngle(font *sfnt.Font) float64 {
	post := font.PostTable()
	if post == nil {
		return 0
	}
	return post.ItalicAngle
}

func scaleFixed(val fixed.Int26_6, unitsPerEm sfnt.Units) float64 {
	return float64(val) * 1000.0 / (64.0 * float64(unitsPerEm))
}
