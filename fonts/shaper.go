package fonts

import (
	"bytes"
	"errors"
	"sync"
	"unicode"

	"github.com/go-text/typesetting/di"
	gofont "github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/qrsheet/ir/semantic"
)

// ShapedGlyph represents a single shaped glyph with positioning information.
type ShapedGlyph struct {
	ID       int
	Cluster  int
	XAdvance float64 // In PDF text units (1/1000 em)
	YAdvance float64
	XOffset  float64
	YOffset  float64
}

// Shaper shapes runs against one embedded font. The parsed face is cached, so
// a Shaper is meant to live as long as the document that embeds the font.
type Shaper struct {
	mu     sync.Mutex
	face   *gofont.Face
	shaper shaping.HarfbuzzShaper
}

// NewShaper parses the font program embedded in font.
func NewShaper(font *semantic.Font) (*Shaper, error) {
	if !font.Embedded() {
		return nil, errors.New("font has no embedded program to shape with")
	}
	face, err := gofont.ParseTTF(bytes.NewReader(font.Descriptor.FontFile))
	if err != nil {
		return nil, err
	}
	return &Shaper{face: face}, nil
}

// Shape returns glyphs in visual order with advances normalized to 1000
// units per em.
func (s *Shaper) Shape(text string) []ShapedGlyph {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	script := detectScript(runes)
	input := shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: scriptDirection(script),
		Face:      s.face,
		// 1000 em units in 26.6 fixed point, so advances come back in PDF text units.
		Size:     fixed.Int26_6(1000 * 64),
		Script:   script,
		Language: language.DefaultLanguage(),
	}

	s.mu.Lock()
	output := s.shaper.Shape(input)
	s.mu.Unlock()

	result := make([]ShapedGlyph, 0, len(output.Glyphs))
	for _, g := range output.Glyphs {
		result = append(result, ShapedGlyph{
			ID:       int(g.GlyphID),
			Cluster:  g.ClusterIndex,
			XAdvance: float64(g.XAdvance) / 64.0,
			YAdvance: float64(g.YAdvance) / 64.0,
			XOffset:  float64(g.XOffset) / 64.0,
			YOffset:  float64(g.YOffset) / 64.0,
		})
	}
	return result
}

// Width returns the total advance of text in 1/1000 em.
func (s *Shaper) Width(text string) float64 {
	var w float64
	for _, g := range s.Shape(text) {
		w += g.XAdvance
	}
	return w
}

// ShapeText shapes text with a one-off Shaper for font.
func ShapeText(text string, font *semantic.Font) ([]ShapedGlyph, error) {
	s, err := NewShaper(font)
	if err != nil {
		return nil, err
	}
	return s.Shape(text), nil
}

func scriptDirection(script language.Script) di.Direction {
	switch script {
	case language.Arabic, language.Hebrew:
		return di.DirectionRTL
	default:
		return di.DirectionLTR
	}
}

// detectScript picks the most frequent script among runes, Latin by default.
func detectScript(runes []rune) language.Script {
	counts := make(map[language.Script]int)
	maxCount := 0
	bestScript := language.Latin

	for _, r := range runes {
		script := scriptFromRune(r)
		if script == language.Unknown {
			continue
		}
		counts[script]++
		if counts[script] > maxCount {
			maxCount = counts[script]
			bestScript = script
		}
	}
	return bestScript
}

func scriptFromRune(r rune) language.Script {
	switch {
	case unicode.Is(unicode.Latin, r):
		return language.Latin
	case unicode.Is(unicode.Greek, r):
		return language.Greek
	case unicode.Is(unicode.Cyrillic, r):
		return language.Cyrillic
	case unicode.Is(unicode.Arabic, r):
		return language.Arabic
	case unicode.Is(unicode.Hebrew, r):
		return language.Hebrew
	}
	return language.Unknown
}
