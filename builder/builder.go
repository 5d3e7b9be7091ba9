package builder

import (
	"fmt"
	"sync"

	"github.com/wudi/qrsheet/fonts"
	"github.com/wudi/qrsheet/ir/semantic"
)

// PDFBuilder provides a fluent API for PDF construction.
type PDFBuilder interface {
	NewPage(width, height float64) PageBuilder
	SetInfo(info *semantic.DocumentInfo) PDFBuilder
	SetLanguage(lang string) PDFBuilder
	RegisterFont(name string, font *semantic.Font) PDFBuilder
	RegisterTrueTypeFont(name string, data []byte) PDFBuilder
	// MeasureText returns the advance width of text in user units.
	MeasureText(text, fontName string, fontSize float64) float64
	// FontMetrics returns the descriptor of a registered font, or nil for
	// the built-in Helvetica.
	FontMetrics(fontName string) *semantic.FontDescriptor
	Build() (*semantic.Document, error)
}

// PageBuilder provides a fluent API for page construction.
type PageBuilder interface {
	DrawText(text string, x, y float64, opts TextOptions) PageBuilder
	DrawImage(img *semantic.Image, x, y, width, height float64, opts ImageOptions) PageBuilder
	DrawRectangle(x, y, width, height float64, opts RectOptions) PageBuilder
	Finish() PDFBuilder
}

// TextOptions configures text drawing.
type TextOptions struct {
	Font     string
	FontSize float64
	Color    Color
}

// RectOptions configures rectangle drawing (defaults to stroke if neither fill nor stroke is set).
type RectOptions struct {
	StrokeColor Color
	FillColor   Color
	LineWidth   float64
	Fill        bool
	Stroke      bool
}

// ImageOptions configures image drawing.
type ImageOptions struct {
	Interpolate bool
}

// Color represents an RGB color with components in [0,1].
type Color struct {
	R, G, B float64
}

var (
	Black = Color{}
	White = Color{R: 1, G: 1, B: 1}
)

type fontResource struct {
	font   *semantic.Font
	shaper *fonts.Shaper
}

type builderImpl struct {
	pages        []*semantic.Page
	info         *semantic.DocumentInfo
	lang         string
	fonts        map[string]fontResource
	defaultFont  string
	xobjectCount int
	xobjectNames map[*semantic.Image]string
	fontErr      error

	// shaping mutates ToUnicode maps, which the writer reads later
	mu sync.Mutex
}

type pageBuilderImpl struct {
	parent *builderImpl
	page   *semantic.Page
}

const (
	defaultFontResource = "F1"
	defaultBaseFont     = "Helvetica"
	defaultFontSize     = 12
)

// NewBuilder constructs a PDFBuilder.
func NewBuilder() PDFBuilder { return &builderImpl{} }

func (b *builderImpl) NewPage(w, h float64) PageBuilder {
	p := &semantic.Page{MediaBox: semantic.Rectangle{LLX: 0, LLY: 0, URX: w, URY: h}}
	b.pages = append(b.pages, p)
	return &pageBuilderImpl{parent: b, page: p}
}

func (b *builderImpl) SetInfo(info *semantic.DocumentInfo) PDFBuilder {
	b.info = info
	return b
}

func (b *builderImpl) SetLanguage(lang string) PDFBuilder {
	b.lang = lang
	return b
}

func (b *builderImpl) RegisterFont(name string, font *semantic.Font) PDFBuilder {
	return b.addFont(name, font)
}

func (b *builderImpl) RegisterTrueTypeFont(name string, data []byte) PDFBuilder {
	font, err := fonts.LoadTrueType(name, data)
	if err != nil {
		b.fontErr = err
		return b
	}
	return b.addFont(name, font)
}

func (b *builderImpl) addFont(name string, font *semantic.Font) PDFBuilder {
	if font == nil {
		return b
	}
	if b.fonts == nil {
		b.fonts = make(map[string]fontResource)
	}
	res := fontResource{font: font}
	if font.Subtype == "Type0" {
		shaper, err := fonts.NewShaper(font)
		if err != nil {
			b.fontErr = fmt.Errorf("register font %s: %w", name, err)
			return b
		}
		res.shaper = shaper
	}
	b.fonts[name] = res
	if b.defaultFont == "" {
		b.defaultFont = name
	}
	return b
}

func (b *builderImpl) Build() (*semantic.Document, error) {
	if b.fontErr != nil {
		return nil, b.fontErr
	}
	for i, p := range b.pages {
		p.Index = i
	}
	return &semantic.Document{
		Pages: b.pages,
		Info:  b.info,
		Lang:  b.lang,
	}, nil
}

func (b *builderImpl) MeasureText(text, fontName string, fontSize float64) float64 {
	if fontSize <= 0 {
		fontSize = defaultFontSize
	}
	res, _ := b.fontFor(fontName)
	if res.shaper != nil {
		return res.shaper.Width(text) / 1000 * fontSize
	}
	widthSum := 0.0
	for _, r := range text {
		if w, ok := res.font.Widths[int(r)]; ok {
			widthSum += float64(w)
		} else {
			widthSum += helveticaWidth(r)
		}
	}
	return widthSum / 1000 * fontSize
}

func (b *builderImpl) FontMetrics(fontName string) *semantic.FontDescriptor {
	res, _ := b.fontFor(fontName)
	return res.font.Descriptor
}

// fontFor resolves a resource name, falling back to the first registered
// font and then to the standard Helvetica.
func (b *builderImpl) fontFor(name string) (fontResource, string) {
	if name == "" {
		name = b.defaultFont
	}
	if res, ok := b.fonts[name]; ok {
		return res, name
	}
	return fontResource{font: &semantic.Font{
		Subtype:  "Type1",
		BaseFont: defaultBaseFont,
		Encoding: "WinAnsiEncoding",
	}}, defaultFontResource
}

func (b *builderImpl) imageName(img *semantic.Image) string {
	if b.xobjectNames == nil {
		b.xobjectNames = make(map[*semantic.Image]string)
	}
	if name, ok := b.xobjectNames[img]; ok {
		return name
	}
	b.xobjectCount++
	name := fmt.Sprintf("Im%d", b.xobjectCount)
	b.xobjectNames[img] = name
	return name
}

func (p *pageBuilderImpl) DrawText(text string, x, y float64, opts TextOptions) PageBuilder {
	if text == "" {
		return p
	}
	res, fontName := p.parent.fontFor(opts.Font)
	resources := p.ensureResources()
	if resources.Fonts == nil {
		resources.Fonts = make(map[string]*semantic.Font)
	}
	if _, ok := resources.Fonts[fontName]; !ok {
		resources.Fonts[fontName] = res.font
	}
	size := opts.FontSize
	if size <= 0 {
		size = defaultFontSize
	}

	ops := p.ensureContentOps()
	*ops = append(*ops,
		semantic.Operation{Operator: "BT"},
		semantic.Operation{
			Operator: "Tf",
			Operands: []semantic.Operand{semantic.NameOperand{Value: fontName}, semantic.NumberOperand{Value: size}},
		},
		semantic.Operation{
			Operator: "Td",
			Operands: []semantic.Operand{semantic.NumberOperand{Value: x}, semantic.NumberOperand{Value: y}},
		},
	)
	if opts.Color != Black {
		*ops = append(*ops, semantic.Operation{Operator: "rg", Operands: colorOperands(opts.Color)})
	}
	*ops = append(*ops,
		semantic.Operation{Operator: "Tj", Operands: []semantic.Operand{p.parent.encodeText(text, res)}},
		semantic.Operation{Operator: "ET"},
	)
	return p
}

// encodeText turns text into the string operand for the font. Type0 fonts
// get two-byte glyph ids from the shaper and each used glyph is recorded in
// the font's ToUnicode map so the text stays extractable.
func (b *builderImpl) encodeText(text string, res fontResource) semantic.StringOperand {
	if res.shaper == nil {
		out := make([]byte, 0, len(text))
		for _, r := range text {
			if r > 0xFF {
				r = '?'
			}
			out = append(out, byte(r))
		}
		return semantic.StringOperand{Value: out}
	}
	runes := []rune(text)
	glyphs := res.shaper.Shape(text)
	out := make([]byte, 0, len(glyphs)*2)

	b.mu.Lock()
	defer b.mu.Unlock()
	if res.font.ToUnicode == nil {
		res.font.ToUnicode = make(map[int][]rune)
	}
	for i, g := range glyphs {
		out = append(out, byte(g.ID>>8), byte(g.ID))
		if _, seen := res.font.ToUnicode[g.ID]; seen {
			continue
		}
		end := len(runes)
		for j := i + 1; j < len(glyphs); j++ {
			if glyphs[j].Cluster > g.Cluster {
				end = glyphs[j].Cluster
				break
			}
		}
		if g.Cluster < end {
			res.font.ToUnicode[g.ID] = append([]rune(nil), runes[g.Cluster:end]...)
		}
	}
	return semantic.StringOperand{Value: out, Hex: true}
}

func (p *pageBuilderImpl) DrawImage(img *semantic.Image, x, y, width, height float64, opts ImageOptions) PageBuilder {
	if img == nil {
		return p
	}
	res := p.ensureResources()
	if res.XObjects == nil {
		res.XObjects = make(map[string]semantic.XObject)
	}

	name := p.parent.imageName(img)
	if _, exists := res.XObjects[name]; !exists {
		xobj := *img
		xobj.Subtype = "Image"
		if opts.Interpolate {
			xobj.Interpolate = true
		}
		res.XObjects[name] = xobj
	}
	w := width
	if w == 0 {
		w = float64(img.Width)
	}
	h := height
	if h == 0 {
		h = float64(img.Height)
	}

	ops := p.ensureContentOps()
	*ops = append(*ops,
		semantic.Operation{Operator: "q"},
		semantic.Operation{
			Operator: "cm",
			Operands: []semantic.Operand{
				semantic.NumberOperand{Value: w},
				semantic.NumberOperand{Value: 0},
				semantic.NumberOperand{Value: 0},
				semantic.NumberOperand{Value: h},
				semantic.NumberOperand{Value: x},
				semantic.NumberOperand{Value: y},
			},
		},
		semantic.Operation{Operator: "Do", Operands: []semantic.Operand{semantic.NameOperand{Value: name}}},
		semantic.Operation{Operator: "Q"},
	)
	return p
}

func (p *pageBuilderImpl) DrawRectangle(x, y, width, height float64, opts RectOptions) PageBuilder {
	po := opts
	if !po.Stroke && !po.Fill {
		po.Stroke = true
	}
	ops := p.ensureContentOps()
	*ops = append(*ops, semantic.Operation{Operator: "q"})
	if po.LineWidth > 0 {
		*ops = append(*ops, semantic.Operation{Operator: "w", Operands: []semantic.Operand{semantic.NumberOperand{Value: po.LineWidth}}})
	}
	if po.Stroke && po.StrokeColor != Black {
		*ops = append(*ops, semantic.Operation{Operator: "RG", Operands: colorOperands(po.StrokeColor)})
	}
	if po.Fill && po.FillColor != Black {
		*ops = append(*ops, semantic.Operation{Operator: "rg", Operands: colorOperands(po.FillColor)})
	}
	*ops = append(*ops,
		semantic.Operation{
			Operator: "re",
			Operands: []semantic.Operand{
				semantic.NumberOperand{Value: x},
				semantic.NumberOperand{Value: y},
				semantic.NumberOperand{Value: width},
				semantic.NumberOperand{Value: height},
			},
		},
		semantic.Operation{Operator: paintOperator(po.Fill, po.Stroke)},
		semantic.Operation{Operator: "Q"},
	)
	return p
}

func (p *pageBuilderImpl) Finish() PDFBuilder { return p.parent }

func (p *pageBuilderImpl) ensureResources() *semantic.Resources {
	if p.page.Resources == nil {
		p.page.Resources = &semantic.Resources{}
	}
	return p.page.Resources
}

func (p *pageBuilderImpl) ensureContentOps() *[]semantic.Operation {
	if len(p.page.Contents) == 0 {
		p.page.Contents = append(p.page.Contents, semantic.ContentStream{})
	}
	return &p.page.Contents[len(p.page.Contents)-1].Operations
}

func colorOperands(c Color) []semantic.Operand {
	return []semantic.Operand{
		semantic.NumberOperand{Value: c.R},
		semantic.NumberOperand{Value: c.G},
		semantic.NumberOperand{Value: c.B},
	}
}

func paintOperator(fill, stroke bool) string {
	switch {
	case fill && stroke:
		return "B"
	case fill:
		return "f"
	default:
		return "S"
	}
}

// helveticaWidth approximates standard Helvetica advances for unregistered
// fonts: digits and most punctuation are 556, capitals around 667.
func helveticaWidth(r rune) float64 {
	switch {
	case r >= '0' && r <= '9':
		return 556
	case r >= 'A' && r <= 'Z':
		return 667
	case r == ' ':
		return 278
	case r == '-':
		return 333
	default:
		return 500
	}
}
