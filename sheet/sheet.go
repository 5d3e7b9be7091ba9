// Package sheet places rendered symbols on grid pages and serializes the
// pages into a single PDF document.
package sheet

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"

	"github.com/wudi/qrsheet/builder"
	"github.com/wudi/qrsheet/coords"
	"github.com/wudi/qrsheet/fonts"
	"github.com/wudi/qrsheet/grid"
	"github.com/wudi/qrsheet/ir/semantic"
	"github.com/wudi/qrsheet/observability"
	"github.com/wudi/qrsheet/symbol"
	"github.com/wudi/qrsheet/writer"
)

// DefaultFilename is the name every finished document is delivered under.
const DefaultFilename = "qrcodes.pdf"

var (
	ErrOutOfOrder = errors.New("sheet: items must arrive in index order")
	ErrDiscarded  = errors.New("sheet: assembler discarded")
	ErrFinalized  = errors.New("sheet: assembler already finalized")
	ErrEmpty      = errors.New("sheet: no items placed")
)

// Style is the ink of the sheet. Lengths are inches, font sizes points.
type Style struct {
	BorderWidth   float64 `mapstructure:"border_width" validate:"gte=0"`
	BorderColor   builder.Color
	LabelFontSize float64 `mapstructure:"label_font_size" validate:"gt=0"`
	LabelColor    builder.Color
	// LabelFont is optional TrueType data replacing the built-in Go font.
	LabelFont []byte `mapstructure:"-"`
}

func DefaultStyle() Style {
	return Style{
		BorderWidth:   0.015,
		BorderColor:   builder.Black,
		LabelFontSize: 6,
		LabelColor:    builder.Black,
	}
}

// Options configures an Assembler.
type Options struct {
	Page     grid.PageConfig
	Style    Style
	Filename string
	// Subject is recorded in the document info, usually the range summary.
	Subject string
	// Compression is the zlib level for images and content streams; 0 writes
	// them uncompressed.
	Compression   int
	Deterministic bool
	// SubsetFonts trims the embedded label font to the glyphs in use.
	SubsetFonts bool
}

func DefaultOptions() Options {
	return Options{
		Page:        grid.DefaultPageConfig(),
		Style:       DefaultStyle(),
		Filename:    DefaultFilename,
		Compression: 6,
		SubsetFonts: true,
	}
}

// Document is a finished sheet.
type Document struct {
	Name  string
	Data  []byte
	Pages int
	Items int
	// Digest is the hex BLAKE2b-256 of Data.
	Digest string
}

func (d *Document) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(d.Data)
	return int64(n), err
}

// Assembler accumulates pages for one run. It is not safe for concurrent
// use; the batch loop owns it.
type Assembler struct {
	opts    Options
	b       builder.PDFBuilder
	page    builder.PageBuilder
	sheet   coords.Sheet
	pages   int
	next    int
	state   state
	logger  observability.Logger
	metrics observability.Metrics
	writer  writer.Writer
}

type state int

const (
	open state = iota
	discarded
	finalized
)

type Option func(*Assembler)

func WithLogger(l observability.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithMetrics(m observability.Metrics) Option {
	return func(a *Assembler) {
		if m != nil {
			a.metrics = m
		}
	}
}

// NewAssembler validates the page layout and prepares an empty document.
func NewAssembler(opts Options, options ...Option) (*Assembler, error) {
	if err := opts.Page.Validate(); err != nil {
		return nil, err
	}
	if opts.Filename == "" {
		opts.Filename = DefaultFilename
	}
	if opts.Style.LabelFontSize <= 0 {
		opts.Style.LabelFontSize = DefaultStyle().LabelFontSize
	}

	a := &Assembler{
		opts:    opts,
		sheet:   coords.NewSheet(opts.Page.Height),
		logger:  observability.NopLogger{},
		metrics: observability.NopMetrics{},
	}
	for _, o := range options {
		o(a)
	}
	a.writer = writer.NewWriter(writeMetrics{a.metrics})

	a.b = builder.NewBuilder()
	if len(opts.Style.LabelFont) > 0 {
		a.b.RegisterTrueTypeFont(fonts.DefaultLabelFontName, opts.Style.LabelFont)
	} else {
		font, err := fonts.DefaultLabelFont()
		if err != nil {
			return nil, fmt.Errorf("load label font: %w", err)
		}
		a.b.RegisterFont(fonts.DefaultLabelFontName, font)
	}
	a.b.SetInfo(&semantic.DocumentInfo{
		Title:    "QR Codes",
		Subject:  opts.Subject,
		Creator:  "qrsheet",
		Producer: "qrsheet",
	})
	a.b.SetLanguage("en")
	return a, nil
}

// Placed is the number of items drawn so far.
func (a *Assembler) Placed() int { return a.next }

// Pages is the number of pages opened so far.
func (a *Assembler) Pages() int { return a.pages }

// Place draws one symbol: border, then raster, then label. The symbol for
// index i must follow the one for i-1.
func (a *Assembler) Place(sym *symbol.Rendered) (grid.Placement, error) {
	switch a.state {
	case discarded:
		return grid.Placement{}, ErrDiscarded
	case finalized:
		return grid.Placement{}, ErrFinalized
	}
	if sym == nil || sym.Image == nil {
		return grid.Placement{}, errors.New("sheet: nil symbol")
	}
	if sym.Item.Index != a.next {
		return grid.Placement{}, fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, sym.Item.Index, a.next)
	}

	p := grid.Place(a.opts.Page, sym.Item.Index)
	if p.Page >= a.pages {
		a.openPage()
	}

	img := builder.FromImage(sym.Image)
	if a.opts.Compression != 0 {
		if err := builder.CompressImage(img, a.opts.Compression); err != nil {
			return grid.Placement{}, fmt.Errorf("compress symbol %q: %w", sym.Item.Text, err)
		}
	}

	style := a.opts.Style
	if style.BorderWidth > 0 {
		x, y, w, h := a.sheet.Rect(p.Border.X, p.Border.Y, p.Border.W, p.Border.H)
		a.page.DrawRectangle(x, y, w, h, builder.RectOptions{
			Stroke:      true,
			StrokeColor: style.BorderColor,
			LineWidth:   coords.Length(style.BorderWidth),
		})
	}

	x, y, w, h := a.sheet.Rect(p.Symbol.X, p.Symbol.Y, p.Symbol.W, p.Symbol.H)
	a.page.DrawImage(img, x, y, w, h, builder.ImageOptions{})

	a.drawLabel(sym.Item.Text, p)

	a.next++
	return p, nil
}

func (a *Assembler) openPage() {
	if a.page != nil {
		a.page.Finish()
	}
	a.page = a.b.NewPage(coords.Length(a.opts.Page.Width), coords.Length(a.opts.Page.Height))
	a.pages++
	a.logger.Debug("page opened", observability.Int("page", a.pages-1))
}

// drawLabel centers text on the label anchor both ways: horizontally by its
// advance width and vertically by the midpoint of the font's ascent and
// descent.
func (a *Assembler) drawLabel(text string, p grid.Placement) {
	size := a.opts.Style.LabelFontSize
	name := fonts.DefaultLabelFontName
	anchor := a.sheet.Point(p.LabelX, p.LabelY)

	width := a.b.MeasureText(text, name, size)
	baseline := anchor.Y - verticalCenter(a.b.FontMetrics(name), size)
	a.page.DrawText(text, anchor.X-width/2, baseline, builder.TextOptions{
		Font:     name,
		FontSize: size,
		Color:    a.opts.Style.LabelColor,
	})
}

// verticalCenter is the height above the baseline of the middle of the
// glyph extent.
func verticalCenter(fd *semantic.FontDescriptor, size float64) float64 {
	if fd == nil || fd.Ascent == 0 {
		return 0.35 * size
	}
	return (fd.Ascent + fd.Descent) / 2 / 1000 * size
}

// Discard drops every drawn page. The assembler cannot be used afterwards.
func (a *Assembler) Discard() {
	if a.state == discarded {
		return
	}
	a.logger.Debug("sheet discarded", observability.Int("items", a.next), observability.Int("pages", a.pages))
	a.state = discarded
	a.b = nil
	a.page = nil
}

// Finalize serializes every page into the document.
func (a *Assembler) Finalize(ctx context.Context) (*Document, error) {
	switch a.state {
	case discarded:
		return nil, ErrDiscarded
	case finalized:
		return nil, ErrFinalized
	}
	if a.next == 0 {
		return nil, ErrEmpty
	}
	a.page.Finish()

	doc, err := a.b.Build()
	if err != nil {
		return nil, fmt.Errorf("build document: %w", err)
	}
	var buf bytes.Buffer
	cfg := writer.Config{
		Version:       writer.PDF17,
		Compression:   a.opts.Compression,
		Deterministic: a.opts.Deterministic,
		SubsetFonts:   a.opts.SubsetFonts,
	}
	if err := a.writer.Write(ctx, doc, &buf, cfg); err != nil {
		return nil, fmt.Errorf("write document: %w", err)
	}
	a.state = finalized
	a.b, a.page = nil, nil

	sum := blake2b.Sum256(buf.Bytes())
	out := &Document{
		Name:   a.opts.Filename,
		Data:   buf.Bytes(),
		Pages:  a.pages,
		Items:  a.next,
		Digest: hex.EncodeToString(sum[:]),
	}
	a.metrics.Counter(observability.MetricPagesWritten, float64(out.Pages))
	a.logger.Info("sheet finalized",
		observability.String("name", out.Name),
		observability.Int("pages", out.Pages),
		observability.Int("items", out.Items),
		observability.Int("bytes", len(out.Data)),
	)
	return out, nil
}
