// Package symbol renders code items as square QR rasters at the highest
// error-correction level, optionally with a logo composited over the center.
package symbol

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/image/draw"

	"github.com/wudi/qrsheet/codes"
	"github.com/wudi/qrsheet/observability"
)

const (
	DefaultSizePx    = 400
	DefaultLogoRatio = 0.5
	// MaxSizePx bounds the surface allocated per item.
	MaxSizePx = 4096
)

// Options controls raster generation.
type Options struct {
	SizePx    int     `mapstructure:"size_px" validate:"gte=21,lte=4096"`
	LogoRatio float64 `mapstructure:"logo_ratio" validate:"gt=0,lte=1"`
	QuietZone bool    `mapstructure:"quiet_zone"`
}

func DefaultOptions() Options {
	return Options{SizePx: DefaultSizePx, LogoRatio: DefaultLogoRatio}
}

// Rendered is one finished symbol raster.
type Rendered struct {
	Item   codes.Item
	Image  image.Image
	SizePx int
}

// PNG encodes the raster.
func (r *Rendered) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, r.Image); err != nil {
		return nil, fmt.Errorf("encode symbol %q: %w", r.Item.Text, err)
	}
	return buf.Bytes(), nil
}

// Renderer turns items into rasters. A Renderer holds only immutable
// configuration and is safe for concurrent use.
type Renderer struct {
	opts   Options
	logo   *Logo
	logger observability.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

func WithLogo(l *Logo) Option { return func(r *Renderer) { r.logo = l } }

func WithLogger(l observability.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRenderer returns a renderer. Zero fields in opts take their defaults.
func NewRenderer(opts Options, options ...Option) *Renderer {
	if opts.SizePx == 0 {
		opts.SizePx = DefaultSizePx
	}
	if opts.LogoRatio == 0 {
		opts.LogoRatio = DefaultLogoRatio
	}
	r := &Renderer{opts: opts, logger: observability.NopLogger{}}
	for _, o := range options {
		o(r)
	}
	return r
}

func (r *Renderer) Options() Options { return r.opts }

// Render encodes item.Text and composes the result on a fresh surface.
func (r *Renderer) Render(ctx context.Context, item codes.Item) (rendered *Rendered, err error) {
	n := r.opts.SizePx
	if n <= 0 || n > MaxSizePx {
		return nil, &AssetRenderError{Item: item, Reason: fmt.Sprintf("size %d px out of bounds", n)}
	}

	q, err := qrcode.New(item.Text, qrcode.Highest)
	if err != nil {
		return nil, &UndecodableInputError{Item: item, Err: err}
	}
	q.DisableBorder = !r.opts.QuietZone

	defer func() {
		if p := recover(); p != nil {
			rendered, err = nil, &AssetRenderError{Item: item, Reason: fmt.Sprint(p)}
		}
	}()

	s := acquireSurface(n)
	defer s.release()

	s.drawSymbol(q.Image(n))
	if r.logo != nil {
		side := int(float64(n) * r.opts.LogoRatio)
		if side > 0 {
			s.drawLogo(r.logo, side)
		}
	}

	r.logger.Debug("symbol rendered",
		observability.Int("index", item.Index),
		observability.String("text", item.Text),
		observability.Int("modules", len(q.Bitmap())),
		observability.Bool("logo", r.logo != nil),
	)
	return &Rendered{Item: item, Image: s.snapshot(), SizePx: n}, nil
}

// surface is the offscreen canvas owned by a single Render call.
type surface struct {
	canvas *image.RGBA
}

func acquireSurface(n int) *surface {
	return &surface{canvas: image.NewRGBA(image.Rect(0, 0, n, n))}
}

func (s *surface) release() { s.canvas = nil }

// drawSymbol fills the canvas with the symbol. The encoder may return a
// larger raster than asked for when the version needs more pixels per
// module; it is scaled down with hard edges.
func (s *surface) drawSymbol(src image.Image) {
	b := s.canvas.Bounds()
	if src.Bounds().Size() == b.Size() {
		draw.Draw(s.canvas, b, src, src.Bounds().Min, draw.Src)
		return
	}
	draw.NearestNeighbor.Scale(s.canvas, b, src, src.Bounds(), draw.Src, nil)
}

// drawLogo stretches the logo to a side x side square in the center.
func (s *surface) drawLogo(l *Logo, side int) {
	n := s.canvas.Bounds().Dx()
	off := (n - side) / 2
	dst := image.Rect(off, off, off+side, off+side)
	draw.CatmullRom.Scale(s.canvas, dst, l.img, l.img.Bounds(), draw.Over, nil)
}

func (s *surface) snapshot() *image.RGBA {
	out := image.NewRGBA(s.canvas.Bounds())
	copy(out.Pix, s.canvas.Pix)
	return out
}
