package symbol

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/wudi/qrsheet/codes"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func isDark(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r < 0x4000 && g < 0x4000 && b < 0x4000
}

func TestRender_PlainSymbol(t *testing.T) {
	r := NewRenderer(DefaultOptions())
	out, err := r.Render(context.Background(), codes.Item{Index: 0, Text: "R13-1"})
	require.NoError(t, err)

	assert.Equal(t, 400, out.SizePx)
	assert.Equal(t, image.Rect(0, 0, 400, 400), out.Image.Bounds())
	// No quiet zone: the top-left finder pattern starts at the edge.
	assert.True(t, isDark(out.Image.At(10, 10)))
}

func TestRender_QuietZone(t *testing.T) {
	r := NewRenderer(Options{SizePx: 400, QuietZone: true})
	out, err := r.Render(context.Background(), codes.Item{Text: "R13-1"})
	require.NoError(t, err)
	assert.False(t, isDark(out.Image.At(0, 0)))
}

func TestRender_LogoCenteredOver(t *testing.T) {
	logo, err := NewLogo(solid(64, 32, color.NRGBA{R: 255, A: 255}))
	require.NoError(t, err)

	r := NewRenderer(DefaultOptions(), WithLogo(logo))
	out, err := r.Render(context.Background(), codes.Item{Text: "R13-7"})
	require.NoError(t, err)

	for _, p := range []image.Point{{200, 200}, {110, 110}, {290, 120}} {
		c := color.RGBAModel.Convert(out.Image.At(p.X, p.Y)).(color.RGBA)
		assert.Greater(t, c.R, uint8(250), "at %v", p)
		assert.Less(t, c.G, uint8(5), "at %v", p)
		assert.Less(t, c.B, uint8(5), "at %v", p)
	}
	// Outside the 200 px square the symbol is untouched.
	assert.True(t, isDark(out.Image.At(10, 10)))
}

func TestRender_TransparentLogoLeavesSymbol(t *testing.T) {
	plain, err := NewRenderer(DefaultOptions()).Render(context.Background(), codes.Item{Text: "SDS-9"})
	require.NoError(t, err)

	transparent, err := NewLogo(solid(10, 10, color.NRGBA{}))
	require.NoError(t, err)
	withLogo, err := NewRenderer(DefaultOptions(), WithLogo(transparent)).Render(context.Background(), codes.Item{Text: "SDS-9"})
	require.NoError(t, err)

	assert.Equal(t, plain.Image.(*image.RGBA).Pix, withLogo.Image.(*image.RGBA).Pix)
}

func TestRender_OversizedPayload(t *testing.T) {
	item := codes.Item{Index: 3, Text: strings.Repeat("x", 3000)}
	_, err := NewRenderer(DefaultOptions()).Render(context.Background(), item)

	var undecodable *UndecodableInputError
	require.ErrorAs(t, err, &undecodable)
	assert.Equal(t, 3, undecodable.Item.Index)
}

func TestRender_SizeOutOfBounds(t *testing.T) {
	_, err := NewRenderer(Options{SizePx: MaxSizePx + 1}).Render(context.Background(), codes.Item{Text: "A1"})
	var renderErr *AssetRenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Contains(t, renderErr.Error(), "out of bounds")
}

func TestRender_FreshSurfacePerCall(t *testing.T) {
	r := NewRenderer(DefaultOptions())
	a, err := r.Render(context.Background(), codes.Item{Text: "A1"})
	require.NoError(t, err)
	b, err := r.Render(context.Background(), codes.Item{Text: "A1"})
	require.NoError(t, err)

	pa, pb := a.Image.(*image.RGBA), b.Image.(*image.RGBA)
	require.Equal(t, pa.Pix, pb.Pix)
	pa.Pix[0] ^= 0xFF
	assert.NotEqual(t, pa.Pix[0], pb.Pix[0])
}

func TestRenderedPNG(t *testing.T) {
	out, err := NewRenderer(Options{SizePx: 128}).Render(context.Background(), codes.Item{Text: "A1"})
	require.NoError(t, err)
	data, err := out.PNG()
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 128, 128), img.Bounds())
}

func TestDecodeLogo(t *testing.T) {
	var pngBuf, bmpBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, solid(4, 4, color.NRGBA{B: 255, A: 128})))
	require.NoError(t, bmp.Encode(&bmpBuf, solid(4, 4, color.NRGBA{G: 255, A: 255})))

	l, err := DecodeLogo(pngBuf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "png", l.Format())

	l, err = DecodeLogo(bmpBuf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "bmp", l.Format())
	assert.Equal(t, image.Rect(0, 0, 4, 4), l.Bounds())

	var decodeErr *LogoDecodeError
	_, err = DecodeLogo([]byte("not an image"))
	require.ErrorAs(t, err, &decodeErr)
	_, err = DecodeLogo(nil)
	require.ErrorAs(t, err, &decodeErr)
	_, err = NewLogo(nil)
	require.ErrorAs(t, err, &decodeErr)
}
