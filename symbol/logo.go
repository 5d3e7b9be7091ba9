package symbol

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Logo is a decoded raster drawn over the center of every symbol.
type Logo struct {
	img    image.Image
	format string
}

// DecodeLogo decodes PNG, JPEG, GIF, WebP, BMP or TIFF data.
func DecodeLogo(data []byte) (*Logo, error) {
	if len(data) == 0 {
		return nil, &LogoDecodeError{Reason: "empty image"}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &LogoDecodeError{Reason: "decode", Err: err}
	}
	if b := img.Bounds(); b.Empty() {
		return nil, &LogoDecodeError{Format: format, Reason: "zero-sized image"}
	}
	return &Logo{img: img, format: format}, nil
}

// NewLogo wraps an already decoded image.
func NewLogo(img image.Image) (*Logo, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, &LogoDecodeError{Reason: "zero-sized image"}
	}
	return &Logo{img: img, format: "image"}, nil
}

func (l *Logo) Format() string          { return l.format }
func (l *Logo) Bounds() image.Rectangle { return l.img.Bounds() }
