package builder

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/draw"

	"github.com/wudi/qrsheet/ir/semantic"
)

// FromImage converts a Go image to *semantic.Image. Images whose pixels are
// all neutral become DeviceGray; anything else is DeviceRGB. Transparency is
// carried as a DeviceGray soft mask.
func FromImage(src image.Image) *semantic.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	// non-premultiplied so color values survive partial alpha
	nrgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(nrgba, nrgba.Bounds(), src, bounds.Min, draw.Src)

	gray := true
	hasAlpha := false
	for i := 0; i < w*h; i++ {
		px := nrgba.Pix[i*4 : i*4+4]
		if px[0] != px[1] || px[1] != px[2] {
			gray = false
		}
		if px[3] < 255 {
			hasAlpha = true
		}
	}

	components, colorSpace := 3, "DeviceRGB"
	if gray {
		components, colorSpace = 1, "DeviceGray"
	}
	pixels := make([]byte, 0, w*h*components)
	for i := 0; i < w*h; i++ {
		px := nrgba.Pix[i*4 : i*4+4]
		pixels = append(pixels, px[:components]...)
	}

	img := &semantic.Image{
		Width:            w,
		Height:           h,
		ColorSpace:       semantic.DeviceColorSpace{Name: colorSpace},
		BitsPerComponent: 8,
		Data:             pixels,
	}
	if hasAlpha {
		alpha := make([]byte, w*h)
		for i := range alpha {
			alpha[i] = nrgba.Pix[i*4+3]
		}
		img.SMask = &semantic.Image{
			Width:            w,
			Height:           h,
			ColorSpace:       semantic.DeviceColorSpace{Name: "DeviceGray"},
			BitsPerComponent: 8,
			Data:             alpha,
		}
	}
	return img
}

// CompressImage Flate-encodes the samples of img (and its soft mask) in
// place. Already encoded images are left alone.
func CompressImage(img *semantic.Image, level int) error {
	if img == nil || img.Filter != "" {
		return nil
	}
	data, err := zlibEncode(img.Data, level)
	if err != nil {
		return fmt.Errorf("compress image: %w", err)
	}
	img.Data = data
	img.Filter = "FlateDecode"
	if img.SMask != nil {
		return CompressImage(img.SMask, level)
	}
	return nil
}

func zlibEncode(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
