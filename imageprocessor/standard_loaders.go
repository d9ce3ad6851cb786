package imageprocessor

import (
	"bytes"
	"fmt"
	"image"

	// Register decoders with the image package
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxDecodePixels bounds the decoded size of an upload (40 megapixels)
const DefaultMaxDecodePixels = 40_000_000

// StandardDecoder decodes formats registered with the image package
type StandardDecoder struct {
	MaxPixels int
}

// NewStandardDecoder creates a decoder that rejects images larger than maxPixels
func NewStandardDecoder(maxPixels int) *StandardDecoder {
	return &StandardDecoder{MaxPixels: maxPixels}
}

// Decode reads the header first so oversized images are refused before any
// pixel buffer is allocated
func (d *StandardDecoder) Decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cannot read image header: %w", err)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", cfg.Width, cfg.Height)
	}

	if d.MaxPixels > 0 && cfg.Width*cfg.Height > d.MaxPixels {
		return nil, fmt.Errorf("image too large to decode: %dx%d", cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cannot decode image: %w", err)
	}

	return img, nil
}
