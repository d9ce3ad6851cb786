//go:build gocv

package imageprocessor

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

func init() {
	decoder := &GocvDecoder{}
	for _, format := range []FormatType{FormatJPEG, FormatPNG, FormatBMP, FormatTIFF, FormatWEBP} {
		specializedDecoders[format] = decoder
	}
}

// GocvDecoder decodes through OpenCV straight to a single grayscale channel.
// Only compiled with the gocv build tag since it needs OpenCV installed.
type GocvDecoder struct{}

// Decode implements Decoder
func (d *GocvDecoder) Decode(data []byte) (image.Image, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
	if err != nil {
		return nil, fmt.Errorf("opencv decode failed: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("opencv decoded an empty image")
	}

	if mat.Rows()*mat.Cols() > DefaultMaxDecodePixels {
		return nil, fmt.Errorf("image too large to decode: %dx%d", mat.Cols(), mat.Rows())
	}

	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("cannot convert opencv mat: %w", err)
	}

	return img, nil
}
