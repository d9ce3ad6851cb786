package imageprocessor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectFormat(t *testing.T) {
	bmp := append([]byte("BM"), make([]byte, 30)...)

	tests := []struct {
		name string
		data []byte
		want FormatType
	}{
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xdb}, FormatJPEG},
		{"png", []byte("\x89PNG\r\n\x1a\n\x00\x00"), FormatPNG},
		{"gif87", []byte("GIF87a...."), FormatGIF},
		{"gif89", []byte("GIF89a...."), FormatGIF},
		{"bmp", bmp, FormatBMP},
		{"short bmp", []byte("BM"), FormatUnknown},
		{"tiff little endian", []byte("II*\x00\x08\x00"), FormatTIFF},
		{"tiff big endian", []byte("MM\x00*\x00\x08"), FormatTIFF},
		{"webp", []byte("RIFF\x10\x00\x00\x00WEBPVP8 "), FormatWEBP},
		{"riff wave", []byte("RIFF\x10\x00\x00\x00WAVEfmt "), FormatUnknown},
		{"heic", []byte("\x00\x00\x00\x18ftypheic\x00\x00"), FormatHEIC},
		{"mp4", []byte("\x00\x00\x00\x18ftypisom\x00\x00"), FormatUnknown},
		{"text", []byte("hello"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.data))
		})
	}
}

func TestGetFileFormat(t *testing.T) {
	assert.Equal(t, FormatJPEG, GetFileFormat("/photos/IMG_0001.JPG"))
	assert.Equal(t, FormatJPEG, GetFileFormat("a.jpeg"))
	assert.Equal(t, FormatHEIC, GetFileFormat("a.heif"))
	assert.Equal(t, FormatUnknown, GetFileFormat("notes.txt"))
	assert.Equal(t, FormatUnknown, GetFileFormat("noext"))

	assert.True(t, IsImageFile("site/visit.webp"))
	assert.False(t, IsImageFile("site/report.pdf"))
}

func TestFormatFromContentType(t *testing.T) {
	assert.Equal(t, FormatJPEG, FormatFromContentType("image/jpeg"))
	assert.Equal(t, FormatJPEG, FormatFromContentType("image/jpg"))
	assert.Equal(t, FormatPNG, FormatFromContentType("Image/PNG; charset=binary"))
	assert.Equal(t, FormatHEIC, FormatFromContentType("image/heif"))
	assert.Equal(t, FormatUnknown, FormatFromContentType("application/pdf"))
	assert.Equal(t, FormatUnknown, FormatFromContentType(""))
}

func TestContentTypeAndExtension(t *testing.T) {
	for _, format := range []FormatType{FormatJPEG, FormatPNG, FormatGIF, FormatBMP, FormatTIFF, FormatWEBP, FormatHEIC} {
		assert.NotEmpty(t, ContentTypeFor(format), format)
		assert.NotEmpty(t, FormatToExtension(format), format)
		assert.Equal(t, format, FormatFromContentType(ContentTypeFor(format)))
		assert.Equal(t, format, GetFileFormat("x"+FormatToExtension(format)))
	}
	assert.Empty(t, ContentTypeFor(FormatUnknown))
	assert.Empty(t, FormatToExtension(FormatUnknown))
}

func TestDecoderRegistry(t *testing.T) {
	registry := NewDecoderRegistry()
	assert.True(t, registry.CanDecode(FormatPNG))
	assert.True(t, registry.CanDecode(FormatWEBP))
	assert.False(t, registry.CanDecode(FormatUnknown))
	assert.Nil(t, registry.Get(FormatUnknown))
}
