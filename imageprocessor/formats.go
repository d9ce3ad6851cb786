package imageprocessor

import (
	"bytes"
	"path/filepath"
	"strings"
)

// FormatType represents a known image format type
type FormatType string

// Known image format constants
const (
	FormatUnknown FormatType = "unknown"
	FormatJPEG    FormatType = "jpeg"
	FormatPNG     FormatType = "png"
	FormatGIF     FormatType = "gif"
	FormatBMP     FormatType = "bmp"
	FormatTIFF    FormatType = "tiff"
	FormatWEBP    FormatType = "webp"
	FormatHEIC    FormatType = "heic"
)

// Map of extensions to format types
var formatExtensions = map[string]FormatType{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".gif":  FormatGIF,
	".bmp":  FormatBMP,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".webp": FormatWEBP,
	".heic": FormatHEIC,
	".heif": FormatHEIC,
}

var formatContentTypes = map[FormatType]string{
	FormatJPEG: "image/jpeg",
	FormatPNG:  "image/png",
	FormatGIF:  "image/gif",
	FormatBMP:  "image/bmp",
	FormatTIFF: "image/tiff",
	FormatWEBP: "image/webp",
	FormatHEIC: "image/heic",
}

// IsImageFile checks if a file is a supported image based on extension
func IsImageFile(path string) bool {
	return GetFileFormat(path) != FormatUnknown
}

// GetFileFormat returns the format type based on file extension
func GetFileFormat(path string) FormatType {
	ext := strings.ToLower(filepath.Ext(path))
	format, exists := formatExtensions[ext]
	if !exists {
		return FormatUnknown
	}
	return format
}

// DetectFormat sniffs the format from the leading magic bytes
func DetectFormat(data []byte) FormatType {
	switch {
	case len(data) >= 3 && data[0] == 0xff && data[1] == 0xd8 && data[2] == 0xff:
		return FormatJPEG
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatGIF
	case bytes.HasPrefix(data, []byte("BM")) && len(data) >= 26:
		return FormatBMP
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return FormatTIFF
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWEBP
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) && isHEICBrand(data[8:12]):
		return FormatHEIC
	}
	return FormatUnknown
}

func isHEICBrand(brand []byte) bool {
	switch string(brand) {
	case "heic", "heix", "hevc", "hevx", "mif1", "msf1":
		return true
	}
	return false
}

// ContentTypeFor returns the MIME type for a format, or "" for unknown formats
func ContentTypeFor(format FormatType) string {
	return formatContentTypes[format]
}

// FormatFromContentType maps a MIME type back to a format
func FormatFromContentType(contentType string) FormatType {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" || ct == "image/pjpeg" {
		return FormatJPEG
	}
	if ct == "image/heif" {
		return FormatHEIC
	}
	for format, known := range formatContentTypes {
		if known == ct {
			return format
		}
	}
	return FormatUnknown
}

// FormatToExtension returns a canonical file extension for a format
func FormatToExtension(format FormatType) string {
	switch format {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatGIF:
		return ".gif"
	case FormatBMP:
		return ".bmp"
	case FormatTIFF:
		return ".tiff"
	case FormatWEBP:
		return ".webp"
	case FormatHEIC:
		return ".heic"
	default:
		return ""
	}
}
