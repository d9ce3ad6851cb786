package upload

import (
	"bytes"
	"encoding/binary"
)

// Sanitizer removes identifying metadata from an upload before it is stored.
// The returned metadata is attached to the stored object.
type Sanitizer func(data []byte, filename string) ([]byte, map[string]string, error)

const (
	markerSOS   = 0xda
	markerAPP1  = 0xe1 // EXIF, XMP
	markerAPP13 = 0xed // IPTC, Photoshop
)

// StripMetadata drops EXIF, XMP and IPTC segments from JPEG files. Other
// formats, and JPEG streams whose header segments cannot be walked, are
// returned unchanged with privacy-processed=false.
func StripMetadata(data []byte, filename string) ([]byte, map[string]string, error) {
	metadata := map[string]string{
		"privacy-processed": "false",
		"original-filename": filename,
	}

	stripped, ok := stripJPEGSegments(data)
	if !ok {
		return data, metadata, nil
	}

	metadata["privacy-processed"] = "true"
	return stripped, metadata, nil
}

func stripJPEGSegments(data []byte) ([]byte, bool) {
	if len(data) < 4 || data[0] != 0xff || data[1] != 0xd8 {
		return nil, false
	}

	var out bytes.Buffer
	out.Grow(len(data))
	out.Write(data[:2])

	i := 2
	for i < len(data) {
		if data[i] != 0xff {
			return nil, false
		}
		// Fill bytes may pad a marker
		for i+1 < len(data) && data[i+1] == 0xff {
			i++
		}
		if i+1 >= len(data) {
			return nil, false
		}

		marker := data[i+1]
		if marker == 0x01 || (marker >= 0xd0 && marker <= 0xd9) {
			out.Write(data[i : i+2])
			i += 2
			continue
		}
		if marker == markerSOS {
			// Entropy coded data runs to the end; no metadata follows
			out.Write(data[i:])
			return out.Bytes(), true
		}

		if i+4 > len(data) {
			return nil, false
		}
		length := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		end := i + 2 + length
		if length < 2 || end > len(data) {
			return nil, false
		}

		if marker != markerAPP1 && marker != markerAPP13 {
			out.Write(data[i:end])
		}
		i = end
	}

	return out.Bytes(), true
}
