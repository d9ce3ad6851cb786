// Package imageprocessor computes perceptual fingerprints of uploaded photos and
// compares them for near-duplicate detection.
//
// A fingerprint is a 64-bit hash rendered as 16 lowercase hex characters. Bytes
// that decode as a supported image are hashed from their pixels; anything else is
// hashed as a raw luminance grid, so every input produces a well-formed hash.
package imageprocessor

import "image"

// Decoder is the interface that all image decoders must implement
type Decoder interface {
	// Decode turns encoded image bytes into pixels
	Decode(data []byte) (image.Image, error)
}

// DecoderFunc adapts a plain function to the Decoder interface
type DecoderFunc func(data []byte) (image.Image, error)

// Decode calls f(data)
func (f DecoderFunc) Decode(data []byte) (image.Image, error) {
	return f(data)
}
