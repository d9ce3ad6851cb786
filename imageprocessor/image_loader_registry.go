package imageprocessor

import (
	"sync"
)

// DecoderRegistry maintains a registry of image decoders keyed by format
type DecoderRegistry struct {
	decoders map[FormatType]Decoder
	mutex    sync.RWMutex
}

// NewDecoderRegistry creates a registry with the standard decoders installed
func NewDecoderRegistry() *DecoderRegistry {
	registry := &DecoderRegistry{
		decoders: make(map[FormatType]Decoder),
	}

	registry.registerStandardDecoders()
	registry.registerSpecializedDecoders()

	return registry
}

// registerStandardDecoders registers pure Go decoders for common upload formats
func (r *DecoderRegistry) registerStandardDecoders() {
	standard := NewStandardDecoder(DefaultMaxDecodePixels)

	r.Register(FormatJPEG, standard)
	r.Register(FormatPNG, standard)
	r.Register(FormatGIF, standard)
	r.Register(FormatBMP, standard)
	r.Register(FormatTIFF, standard)
	r.Register(FormatWEBP, standard)
}

// registerSpecializedDecoders lets build-tagged decoders override the standard ones.
// HEIC has no pure Go decoder and is hashed as raw bytes unless one is registered.
func (r *DecoderRegistry) registerSpecializedDecoders() {
	for format, decoder := range specializedDecoders {
		r.Register(format, decoder)
	}
}

// specializedDecoders is filled from init functions in optional files
var specializedDecoders = map[FormatType]Decoder{}

// Register installs a decoder for a format, replacing any previous one
func (r *DecoderRegistry) Register(format FormatType, decoder Decoder) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.decoders[format] = decoder
}

// Get returns the decoder for a format, or nil
func (r *DecoderRegistry) Get(format FormatType) Decoder {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.decoders[format]
}

// CanDecode reports whether a decoder is registered for the format
func (r *DecoderRegistry) CanDecode(format FormatType) bool {
	return r.Get(format) != nil
}
