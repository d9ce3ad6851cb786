package imageprocessor

import (
	"fmt"
	"math"
	"time"

	"github.com/corona10/goimagehash"
)

const (
	// HashBits is the size of a fingerprint in bits
	HashBits = 64
	// HashLength is the length of a rendered fingerprint
	HashLength = 16

	gridSize = 8
)

// HashMethod records which path produced a fingerprint
type HashMethod string

const (
	// MethodPerceptual hashes decoded pixels with a DCT perceptual hash
	MethodPerceptual HashMethod = "perceptual"
	// MethodRaw hashes the bytes themselves as a luminance grid
	MethodRaw HashMethod = "raw"
)

// Result is the outcome of hashing one buffer
type Result struct {
	Hash     string
	Method   HashMethod
	Format   FormatType
	Duration time.Duration
}

// HasherOption configures a Hasher
type HasherOption func(*Hasher)

// WithRegistry replaces the decoder registry
func WithRegistry(registry *DecoderRegistry) HasherOption {
	return func(h *Hasher) {
		h.registry = registry
	}
}

// WithObserver registers a callback invoked after every hash
func WithObserver(observe func(Result)) HasherOption {
	return func(h *Hasher) {
		h.observe = observe
	}
}

// WithPanicHandler is told about decoder panics before falling back to the raw path
func WithPanicHandler(handle func(format FormatType, recovered interface{})) HasherOption {
	return func(h *Hasher) {
		h.onPanic = handle
	}
}

// WithoutDecoding forces every input through the raw byte path
func WithoutDecoding() HasherOption {
	return func(h *Hasher) {
		h.registry = nil
	}
}

// Hasher computes fingerprints. It holds no per-call state and is safe for
// concurrent use.
type Hasher struct {
	registry *DecoderRegistry
	observe  func(Result)
	onPanic  func(format FormatType, recovered interface{})
}

// NewHasher creates a hasher backed by the standard decoders
func NewHasher(opts ...HasherOption) *Hasher {
	h := &Hasher{
		registry: NewDecoderRegistry(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var defaultHasher = NewHasher()

// ComputeImageHash returns the 16 character hex fingerprint of data
func ComputeImageHash(data []byte) string {
	return defaultHasher.Compute(data).Hash
}

// Compute fingerprints data. It never fails: bytes that cannot be decoded as an
// image are hashed as raw samples.
func (h *Hasher) Compute(data []byte) Result {
	start := time.Now()
	result := Result{Format: DetectFormat(data)}

	if hash, ok := h.perceptualHash(result.Format, data); ok {
		result.Hash = FormatHash(hash)
		result.Method = MethodPerceptual
	} else {
		result.Hash = FormatHash(ComputeRawHash(data))
		result.Method = MethodRaw
	}

	result.Duration = time.Since(start)
	if h.observe != nil {
		h.observe(result)
	}
	return result
}

// perceptualHash decodes and hashes data, reporting false when the raw path
// should be used instead
func (h *Hasher) perceptualHash(format FormatType, data []byte) (hash uint64, ok bool) {
	if h.registry == nil || format == FormatUnknown {
		return 0, false
	}

	decoder := h.registry.Get(format)
	if decoder == nil {
		return 0, false
	}

	// Decoders run on untrusted uploads
	defer func() {
		if r := recover(); r != nil {
			if h.onPanic != nil {
				h.onPanic(format, r)
			}
			hash, ok = 0, false
		}
	}()

	img, err := decoder.Decode(data)
	if err != nil || img == nil {
		return 0, false
	}

	phash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, false
	}

	return phash.GetHash(), true
}

// ComputeRawHash treats data as a row-major grayscale image of width isqrt(n),
// reduces it to an 8x8 grid of cell means and sets one bit per cell that is
// brighter than the grid mean. Bits are packed most significant first.
func ComputeRawHash(data []byte) uint64 {
	n := len(data)
	if n == 0 {
		return 0
	}

	width := isqrt(n)
	height := (n + width - 1) / width

	var cells [gridSize * gridSize]float64
	var total float64

	for row := 0; row < gridSize; row++ {
		y0 := row * height / gridSize
		y1 := (row + 1) * height / gridSize

		for col := 0; col < gridSize; col++ {
			x0 := col * width / gridSize
			x1 := (col + 1) * width / gridSize

			var sum uint64
			var count int
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					idx := y*width + x
					if idx >= n {
						break
					}
					sum += uint64(data[idx])
					count++
				}
			}

			var value float64
			if count > 0 {
				value = float64(sum) / float64(count)
			} else {
				// Fewer than 8 rows or columns: sample the corner byte
				idx := y0*width + x0
				if idx > n-1 {
					idx = n - 1
				}
				value = float64(data[idx])
			}

			cells[row*gridSize+col] = value
			total += value
		}
	}

	threshold := total / float64(len(cells))

	var hash uint64
	for _, value := range cells {
		hash <<= 1
		if value > threshold {
			hash |= 1
		}
	}

	return hash
}

// isqrt returns floor(sqrt(n)) for n >= 1
func isqrt(n int) int {
	r := int(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	if r < 1 {
		r = 1
	}
	return r
}

// FormatHash renders a fingerprint as 16 lowercase hex characters
func FormatHash(hash uint64) string {
	return fmt.Sprintf("%016x", hash)
}
