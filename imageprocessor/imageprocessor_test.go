package imageprocessor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuplicateThreshold(t *testing.T) {
	assert.Equal(t, 10, DuplicateThreshold)
}

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"identical", "0123456789abcdef", "0123456789abcdef", 0},
		{"one bit", "0000000000000000", "0000000000000001", 1},
		{"every bit", "0000000000000000", "ffffffffffffffff", 64},
		{"one nibble", "f000000000000000", "0000000000000000", 4},
		{"symmetric", "ffffffffffffffff", "0000000000000000", 64},
		{"short inputs", "abcd", "abc", 64},
		{"one side short", "0000000000000000", "000000000000000", 64},
		{"empty", "", "", 64},
		{"non hex", "zzzzzzzzzzzzzzzz", "zzzzzzzzzzzzzzzz", 64},
		{"uppercase", "ABCDEF0123456789", "abcdef0123456789", 64},
		{"too long", "00000000000000000", "00000000000000000", 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HammingDistance(tt.a, tt.b))
		})
	}
}

func TestHammingDistance_Properties(t *testing.T) {
	hashes := []string{
		ComputeImageHash(ramp(1, 4096)),
		ComputeImageHash(ramp(3, 4096)),
		ComputeImageHash(ramp(7, 4096)),
		"0000000000000000",
		"ffffffffffffffff",
	}

	for _, a := range hashes {
		assert.Equal(t, 0, HammingDistance(a, a))
		for _, b := range hashes {
			d := HammingDistance(a, b)
			assert.Equal(t, d, HammingDistance(b, a))
			assert.GreaterOrEqual(t, d, 0)
			assert.LessOrEqual(t, d, 64)
		}
	}
}

func TestHammingDistance_KnownRamps(t *testing.T) {
	a := ComputeImageHash(ramp(1, 4096))
	assert.Equal(t, 32, HammingDistance(a, ComputeImageHash(ramp(3, 4096))))
	assert.Equal(t, 24, HammingDistance(a, ComputeImageHash(ramp(7, 4096))))
}

func TestIsValidHash(t *testing.T) {
	assert.True(t, IsValidHash("0123456789abcdef"))
	assert.False(t, IsValidHash("0123456789ABCDEF"))
	assert.False(t, IsValidHash("0123456789abcde"))
	assert.False(t, IsValidHash("0123456789abcdefa"))
	assert.False(t, IsValidHash("0123456789abcdeg"))
	assert.False(t, IsValidHash(""))
}

func TestParseHash(t *testing.T) {
	value, err := ParseHash("00000000ffffffff")
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffffffff), value)
	assert.Equal(t, "00000000ffffffff", FormatHash(value))

	_, err = ParseHash("nope")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid image hash"))
}

func TestIsDuplicate(t *testing.T) {
	assert.True(t, IsDuplicate("0000000000000000", "00000000000003ff"))
	assert.False(t, IsDuplicate("0000000000000000", "00000000000007ff"))
	assert.False(t, IsDuplicate("abc", "abc"))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity(0))
	assert.Equal(t, 0.5, Similarity(32))
	assert.Equal(t, 0.0, Similarity(64))
	assert.Equal(t, 0.0, Similarity(-1))
}
