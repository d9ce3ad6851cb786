package imageprocessor

import (
	"fmt"
	"math/bits"
	"strconv"
)

// DuplicateThreshold is the largest Hamming distance at which two photos are
// treated as the same shot
const DuplicateThreshold = 10

// IsValidHash reports whether s is exactly 16 lowercase hex characters
func IsValidHash(s string) bool {
	if len(s) != HashLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ParseHash decodes a rendered fingerprint
func ParseHash(s string) (uint64, error) {
	if !IsValidHash(s) {
		return 0, fmt.Errorf("invalid image hash %q: want %d lowercase hex characters", s, HashLength)
	}
	return strconv.ParseUint(s, 16, 64)
}

// HammingDistance counts the differing bits between two fingerprints. If either
// side is not a well-formed hash the pair is reported as maximally distant, so
// malformed input is never mistaken for a duplicate.
func HammingDistance(hash1, hash2 string) int {
	a, err := ParseHash(hash1)
	if err != nil {
		return HashBits
	}
	b, err := ParseHash(hash2)
	if err != nil {
		return HashBits
	}
	return bits.OnesCount64(a ^ b)
}

// IsDuplicate applies DuplicateThreshold to a pair of fingerprints
func IsDuplicate(hash1, hash2 string) bool {
	return HammingDistance(hash1, hash2) <= DuplicateThreshold
}

// Similarity expresses a distance as the fraction of matching bits
func Similarity(distance int) float64 {
	if distance < 0 || distance > HashBits {
		return 0
	}
	return 1 - float64(distance)/float64(HashBits)
}
