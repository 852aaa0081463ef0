// Package simhash computes 64-bit locality-sensitive fingerprints of page
// content so unchanged postings can skip re-parsing.
package simhash

import (
	"crypto/md5" //nolint:gosec // token hashing, not security
	"encoding/binary"
	"math/bits"
	"regexp"
	"strings"
)

// DefaultThreshold is the largest Hamming distance treated as unchanged.
const DefaultThreshold = 3

// Word tokens in any script; combining marks stay attached to their letters.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)

// Fingerprint returns the SimHash of content. Content without word tokens
// fingerprints to 0.
func Fingerprint(content string) uint64 {
	if content == "" {
		return 0
	}
	tokens := tokenPattern.FindAllString(strings.ToLower(content), -1)
	if len(tokens) == 0 {
		return 0
	}
	var counters [64]int
	for _, token := range tokens {
		h := tokenHash(token)
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				counters[i]++
			} else {
				counters[i]--
			}
		}
	}
	var fp uint64
	for i, c := range counters {
		if c > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// Hamming returns the number of differing bits.
func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// IsSimilar reports whether stored and current are within threshold bits.
// A missing stored fingerprint is never similar.
func IsSimilar(stored *uint64, current uint64, threshold int) bool {
	if stored == nil {
		return false
	}
	return Hamming(*stored, current) <= threshold
}

// ToInt64 reinterprets a fingerprint for signed BIGINT columns.
func ToInt64(fp uint64) int64 {
	return int64(fp) //nolint:gosec // bit-preserving conversion
}

// FromInt64 reverses ToInt64.
func FromInt64(v int64) uint64 {
	return uint64(v) //nolint:gosec // bit-preserving conversion
}

func tokenHash(token string) uint64 {
	sum := md5.Sum([]byte(token)) //nolint:gosec // uniform hash only
	return binary.BigEndian.Uint64(sum[:8])
}
