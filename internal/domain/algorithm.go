package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Algorithm names a content hash. The set is closed.
type Algorithm string

const (
	AlgorithmMD5    Algorithm = "md5"
	AlgorithmSHA1   Algorithm = "sha1"
	AlgorithmSHA256 Algorithm = "sha256"
	AlgorithmSHA512 Algorithm = "sha512"
	AlgorithmBLAKE3 Algorithm = "blake3"
	AlgorithmXXHash Algorithm = "xxhash"

	DefaultAlgorithm = AlgorithmSHA256
)

// Algorithms lists every supported algorithm
func Algorithms() []Algorithm {
	return []Algorithm{
		AlgorithmMD5,
		AlgorithmSHA1,
		AlgorithmSHA256,
		AlgorithmSHA512,
		AlgorithmBLAKE3,
		AlgorithmXXHash,
	}
}

// ParseAlgorithm converts a configured name into an Algorithm.
// Matching is case-insensitive; an empty name selects the default.
func ParseAlgorithm(name string) (Algorithm, error) {
	if name == "" {
		return DefaultAlgorithm, nil
	}
	a := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgo, name)
	}
	return a, nil
}

// Valid reports whether a is one of the supported algorithms
func (a Algorithm) Valid() bool {
	switch a {
	case AlgorithmMD5, AlgorithmSHA1, AlgorithmSHA256, AlgorithmSHA512, AlgorithmBLAKE3, AlgorithmXXHash:
		return true
	default:
		return false
	}
}

const quickMarker = "+quick"

// QuickAlgorithm names a digest of the first n bytes of a file under a.
// Prefix digests are cached beside full digests without colliding with them.
func QuickAlgorithm(a Algorithm, n int64) Algorithm {
	return Algorithm(string(a) + quickMarker + strconv.FormatInt(n, 10))
}

// IsQuick reports whether a names a prefix digest
func (a Algorithm) IsQuick() bool {
	return strings.Contains(string(a), quickMarker)
}

// Cacheable reports whether a may key a hash cache entry
func (a Algorithm) Cacheable() bool {
	base, n, ok := strings.Cut(string(a), quickMarker)
	if !ok {
		return a.Valid()
	}
	size, err := strconv.ParseInt(n, 10, 64)
	return err == nil && size > 0 && Algorithm(base).Valid()
}

// Cryptographic reports whether collisions are computationally infeasible
func (a Algorithm) Cryptographic() bool {
	return a != AlgorithmXXHash
}

func (a Algorithm) String() string {
	return string(a)
}
