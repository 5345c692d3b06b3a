package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"lukechampine.com/blake3"

	"github.com/vertextoedge/dupecache/internal/domain"
)

// NewHash returns a fresh hash.Hash for the algorithm
func NewHash(algo domain.Algorithm) (hash.Hash, error) {
	switch algo {
	case domain.AlgorithmMD5:
		return md5.New(), nil
	case domain.AlgorithmSHA1:
		return sha1.New(), nil
	case domain.AlgorithmSHA256:
		return sha256.New(), nil
	case domain.AlgorithmSHA512:
		return sha512.New(), nil
	case domain.AlgorithmBLAKE3:
		return blake3.New(32, nil), nil
	case domain.AlgorithmXXHash:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownAlgo, algo)
	}
}

// DigestReader hashes r in chunkSize reads and returns the hex digest
func DigestReader(r io.Reader, algo domain.Algorithm, chunkSize int) (string, int64, error) {
	h, err := NewHash(algo)
	if err != nil {
		return "", 0, err
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", total, err
		}
	}

	return hex.EncodeToString(h.Sum(nil)), total, nil
}

// HashFile returns the hex digest of the file at path, bypassing any cache
func HashFile(path string, algo domain.Algorithm, chunkSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", domain.NewFileError(path, "open", err)
	}
	defer f.Close()

	digest, _, err := DigestReader(f, algo, chunkSize)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownAlgo) {
			return "", err
		}
		return "", domain.NewFileError(path, "read", err)
	}
	return digest, nil
}
