// Package checksum computes content digests over streamed data with a
// pluggable algorithm. Digests are computed in fixed-size chunks so memory
// use stays bounded regardless of content size, and the resulting digest is
// identical for any chunk size.
package checksum

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Algorithm selects a digest algorithm by tag.
type Algorithm string

const (
	// MD5 is the fast legacy 128-bit digest. Kept for interoperability with
	// stores that key content by MD5; not collision resistant.
	MD5 Algorithm = "md5"

	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"

	// BLAKE3 is the modern high-throughput digest.
	BLAKE3 Algorithm = "blake3"
)

// Default is the algorithm used when callers do not specify one.
const Default = SHA256

// DefaultChunkSize bounds per-read memory during streamed digest computation.
const DefaultChunkSize = 64 * 1024

// UnsupportedError is returned for an unknown algorithm tag. It carries the
// rejected tag so callers can report it without re-deriving context.
type UnsupportedError struct {
	Algorithm Algorithm
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("checksum: unsupported algorithm %q", e.Algorithm)
}

// Algorithms returns the supported algorithm tags.
func Algorithms() []Algorithm {
	return []Algorithm{MD5, SHA256, SHA512, BLAKE3}
}

// New returns a fresh hasher for the algorithm, or an UnsupportedError for
// an unknown tag.
func New(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case MD5:
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, &UnsupportedError{Algorithm: algo}
	}
}

// Sum streams r through the algorithm in chunkSize chunks and returns the
// hex digest. chunkSize <= 0 selects DefaultChunkSize.
func Sum(r io.Reader, algo Algorithm, chunkSize int) (string, error) {
	h, err := New(algo)
	if err != nil {
		return "", err
	}

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	buf := make([]byte, chunkSize)

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			// hash.Hash.Write never returns an error.
			h.Write(buf[:n])
		}

		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			return "", fmt.Errorf("checksum: reading content: %w", readErr)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumBytes returns the hex digest of an in-memory payload.
func SumBytes(data []byte, algo Algorithm) (string, error) {
	h, err := New(algo)
	if err != nil {
		return "", err
	}

	h.Write(data)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumFile streams the file at path through the algorithm.
func SumFile(path string, algo Algorithm, chunkSize int) (string, error) {
	// Validate the tag before touching the filesystem so an unknown
	// algorithm is reported the same way for missing and existing files.
	if _, err := New(algo); err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("checksum: opening %s: %w", path, err)
	}
	defer f.Close()

	return Sum(f, algo, chunkSize)
}
