// Package hashutil provides the SHA-256 hashing used to generate and verify
// transfer integrity digests.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// ZeroHash is the expected-hash value meaning "no hash declared" is not used;
// an empty string marks that case. ZeroHash is the SHA-256 of zero bytes,
// the correct hash for a genuinely empty file.
var ZeroHash = HashBytes(nil)

// HashBytes returns the hex-encoded SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile streams a file's contents through SHA-256 in fixed-size reads so
// hashing a large source never loads it entirely into memory.
func HashFile(path string, readSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if readSize <= 0 {
		readSize = 1 << 20 // 1 MiB
	}
	buf := make([]byte, readSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RunningHash wraps hash.Hash for the receiver's append-as-you-go digest:
// each chunk is written through Write as it arrives, and Sum is taken once
// at /complete.
type RunningHash struct {
	h hash.Hash
}

// NewRunningHash starts a fresh SHA-256 accumulator.
func NewRunningHash() *RunningHash {
	return &RunningHash{h: sha256.New()}
}

// Write feeds another chunk's bytes into the running digest.
func (r *RunningHash) Write(p []byte) (int, error) {
	return r.h.Write(p)
}

// Sum returns the hex-encoded digest of everything written so far.
func (r *RunningHash) Sum() string {
	return hex.EncodeToString(r.h.Sum(nil))
}
