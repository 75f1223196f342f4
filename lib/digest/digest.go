// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Size is the length of a Digest in bytes.
const Size = 32

// Digest is a 256-bit BLAKE3 hash.
type Digest [Size]byte

// String returns the lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Reader streams reader through BLAKE3 until EOF and returns the digest
// and the number of bytes read.
func Reader(reader io.Reader) (Digest, int64, error) {
	hasher := blake3.New()
	size, err := io.Copy(hasher, reader)
	if err != nil {
		return Digest{}, size, fmt.Errorf("hashing: %w", err)
	}

	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, size, nil
}

// Bytes returns the digest of data.
func Bytes(data []byte) Digest {
	return blake3.Sum256(data)
}

// Parse parses a hex-encoded digest string. Returns an error if the
// string is not a valid 64-character hex encoding of 32 bytes.
func Parse(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != Size {
		return digest, fmt.Errorf("digest is %d bytes, want %d", len(decoded), Size)
	}
	copy(digest[:], decoded)
	return digest, nil
}
