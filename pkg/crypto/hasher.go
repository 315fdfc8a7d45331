// Package crypto provides the signing and verification primitives of the
// settlement core: canonical JSON hashing (RFC 8785) and Ed25519 signatures.
// The core treats signatures as a pluggable capability; nothing outside this
// package depends on the algorithm.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalMarshal marshals v into RFC 8785 (JCS) canonical JSON.
// Two structurally equal values always produce identical bytes, which makes
// the output safe to hash and sign.
func CanonicalMarshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: canonicalization failed: %w", err)
	}
	return canonical, nil
}

// HashCanonical returns the hex SHA-256 digest of the canonical JSON form of v.
func HashCanonical(v interface{}) (string, error) {
	canonical, err := CanonicalMarshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// DigestCanonical is HashCanonical returning raw bytes, for use as a
// signature base.
func DigestCanonical(v interface{}) ([]byte, error) {
	canonical, err := CanonicalMarshal(v)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(canonical)
	return sum[:], nil
}
