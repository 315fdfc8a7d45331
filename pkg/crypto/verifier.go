package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// Verify checks sigHex over data against a hex-encoded Ed25519 public key.
// It returns an error only for malformed inputs; a well-formed but wrong
// signature returns (false, nil).
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid public key hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("crypto: invalid public key size: %d", len(pubKey))
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid signature hex: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("crypto: invalid signature size: %d", len(sig))
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}
