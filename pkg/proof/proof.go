// Package proof validates providers' signed usage claims and enforces
// anti-replay. A proof is an attestation that a number of service units was
// delivered, signed by the session's provider over a deterministic canonical
// payload. Accepted proof hashes enter a global replay set for the lifetime
// of the system; a hash accepted once is never accepted again, for any
// session.
package proof

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Meterline-Labs/meterline/pkg/crypto"
)

var (
	// ErrInvalidSignature is returned when a proof's signature does not
	// verify against the session provider's registered key.
	ErrInvalidSignature = errors.New("proof: invalid signature")
	// ErrReplayedProof is returned when a proof hash was already accepted,
	// for this or any other session.
	ErrReplayedProof = errors.New("proof: replayed proof")
)

// Payload is the structure providers sign. Its JCS canonical form is hashed
// with SHA-256 and the digest is what the Ed25519 signature covers.
type Payload struct {
	ProofHash  string `json:"proof_hash"`
	Signer     string `json:"signer"`
	UnitsDelta int64  `json:"units_delta"`
}

// PayloadDigest returns the signature base for a proof. Exported so
// providers and test harnesses produce exactly what the verifier checks.
func PayloadDigest(proofHash, signer string, unitsDelta int64) ([]byte, error) {
	return crypto.DigestCanonical(Payload{
		ProofHash:  proofHash,
		Signer:     signer,
		UnitsDelta: unitsDelta,
	})
}

// Record is an accepted proof, kept for audit.
type Record struct {
	SessionID  uint64    `json:"session_id"`
	ProofHash  string    `json:"proof_hash"`
	UnitsDelta int64     `json:"units_delta"`
	Signature  string    `json:"signature"`
	ContentRef string    `json:"content_ref"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReplayGuard is the global insert-if-absent proof-hash set. Implementations
// must be safe for concurrent use across all sessions without serializing
// unrelated submissions.
type ReplayGuard interface {
	// Reserve inserts proofHash if absent. Returns false when the hash was
	// already present.
	Reserve(ctx context.Context, proofHash string) (bool, error)

	// Release removes a hash reserved in the same operation, compensating a
	// failure later in the submission. It must never be used on hashes
	// whose submission committed.
	Release(ctx context.Context, proofHash string) error
}

// RecordStore persists accepted proof records.
type RecordStore interface {
	Append(ctx context.Context, rec Record) error
	// Remove deletes a record appended in the same operation, compensating
	// a failure later in the submission.
	Remove(ctx context.Context, sessionID uint64, proofHash string) error
	BySession(ctx context.Context, sessionID uint64) ([]Record, error)
}

// Verifier checks signatures and owns the replay set and record store. The
// session ledger orchestrates it so that a submission either fully applies
// or makes no change.
type Verifier struct {
	replay  ReplayGuard
	records RecordStore
}

// NewVerifier creates a Verifier.
func NewVerifier(replay ReplayGuard, records RecordStore) *Verifier {
	return &Verifier{replay: replay, records: records}
}

// VerifySignature checks sigHex over the canonical payload against the
// provider's registered key. signer is the provider identity recorded in
// the session; providerKeyHex is the key the registry maps it to.
func (v *Verifier) VerifySignature(signer, providerKeyHex, proofHash string, unitsDelta int64, sigHex string) error {
	digest, err := PayloadDigest(proofHash, signer, unitsDelta)
	if err != nil {
		return fmt.Errorf("proof: payload digest: %w", err)
	}
	ok, err := crypto.Verify(providerKeyHex, sigHex, digest)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// Reserve claims the proof hash in the global replay set.
func (v *Verifier) Reserve(ctx context.Context, proofHash string) error {
	inserted, err := v.replay.Reserve(ctx, proofHash)
	if err != nil {
		return fmt.Errorf("proof: replay set: %w", err)
	}
	if !inserted {
		return ErrReplayedProof
	}
	return nil
}

// Release compensates a reservation after a later failure.
func (v *Verifier) Release(ctx context.Context, proofHash string) error {
	return v.replay.Release(ctx, proofHash)
}

// Commit stores the accepted proof record.
func (v *Verifier) Commit(ctx context.Context, rec Record) error {
	return v.records.Append(ctx, rec)
}

// Discard compensates a committed record after a later failure.
func (v *Verifier) Discard(ctx context.Context, sessionID uint64, proofHash string) error {
	return v.records.Remove(ctx, sessionID, proofHash)
}

// Records returns the accepted proofs of a session.
func (v *Verifier) Records(ctx context.Context, sessionID uint64) ([]Record, error) {
	return v.records.BySession(ctx, sessionID)
}
