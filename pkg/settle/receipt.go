package settle

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Meterline-Labs/meterline/pkg/crypto"
)

// Receipt is the audit artifact of a settlement. It carries all three
// amounts and an Ed25519 signature by the service's signing key over the
// canonical form, so third parties can verify settlements offline.
type Receipt struct {
	ID         string    `json:"id"`
	SessionID  uint64    `json:"session_id"`
	Trigger    Trigger   `json:"trigger"`
	Winner     Winner    `json:"winner,omitempty"`
	Requester  string    `json:"requester"`
	Provider   string    `json:"provider"`
	Asset      string    `json:"asset"`
	Deposit    int64     `json:"deposit"`
	UnitsUsed  int64     `json:"units_used"`
	Split      Split     `json:"split"`
	SettledAt  time.Time `json:"settled_at"`
	SignerKey  string    `json:"signer_key"`
	Signature  string    `json:"signature,omitempty"`
}

// signingBase is the receipt without its signature fields.
func (r Receipt) signingBase() any {
	base := r
	base.Signature = ""
	return base
}

// sign stamps SignerKey and Signature using the service signer.
func (r *Receipt) sign(signer crypto.Signer) error {
	r.SignerKey = signer.PublicKey()
	digest, err := crypto.DigestCanonical(r.signingBase())
	if err != nil {
		return fmt.Errorf("settle: receipt digest: %w", err)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		return fmt.Errorf("settle: receipt signature: %w", err)
	}
	r.Signature = sig
	return nil
}

// VerifyReceipt checks a receipt's signature against its embedded key.
func VerifyReceipt(r Receipt) (bool, error) {
	digest, err := crypto.DigestCanonical(r.signingBase())
	if err != nil {
		return false, fmt.Errorf("settle: receipt digest: %w", err)
	}
	return crypto.Verify(r.SignerKey, r.Signature, digest)
}

func newReceiptID() string {
	id := uuid.New()
	return "rcpt_" + hex.EncodeToString(id[:])
}

// Archive persists settlement receipts append-only.
type Archive interface {
	Store(ctx context.Context, r Receipt) error
	BySession(ctx context.Context, sessionID uint64) ([]Receipt, error)
}

// MemoryArchive is an in-memory Archive.
type MemoryArchive struct {
	mu       sync.RWMutex
	receipts []Receipt
}

// NewMemoryArchive creates an empty archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{}
}

func (a *MemoryArchive) Store(_ context.Context, r Receipt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.receipts = append(a.receipts, r)
	return nil
}

func (a *MemoryArchive) BySession(_ context.Context, sessionID uint64) ([]Receipt, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []Receipt
	for _, r := range a.receipts {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}
