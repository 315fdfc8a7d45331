package session

import (
	"context"
	"time"
)

// Store persists session records. IDs are assigned by the store,
// monotonically increasing. Stores only persist; all invariant checks live
// in the Ledger, which serializes mutations per session.
type Store interface {
	// Create assigns the next session ID, stamps it into s and persists it.
	Create(ctx context.Context, s *Session) (uint64, error)

	// Get returns the session or ErrSessionNotFound.
	Get(ctx context.Context, id uint64) (*Session, error)

	// Update overwrites an existing session record.
	Update(ctx context.Context, s *Session) error

	// Expired returns up to limit IDs of sessions whose no-cooperation exit
	// path is open at now: Active past ExpiresAt, or Disputed past
	// DisputeDeadline. Used by the expiry sweeper.
	Expired(ctx context.Context, now time.Time, limit int) ([]uint64, error)
}
