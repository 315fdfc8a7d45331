package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Meterline-Labs/meterline/pkg/bank"
	"github.com/Meterline-Labs/meterline/pkg/money"
	"github.com/Meterline-Labs/meterline/pkg/proof"
	"github.com/Meterline-Labs/meterline/pkg/registry"
)

// Clock provides time to the ledger. Tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// WallClock returns the real-time clock.
func WallClock() Clock { return wallClock{} }

// CreateParams are the inputs to session creation.
type CreateParams struct {
	Requester     string
	Provider      string
	Asset         string
	Deposit       int64
	PricePerUnit  int64
	MaxDuration   time.Duration
	ProofInterval time.Duration
}

// SubmitParams are the inputs to a proof submission.
type SubmitParams struct {
	SessionID  uint64
	UnitsDelta int64
	ProofHash  string
	Signature  string
	ContentRef string
}

// Ledger owns session records and serializes mutations per session. Escrow
// is debited from the requester's deposit pool at creation and only leaves
// through settlement; proofs advance the usage counter monotonically, never
// past capacity.
type Ledger struct {
	store      Store
	bank       *bank.Bank
	registry   registry.Registry
	verifier   *proof.Verifier
	clock      Clock
	logger     *slog.Logger
	minDeposit int64

	locks sync.Map // session ID -> *sync.Mutex
}

// NewLedger creates a session ledger. minDeposit is the configured minimum
// escrow for a new session.
func NewLedger(store Store, b *bank.Bank, reg registry.Registry, verifier *proof.Verifier, minDeposit int64, clock Clock, logger *slog.Logger) *Ledger {
	if clock == nil {
		clock = WallClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:      store,
		bank:       b,
		registry:   reg,
		verifier:   verifier,
		clock:      clock,
		logger:     logger,
		minDeposit: minDeposit,
	}
}

func (l *Ledger) lockFor(id uint64) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Create opens a session, moving the deposit from the requester's pool into
// escrow. On any failure after the debit the escrow is returned, so a
// rejected creation leaves balances untouched.
func (l *Ledger) Create(ctx context.Context, p CreateParams) (*Session, error) {
	if p.PricePerUnit <= 0 {
		return nil, ErrInvalidPrice
	}
	if p.Deposit < l.minDeposit || p.Deposit <= 0 {
		return nil, fmt.Errorf("%w: %d below minimum %d", ErrInsufficientDeposit, p.Deposit, l.minDeposit)
	}
	if p.MaxDuration <= 0 {
		return nil, fmt.Errorf("session: max duration must be positive")
	}
	// The capacity clamp needs unitsUsed*price to stay within range; reject
	// deposits whose full capacity could overflow.
	if _, err := money.Mul(p.Deposit/p.PricePerUnit, p.PricePerUnit); err != nil {
		return nil, fmt.Errorf("session: deposit out of range: %w", err)
	}

	admitted, err := l.registry.IsAdmittedProvider(ctx, p.Provider)
	if err != nil {
		return nil, fmt.Errorf("session: registry lookup: %w", err)
	}
	if !admitted {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p.Provider)
	}

	if err := l.bank.DebitDeposit(ctx, p.Requester, p.Asset, p.Deposit); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientDeposit, err)
	}

	now := l.clock.Now()
	s := &Session{
		Requester:     p.Requester,
		Provider:      p.Provider,
		Asset:         p.Asset,
		Deposit:       p.Deposit,
		PricePerUnit:  p.PricePerUnit,
		MaxDuration:   p.MaxDuration,
		ProofInterval: p.ProofInterval,
		Status:        StatusActive,
		CreatedAt:     now,
		ExpiresAt:     now.Add(p.MaxDuration),
	}

	if _, err := l.store.Create(ctx, s); err != nil {
		// Escrow was debited but the record could not be stored: refund.
		if refundErr := l.bank.CreditDeposit(ctx, p.Requester, p.Asset, p.Deposit); refundErr != nil {
			l.logger.Error("session create rollback failed",
				"requester", p.Requester, "asset", p.Asset,
				"deposit", p.Deposit, "err", refundErr)
		}
		return nil, fmt.Errorf("session: create failed: %w", err)
	}

	l.logger.Info("session created", "session_id", s.ID,
		"requester", s.Requester, "provider", s.Provider,
		"asset", s.Asset, "deposit", s.Deposit, "price_per_unit", s.PricePerUnit)
	return s, nil
}

// SubmitProof verifies and applies a provider's usage claim. It has no
// partial-success path: signature, replay, state and capacity checks all
// pass and the session advances, or nothing changes.
func (l *Ledger) SubmitProof(ctx context.Context, p SubmitParams) (*proof.Record, error) {
	mu := l.lockFor(p.SessionID)
	mu.Lock()
	defer mu.Unlock()

	s, err := l.store.Get(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusActive {
		return nil, fmt.Errorf("%w: status %s", ErrSessionNotActive, s.Status)
	}
	if p.UnitsDelta <= 0 {
		return nil, ErrZeroUnits
	}

	next, err := money.Add(s.UnitsUsed, p.UnitsDelta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapacityExceeded, err)
	}
	if next > s.Capacity() {
		return nil, fmt.Errorf("%w: %d + %d exceeds capacity %d",
			ErrCapacityExceeded, s.UnitsUsed, p.UnitsDelta, s.Capacity())
	}

	providerKey, err := l.registry.ProviderKey(ctx, s.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownProvider, err)
	}
	if err := l.verifier.VerifySignature(s.Provider, providerKey, p.ProofHash, p.UnitsDelta, p.Signature); err != nil {
		return nil, err
	}

	// Reserve the hash in the global replay set, then commit record and
	// session update; compensate both on a late failure.
	if err := l.verifier.Reserve(ctx, p.ProofHash); err != nil {
		return nil, err
	}

	now := l.clock.Now()
	rec := proof.Record{
		SessionID:  s.ID,
		ProofHash:  p.ProofHash,
		UnitsDelta: p.UnitsDelta,
		Signature:  p.Signature,
		ContentRef: p.ContentRef,
		Timestamp:  now,
	}
	if err := l.verifier.Commit(ctx, rec); err != nil {
		l.compensate(ctx, s.ID, p.ProofHash, false)
		return nil, fmt.Errorf("session: record proof: %w", err)
	}

	s.UnitsUsed = next
	s.LastProofAt = &now
	if err := l.store.Update(ctx, s); err != nil {
		l.compensate(ctx, s.ID, p.ProofHash, true)
		return nil, fmt.Errorf("session: apply proof: %w", err)
	}

	l.logger.Info("proof accepted", "session_id", s.ID,
		"units_delta", p.UnitsDelta, "units_used", s.UnitsUsed,
		"proof_hash", p.ProofHash)
	return &rec, nil
}

func (l *Ledger) compensate(ctx context.Context, sessionID uint64, proofHash string, dropRecord bool) {
	if dropRecord {
		if err := l.verifier.Discard(ctx, sessionID, proofHash); err != nil {
			l.logger.Error("proof record compensation failed",
				"session_id", sessionID, "proof_hash", proofHash, "err", err)
		}
	}
	if err := l.verifier.Release(ctx, proofHash); err != nil {
		l.logger.Error("replay set compensation failed",
			"session_id", sessionID, "proof_hash", proofHash, "err", err)
	}
}

// Get returns a session by ID.
func (l *Ledger) Get(ctx context.Context, id uint64) (*Session, error) {
	return l.store.Get(ctx, id)
}

// Proofs returns the accepted proof records of a session.
func (l *Ledger) Proofs(ctx context.Context, id uint64) ([]proof.Record, error) {
	return l.verifier.Records(ctx, id)
}

// Expired returns sessions whose no-cooperation exit path is open.
func (l *Ledger) Expired(ctx context.Context, limit int) ([]uint64, error) {
	return l.store.Expired(ctx, l.clock.Now(), limit)
}

// ExpiredBefore returns sessions whose exit path was already open at cutoff.
// The sweeper passes now minus its grace period, so it only touches sessions
// that have been stalled for at least that long.
func (l *Ledger) ExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]uint64, error) {
	return l.store.Expired(ctx, cutoff, limit)
}

// Mutate loads the session, runs fn under the session's lock and persists
// the result if fn succeeds. The settlement engine uses it for terminal
// transitions; operations on different sessions never contend.
func (l *Ledger) Mutate(ctx context.Context, id uint64, fn func(*Session) error) (*Session, error) {
	mu := l.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	s, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	if err := l.store.Update(ctx, s); err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		// A terminal session rejects every mutating call, so its lock entry
		// would otherwise sit in the map for the life of the process.
		l.locks.Delete(id)
	}
	return s, nil
}
