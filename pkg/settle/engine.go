package settle

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Meterline-Labs/meterline/pkg/audit"
	"github.com/Meterline-Labs/meterline/pkg/bank"
	"github.com/Meterline-Labs/meterline/pkg/crypto"
	"github.com/Meterline-Labs/meterline/pkg/session"
)

// Config carries the engine's settlement policy.
type Config struct {
	// FeeRateBps is the platform fee in basis points of consumed value.
	FeeRateBps int64
	// DisputeWindow is how long an arbiter has to resolve a raised dispute
	// before the abandonment path opens.
	DisputeWindow time.Duration
	// Arbiter is the identity allowed to resolve disputes.
	Arbiter string
}

// Engine applies the single terminal transition of each session: it moves
// the session to its terminal status under the session lock, splits the
// escrow, credits the balance ledgers and emits a signed receipt. Completion
// and abandonment are permissionless; their correctness rests on state
// predicates, not on who calls.
type Engine struct {
	ledger  *session.Ledger
	bank    *bank.Bank
	signer  crypto.Signer
	archive Archive
	auditor *audit.Log
	cfg     Config
	clock   session.Clock
	logger  *slog.Logger
}

// NewEngine creates a settlement engine.
func NewEngine(ledger *session.Ledger, b *bank.Bank, signer crypto.Signer, archive Archive, auditor *audit.Log, cfg Config, clock session.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = session.WallClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if archive == nil {
		archive = NewMemoryArchive()
	}
	return &Engine{
		ledger:  ledger,
		bank:    b,
		signer:  signer,
		archive: archive,
		auditor: auditor,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
	}
}

// Complete settles an Active session through the normal path. The parties
// themselves may complete at any time; anyone else only once the session's
// timeout has elapsed, so a bystander cannot cut a live session short but
// can always unblock a stalled one.
func (e *Engine) Complete(ctx context.Context, caller string, sessionID uint64, finalContentRef string) (*Receipt, error) {
	return e.settle(ctx, sessionID, TriggerCompletion, "", func(s *session.Session) error {
		if s.Status != session.StatusActive {
			if s.Status.Terminal() {
				return ErrAlreadySettled
			}
			return fmt.Errorf("%w: status %s", session.ErrSessionNotActive, s.Status)
		}
		if caller != s.Requester && caller != s.Provider && !s.Abandonable(e.clock.Now()) {
			return fmt.Errorf("%w: %s may not complete session %d", ErrUnauthorizedCaller, caller, s.ID)
		}
		if finalContentRef != "" {
			s.FinalContentRef = finalContentRef
		}
		s.Status = session.StatusCompleted
		return nil
	})
}

// Abandon settles a session through the no-cooperation timeout path. It is
// fully permissionless; the elapsed deadline is the only requirement. The
// provider is paid for exactly the usage it proved before the session
// stalled.
func (e *Engine) Abandon(ctx context.Context, sessionID uint64) (*Receipt, error) {
	return e.settle(ctx, sessionID, TriggerAbandonment, "", func(s *session.Session) error {
		if s.Status.Terminal() {
			return ErrAlreadySettled
		}
		if !s.Abandonable(e.clock.Now()) {
			return fmt.Errorf("%w: session %d", ErrNotYetAbandonable, s.ID)
		}
		s.Status = session.StatusAbandoned
		return nil
	})
}

// RaiseDispute moves an Active session to Disputed and stamps the deadline
// by which the arbiter must resolve it. Only the session's parties may
// raise.
func (e *Engine) RaiseDispute(ctx context.Context, caller string, sessionID uint64) (*session.Session, error) {
	s, err := e.ledger.Mutate(ctx, sessionID, func(s *session.Session) error {
		if s.Status.Terminal() {
			return ErrAlreadySettled
		}
		if s.Status != session.StatusActive {
			return fmt.Errorf("%w: status %s", session.ErrSessionNotActive, s.Status)
		}
		if caller != s.Requester && caller != s.Provider {
			return fmt.Errorf("%w: %s may not dispute session %d", ErrUnauthorizedCaller, caller, s.ID)
		}
		deadline := e.clock.Now().Add(e.cfg.DisputeWindow)
		s.Status = session.StatusDisputed
		s.DisputeDeadline = &deadline
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.auditEvent(audit.EventDisputeRaised, s.ID, caller, map[string]string{
		"deadline": s.DisputeDeadline.Format(time.RFC3339),
	})
	e.logger.Info("dispute raised", "session_id", s.ID, "caller", caller,
		"deadline", s.DisputeDeadline)
	return s, nil
}

// ResolveDispute settles a Disputed session with a binary outcome. Only the
// configured arbiter may resolve. A requester win forfeits the provider's
// claims and refunds the full deposit.
func (e *Engine) ResolveDispute(ctx context.Context, caller string, sessionID uint64, winner Winner) (*Receipt, error) {
	if winner != WinnerProvider && winner != WinnerRequester {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWinner, winner)
	}
	if caller != e.cfg.Arbiter {
		return nil, fmt.Errorf("%w: %s is not the arbiter", ErrUnauthorizedCaller, caller)
	}
	return e.settle(ctx, sessionID, TriggerDisputeResolution, winner, func(s *session.Session) error {
		if s.Status.Terminal() {
			return ErrAlreadySettled
		}
		if s.Status != session.StatusDisputed {
			return fmt.Errorf("%w: session %d", ErrNoOpenDispute, s.ID)
		}
		s.Status = session.StatusResolved
		return nil
	})
}

// settle runs the terminal transition under the session lock. transition
// validates state and sets the terminal status. The escrow split and ledger
// credits happen before the status is persisted; a credit failure aborts the
// settlement with no state change, and a failed status persist debits the
// credits back, so a settlement either fully applies or makes no change.
func (e *Engine) settle(ctx context.Context, sessionID uint64, trigger Trigger, winner Winner, transition func(*session.Session) error) (*Receipt, error) {
	var receipt *Receipt
	var applied *bank.SettlementCredit

	s, err := e.ledger.Mutate(ctx, sessionID, func(s *session.Session) error {
		if err := transition(s); err != nil {
			return err
		}

		forfeit := trigger == TriggerDisputeResolution && winner == WinnerRequester
		split, err := computeSplit(s.Deposit, s.PricePerUnit, s.UnitsUsed, e.cfg.FeeRateBps, forfeit)
		if err != nil {
			return err
		}

		credit := bank.SettlementCredit{
			SessionID:     s.ID,
			Asset:         s.Asset,
			Provider:      s.Provider,
			ProviderShare: split.ProviderShare,
			TreasuryShare: split.TreasuryShare,
			Requester:     s.Requester,
			Refund:        split.Refund,
		}
		if err := e.bank.ApplySettlement(ctx, credit); err != nil {
			return fmt.Errorf("settle: credit failed: %w", err)
		}
		applied = &credit

		r := Receipt{
			ID:        newReceiptID(),
			SessionID: s.ID,
			Trigger:   trigger,
			Winner:    winner,
			Requester: s.Requester,
			Provider:  s.Provider,
			Asset:     s.Asset,
			Deposit:   s.Deposit,
			UnitsUsed: s.UnitsUsed,
			Split:     split,
			SettledAt: e.clock.Now(),
		}
		if e.signer != nil {
			if err := r.sign(e.signer); err != nil {
				return err
			}
		}
		receipt = &r
		return nil
	})
	if err != nil {
		if applied != nil {
			// Credits landed but the terminal status did not persist. Debit
			// them back so the session stays settleable with escrow intact.
			if revErr := e.bank.ReverseSettlement(ctx, *applied); revErr != nil {
				// Credited funds were withdrawn before the reversal could run.
				// Surface loudly, this needs manual resolution before the
				// session can be touched again.
				e.logger.Error("settlement credits applied but session update failed and reversal incomplete",
					"session_id", sessionID, "trigger", trigger, "err", err, "reverse_err", revErr)
			} else {
				e.logger.Warn("settlement aborted after credits, credits reversed",
					"session_id", sessionID, "trigger", trigger, "err", err)
			}
		}
		return nil, err
	}

	if err := e.archive.Store(ctx, *receipt); err != nil {
		// The settlement itself is complete; a lost archive entry is
		// recoverable from the audit log.
		e.logger.Warn("receipt archive store failed",
			"session_id", s.ID, "receipt_id", receipt.ID, "err", err)
	}

	e.auditEvent(audit.EventSessionSettled, s.ID, "", map[string]string{
		"trigger":        string(trigger),
		"receipt_id":     receipt.ID,
		"consumed":       strconv.FormatInt(receipt.Split.Consumed, 10),
		"provider_share": strconv.FormatInt(receipt.Split.ProviderShare, 10),
		"treasury_share": strconv.FormatInt(receipt.Split.TreasuryShare, 10),
		"refund":         strconv.FormatInt(receipt.Split.Refund, 10),
	})
	e.logger.Info("session settled", "session_id", s.ID, "trigger", trigger,
		"consumed", receipt.Split.Consumed, "provider_share", receipt.Split.ProviderShare,
		"treasury_share", receipt.Split.TreasuryShare, "refund", receipt.Split.Refund)
	return receipt, nil
}

// Receipts returns the archived receipts of a session.
func (e *Engine) Receipts(ctx context.Context, sessionID uint64) ([]Receipt, error) {
	return e.archive.BySession(ctx, sessionID)
}

func (e *Engine) auditEvent(kind audit.EventKind, sessionID uint64, actor string, detail map[string]string) {
	if e.auditor == nil {
		return
	}
	if _, err := e.auditor.Append(kind, sessionID, actor, detail); err != nil {
		e.logger.Warn("audit append failed", "kind", kind, "session_id", sessionID, "err", err)
	}
}
