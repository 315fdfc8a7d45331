// Package session owns the session records of the settlement core and their
// lifecycle state machine. A session is a bounded, priced service agreement
// between a requester and a provider, funded by escrow debited from the
// requester's deposit pool at creation and released only through the single
// terminal settlement transition.
package session

import (
	"time"
)

// Status is the lifecycle state of a session. All transitions are one-way:
// Active -> Completed, Active -> Abandoned, Active -> Disputed -> Resolved.
// A Disputed session whose deadline lapses without resolution may also move
// to Abandoned, so a stalled arbiter cannot trap funds.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
	StatusDisputed  Status = "disputed"
	StatusResolved  Status = "resolved"
)

// Terminal reports whether the status permits no further mutation.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusAbandoned, StatusResolved:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows moving to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusActive:
		return next == StatusCompleted || next == StatusAbandoned || next == StatusDisputed
	case StatusDisputed:
		return next == StatusResolved || next == StatusAbandoned
	}
	return false
}

// Session is a pay-per-unit service agreement. UnitsUsed only ever grows,
// and never beyond Capacity(); terminal sessions stay readable for audit but
// reject all mutation.
type Session struct {
	ID           uint64        `json:"id"`
	Requester    string        `json:"requester"`
	Provider     string        `json:"provider"`
	Asset        string        `json:"asset"`
	Deposit      int64         `json:"deposit"`
	PricePerUnit int64         `json:"price_per_unit"`
	MaxDuration  time.Duration `json:"max_duration"`
	// ProofInterval is a pacing hint for providers; the core stores and
	// surfaces it but never enforces it.
	ProofInterval   time.Duration `json:"proof_interval"`
	UnitsUsed       int64         `json:"units_used"`
	LastProofAt     *time.Time    `json:"last_proof_at,omitempty"`
	Status          Status        `json:"status"`
	DisputeDeadline *time.Time    `json:"dispute_deadline,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	FinalContentRef string        `json:"final_content_ref,omitempty"`
}

// Capacity returns the maximum units the escrowed deposit can pay for.
func (s *Session) Capacity() int64 {
	if s.PricePerUnit <= 0 {
		return 0
	}
	return s.Deposit / s.PricePerUnit
}

// Abandonable reports whether the no-cooperation exit path is open at now:
// an Active session past its expiry, or a Disputed one past its dispute
// deadline.
func (s *Session) Abandonable(now time.Time) bool {
	switch s.Status {
	case StatusActive:
		return !now.Before(s.ExpiresAt)
	case StatusDisputed:
		return s.DisputeDeadline != nil && !now.Before(*s.DisputeDeadline)
	}
	return false
}
