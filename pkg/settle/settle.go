// Package settle computes and applies the terminal three-way split of a
// session's escrow: provider earnings, platform fee, requester refund. Every
// session settles exactly once, through exactly one of three triggers, and
// the three amounts always sum to the original deposit.
package settle

import (
	"errors"
)

var (
	// ErrAlreadySettled is returned when a terminal transition is attempted
	// on a session that already reached a terminal status.
	ErrAlreadySettled = errors.New("settle: session already settled")
	// ErrNotYetAbandonable is returned when abandonment is attempted before
	// the session's timeout elapsed.
	ErrNotYetAbandonable = errors.New("settle: not yet abandonable")
	// ErrUnauthorizedCaller is returned when an identity-gated operation is
	// attempted by the wrong caller.
	ErrUnauthorizedCaller = errors.New("settle: unauthorized caller")
	// ErrNoOpenDispute is returned when dispute resolution targets a session
	// that is not in the Disputed state.
	ErrNoOpenDispute = errors.New("settle: no open dispute")
	// ErrInvalidWinner is returned for a dispute outcome naming neither side.
	ErrInvalidWinner = errors.New("settle: invalid dispute winner")
)

// Trigger names the path a settlement came through.
type Trigger string

const (
	TriggerCompletion        Trigger = "completion"
	TriggerAbandonment       Trigger = "abandonment"
	TriggerDisputeResolution Trigger = "dispute_resolution"
)

// Winner is a binary dispute outcome.
type Winner string

const (
	WinnerProvider  Winner = "provider"
	WinnerRequester Winner = "requester"
)
