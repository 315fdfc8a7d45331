package session

import "errors"

var (
	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionNotActive is returned when a mutating call reaches a
	// session that already left the Active state.
	ErrSessionNotActive = errors.New("session: not active")
	// ErrInsufficientDeposit is returned when the deposit is below the
	// configured minimum or the requester's deposit pool cannot cover it.
	ErrInsufficientDeposit = errors.New("session: insufficient deposit")
	// ErrUnknownProvider is returned when the provider identity is not
	// admitted by the registry.
	ErrUnknownProvider = errors.New("session: unknown provider")
	// ErrZeroUnits is returned for proofs claiming no units.
	ErrZeroUnits = errors.New("session: claimed units delta must be positive")
	// ErrCapacityExceeded is returned when a proof would push usage past
	// what the escrowed deposit can pay for. The whole delta is rejected,
	// never truncated.
	ErrCapacityExceeded = errors.New("session: capacity exceeded")
	// ErrInvalidPrice is returned for non-positive unit prices.
	ErrInvalidPrice = errors.New("session: price per unit must be positive")
)
