// Package guard implements the global pause switch. The pause gates only the
// two entry operations that create new obligations (session creation and
// proof submission); settlement, withdrawal and deposit are never gated, so
// a pause can never trap funds already committed.
package guard

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

var (
	// ErrPausedOperation is returned when an entry operation is attempted
	// while the system is paused.
	ErrPausedOperation = errors.New("guard: operation paused")
	// ErrUnauthorizedCaller is returned when someone other than the operator
	// flips the switch.
	ErrUnauthorizedCaller = errors.New("guard: unauthorized caller")
)

// Guard is the operator-settable pause flag.
type Guard struct {
	paused   atomic.Bool
	operator string
	logger   *slog.Logger
}

// New creates a Guard. operator is the only identity allowed to pause and
// unpause.
func New(operator string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{operator: operator, logger: logger}
}

// Pause stops entry operations. Operator only.
func (g *Guard) Pause(caller string) error {
	if caller != g.operator {
		return fmt.Errorf("%w: %s is not the operator", ErrUnauthorizedCaller, caller)
	}
	g.paused.Store(true)
	g.logger.Warn("entry operations paused", "operator", caller)
	return nil
}

// Unpause re-enables entry operations. Operator only.
func (g *Guard) Unpause(caller string) error {
	if caller != g.operator {
		return fmt.Errorf("%w: %s is not the operator", ErrUnauthorizedCaller, caller)
	}
	g.paused.Store(false)
	g.logger.Info("entry operations resumed", "operator", caller)
	return nil
}

// Paused reports the current state. Readable by anyone.
func (g *Guard) Paused() bool {
	return g.paused.Load()
}

// Check returns ErrPausedOperation while paused. Entry operations call it
// before doing anything.
func (g *Guard) Check() error {
	if g.paused.Load() {
		return ErrPausedOperation
	}
	return nil
}
