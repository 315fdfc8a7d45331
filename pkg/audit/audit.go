// Package audit keeps a hash-chained, append-only log of settlement-core
// transitions. Each entry's hash covers its predecessor's, so rewriting any
// past entry breaks verification of everything after it.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/Meterline-Labs/meterline/pkg/crypto"
)

// EventKind categorizes a transition.
type EventKind string

const (
	EventSessionCreated  EventKind = "session_created"
	EventProofAccepted   EventKind = "proof_accepted"
	EventDisputeRaised   EventKind = "dispute_raised"
	EventSessionSettled  EventKind = "session_settled"
	EventGuardPaused     EventKind = "guard_paused"
	EventGuardUnpaused   EventKind = "guard_unpaused"
)

// Event is one immutable log entry.
type Event struct {
	Sequence  uint64            `json:"sequence"`
	Kind      EventKind         `json:"kind"`
	SessionID uint64            `json:"session_id,omitempty"`
	Actor     string            `json:"actor,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	PrevHash  string            `json:"prev_hash"`
	Hash      string            `json:"hash"`
	Timestamp time.Time         `json:"timestamp"`
}

// Log is an append-only, hash-chained event log.
type Log struct {
	mu       sync.RWMutex
	events   []Event
	headHash string
	clock    func() time.Time
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{headHash: "genesis", clock: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the clock for tests.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// Append records an event and returns its sequence number.
func (l *Log) Append(kind EventKind, sessionID uint64, actor string, detail map[string]string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.events)) + 1
	e := Event{
		Sequence:  seq,
		Kind:      kind,
		SessionID: sessionID,
		Actor:     actor,
		Detail:    detail,
		PrevHash:  l.headHash,
		Timestamp: l.clock(),
	}
	hash, err := entryHash(e)
	if err != nil {
		return 0, err
	}
	e.Hash = hash

	l.events = append(l.events, e)
	l.headHash = hash
	return seq, nil
}

func entryHash(e Event) (string, error) {
	raw, err := crypto.CanonicalMarshal(struct {
		Sequence  uint64            `json:"sequence"`
		Kind      EventKind         `json:"kind"`
		SessionID uint64            `json:"session_id,omitempty"`
		Actor     string            `json:"actor,omitempty"`
		Detail    map[string]string `json:"detail,omitempty"`
		PrevHash  string            `json:"prev_hash"`
	}{e.Sequence, e.Kind, e.SessionID, e.Actor, e.Detail, e.PrevHash})
	if err != nil {
		return "", fmt.Errorf("audit: hash entry: %w", err)
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Events returns a copy of the log.
func (l *Log) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Head returns the current head hash.
func (l *Log) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Verify walks the chain and reports the first broken link, if any.
func (l *Log) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := "genesis"
	for _, e := range l.events {
		if e.PrevHash != prev {
			return fmt.Errorf("audit: entry %d prev hash mismatch", e.Sequence)
		}
		hash, err := entryHash(e)
		if err != nil {
			return err
		}
		if hash != e.Hash {
			return fmt.Errorf("audit: entry %d hash mismatch", e.Sequence)
		}
		prev = e.Hash
	}
	return nil
}
