// Package registry exposes the provider-admission collaborator consumed by
// the settlement core. Admission itself (staking, capability review) lives
// outside this repository; the core only asks two questions: is this
// identity an admitted provider, and what key does it sign proofs with.
package registry

import (
	"context"
	"errors"
	"sync"
)

// ErrUnknownProvider is returned when an identity is not admitted.
var ErrUnknownProvider = errors.New("registry: unknown provider")

// Registry answers provider admission and key lookups.
type Registry interface {
	// IsAdmittedProvider reports whether identity is an admitted, capable
	// provider.
	IsAdmittedProvider(ctx context.Context, identity string) (bool, error)

	// ProviderKey returns the hex-encoded Ed25519 public key the provider
	// signs usage proofs with. Fails with ErrUnknownProvider for identities
	// that are not admitted.
	ProviderKey(ctx context.Context, identity string) (string, error)
}

// Static is an in-memory Registry populated from configuration. It is the
// implementation used by single-node deployments and tests; production
// deployments substitute a client for the external admission service.
type Static struct {
	mu   sync.RWMutex
	keys map[string]string // identity -> hex public key
}

// NewStatic builds a Static registry from an identity->key map.
func NewStatic(providers map[string]string) *Static {
	keys := make(map[string]string, len(providers))
	for id, key := range providers {
		keys[id] = key
	}
	return &Static{keys: keys}
}

// Admit adds or replaces a provider entry.
func (s *Static) Admit(identity, publicKeyHex string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[identity] = publicKeyHex
}

// Revoke removes a provider entry.
func (s *Static) Revoke(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, identity)
}

func (s *Static) IsAdmittedProvider(_ context.Context, identity string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[identity]
	return ok, nil
}

func (s *Static) ProviderKey(_ context.Context, identity string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[identity]
	if !ok {
		return "", ErrUnknownProvider
	}
	return key, nil
}
