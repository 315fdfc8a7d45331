package proof

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meterline-Labs/meterline/pkg/crypto"
)

func TestVerifySignature(t *testing.T) {
	signer, err := crypto.NewEd25519Signer("prov")
	require.NoError(t, err)
	v := NewVerifier(NewMemoryReplayGuard(), NewMemoryRecordStore())

	digest, err := PayloadDigest("hash-1", "provider-1", 42)
	require.NoError(t, err)
	sig, err := signer.Sign(digest)
	require.NoError(t, err)

	assert.NoError(t, v.VerifySignature("provider-1", signer.PublicKey(), "hash-1", 42, sig))

	// Any field change invalidates the signature.
	assert.ErrorIs(t, v.VerifySignature("provider-1", signer.PublicKey(), "hash-2", 42, sig), ErrInvalidSignature)
	assert.ErrorIs(t, v.VerifySignature("provider-1", signer.PublicKey(), "hash-1", 43, sig), ErrInvalidSignature)
	assert.ErrorIs(t, v.VerifySignature("provider-2", signer.PublicKey(), "hash-1", 42, sig), ErrInvalidSignature)

	// Malformed inputs report invalid, never panic.
	assert.ErrorIs(t, v.VerifySignature("provider-1", "not-hex", "hash-1", 42, sig), ErrInvalidSignature)
	assert.ErrorIs(t, v.VerifySignature("provider-1", signer.PublicKey(), "hash-1", 42, "zz"), ErrInvalidSignature)
}

func TestPayloadDigestDeterministic(t *testing.T) {
	a, err := PayloadDigest("h", "p", 1)
	require.NoError(t, err)
	b, err := PayloadDigest("h", "p", 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := PayloadDigest("h", "p", 2)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestReserveRejectsReplay(t *testing.T) {
	v := NewVerifier(NewMemoryReplayGuard(), NewMemoryRecordStore())
	ctx := context.Background()

	require.NoError(t, v.Reserve(ctx, "once"))
	assert.ErrorIs(t, v.Reserve(ctx, "once"), ErrReplayedProof)

	// Release reopens the hash, as used when a submission fails late.
	require.NoError(t, v.Release(ctx, "once"))
	assert.NoError(t, v.Reserve(ctx, "once"))
}

func TestMemoryReplayGuardConcurrent(t *testing.T) {
	guard := NewMemoryReplayGuard()
	ctx := context.Background()

	const hashes = 50
	const attempts = 8
	var wg sync.WaitGroup
	wins := make([]int32, hashes)
	errCh := make(chan error, hashes*attempts)
	var mu sync.Mutex

	for h := 0; h < hashes; h++ {
		for a := 0; a < attempts; a++ {
			wg.Add(1)
			go func(h int) {
				defer wg.Done()
				ok, err := guard.Reserve(ctx, fmt.Sprintf("hash-%d", h))
				if err != nil {
					errCh <- err
					return
				}
				if ok {
					mu.Lock()
					wins[h]++
					mu.Unlock()
				}
			}(h)
		}
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	for h, n := range wins {
		assert.EqualValues(t, 1, n, "hash-%d must be reserved exactly once", h)
	}
}

func TestRecordStoreRoundTrip(t *testing.T) {
	store := NewMemoryRecordStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(ctx, Record{
			SessionID:  1,
			ProofHash:  fmt.Sprintf("h-%d", i),
			UnitsDelta: int64(i + 1),
			Timestamp:  now.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.Append(ctx, Record{SessionID: 2, ProofHash: "other"}))

	recs, err := store.BySession(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "h-0", recs[0].ProofHash)

	require.NoError(t, store.Remove(ctx, 1, "h-1"))
	recs, err = store.BySession(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	other, err := store.BySession(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}
