package settle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meterline-Labs/meterline/pkg/audit"
	"github.com/Meterline-Labs/meterline/pkg/bank"
	"github.com/Meterline-Labs/meterline/pkg/crypto"
	"github.com/Meterline-Labs/meterline/pkg/proof"
	"github.com/Meterline-Labs/meterline/pkg/registry"
	"github.com/Meterline-Labs/meterline/pkg/session"
)

const (
	testRequester = "did:meter:requester-1"
	testProvider  = "did:meter:provider-1"
	testArbiter   = "did:meter:arbiter"
	testOutsider  = "did:meter:bystander"
	testAsset     = "USDC"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine  *Engine
	ledger  *session.Ledger
	bank    *bank.Bank
	signer  *crypto.Ed25519Signer
	auditor *audit.Log
	clock   *fixedClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, session.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, store session.Store) *fixture {
	t.Helper()

	providerSigner, err := crypto.NewEd25519Signer("provider-key")
	require.NoError(t, err)
	serviceSigner, err := crypto.NewEd25519Signer("service-key")
	require.NoError(t, err)

	reg := registry.NewStatic(map[string]string{testProvider: providerSigner.PublicKey()})
	b := bank.New(bank.NewMemoryStore(), nil, slog.Default())
	verifier := proof.NewVerifier(proof.NewMemoryReplayGuard(), proof.NewMemoryRecordStore())
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ledger := session.NewLedger(store, b, reg, verifier, 1_000, clock, slog.Default())
	auditor := audit.NewLog()

	engine := NewEngine(ledger, b, serviceSigner, NewMemoryArchive(), auditor, Config{
		FeeRateBps:    1_000, // 10%
		DisputeWindow: 24 * time.Hour,
		Arbiter:       testArbiter,
	}, clock, slog.Default())

	return &fixture{
		engine:  engine,
		ledger:  ledger,
		bank:    b,
		signer:  providerSigner,
		auditor: auditor,
		clock:   clock,
	}
}

func (f *fixture) open(t *testing.T, deposit, price int64) *session.Session {
	t.Helper()
	require.NoError(t, f.bank.Deposit(context.Background(), testRequester, testAsset, deposit))
	s, err := f.ledger.Create(context.Background(), session.CreateParams{
		Requester:    testRequester,
		Provider:     testProvider,
		Asset:        testAsset,
		Deposit:      deposit,
		PricePerUnit: price,
		MaxDuration:  time.Hour,
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) prove(t *testing.T, sessionID uint64, hash string, units int64) {
	t.Helper()
	digest, err := proof.PayloadDigest(hash, testProvider, units)
	require.NoError(t, err)
	sig, err := f.signer.Sign(digest)
	require.NoError(t, err)
	_, err = f.ledger.SubmitProof(context.Background(), session.SubmitParams{
		SessionID:  sessionID,
		UnitsDelta: units,
		ProofHash:  hash,
		Signature:  sig,
	})
	require.NoError(t, err)
}

func (f *fixture) assertBalances(t *testing.T, requesterDeposit, providerEarnings, treasury int64) {
	t.Helper()
	ctx := context.Background()
	reqBal, err := f.bank.Balances(ctx, testRequester, testAsset)
	require.NoError(t, err)
	assert.Equal(t, requesterDeposit, reqBal.Deposit, "requester deposit")
	provBal, err := f.bank.Balances(ctx, testProvider, testAsset)
	require.NoError(t, err)
	assert.Equal(t, providerEarnings, provBal.Earnings, "provider earnings")
	treas, err := f.bank.Treasury(ctx, testAsset)
	require.NoError(t, err)
	assert.Equal(t, treasury, treas, "treasury")
}

// Deposit 1,000,000 at 1,000/unit with a 10% fee; one proof of 500 units and
// a normal completion splits 500,000 consumed into 450,000 / 50,000 and
// refunds the other half.
func TestCompleteSplitsEscrow(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, 1_000_000, 1_000)
	f.prove(t, s.ID, "proof-1", 500)

	receipt, err := f.engine.Complete(context.Background(), testProvider, s.ID, "ipfs://final")
	require.NoError(t, err)

	assert.Equal(t, int64(500_000), receipt.Split.Consumed)
	assert.Equal(t, int64(450_000), receipt.Split.ProviderShare)
	assert.Equal(t, int64(50_000), receipt.Split.TreasuryShare)
	assert.Equal(t, int64(500_000), receipt.Split.Refund)
	assert.Equal(t, TriggerCompletion, receipt.Trigger)

	f.assertBalances(t, 500_000, 450_000, 50_000)

	got, err := f.ledger.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status)
	assert.Equal(t, "ipfs://final", got.FinalContentRef)

	ok, err := VerifyReceipt(*receipt)
	require.NoError(t, err)
	assert.True(t, ok, "receipt signature must verify")
}

func TestSettleExactlyOnce(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, 1_000_000, 1_000)
	f.prove(t, s.ID, "proof-1", 500)

	_, err := f.engine.Complete(context.Background(), testRequester, s.ID, "")
	require.NoError(t, err)

	_, err = f.engine.Complete(context.Background(), testRequester, s.ID, "")
	assert.ErrorIs(t, err, ErrAlreadySettled)
	_, err = f.engine.Abandon(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrAlreadySettled)
	_, err = f.engine.ResolveDispute(context.Background(), testArbiter, s.ID, WinnerProvider)
	assert.ErrorIs(t, err, ErrAlreadySettled)

	// Balances unchanged by the rejected second settlements.
	f.assertBalances(t, 500_000, 450_000, 50_000)
}

// flakySessionStore fails updates that would persist a terminal status while
// failTerminal is set, leaving earlier writes intact.
type flakySessionStore struct {
	session.Store
	failTerminal bool
}

func (s *flakySessionStore) Update(ctx context.Context, sess *session.Session) error {
	if s.failTerminal && sess.Status.Terminal() {
		return errors.New("store offline")
	}
	return s.Store.Update(ctx, sess)
}

// A settlement whose terminal status cannot be persisted must debit its
// credits back: the session stays Active with escrow intact, and a later
// retry pays exactly once.
func TestFailedStatusPersistReversesCredits(t *testing.T) {
	store := &flakySessionStore{Store: session.NewMemoryStore()}
	f := newFixtureWithStore(t, store)
	s := f.open(t, 1_000_000, 1_000)
	f.prove(t, s.ID, "proof-1", 500)

	store.failTerminal = true
	_, err := f.engine.Complete(context.Background(), testProvider, s.ID, "")
	require.Error(t, err)

	// Nothing moved and the session is still settleable.
	f.assertBalances(t, 0, 0, 0)
	got, err := f.ledger.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, got.Status)

	store.failTerminal = false
	receipt, err := f.engine.Complete(context.Background(), testProvider, s.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(450_000), receipt.Split.ProviderShare)
	f.assertBalances(t, 500_000, 450_000, 50_000)
}

func TestCompleteAuthorization(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, 1_000_000, 1_000)

	// A bystander cannot cut a live session short.
	_, err := f.engine.Complete(context.Background(), testOutsider, s.ID, "")
	assert.ErrorIs(t, err, ErrUnauthorizedCaller)

	// Once the timeout elapsed, anyone can.
	f.clock.Advance(time.Hour + time.Second)
	receipt, err := f.engine.Complete(context.Background(), testOutsider, s.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), receipt.Split.Refund)
}

// An untouched session past its timeout is abandonable by any third party;
// the full deposit comes back and the provider gets nothing.
func TestAbandonRefundsUnusedDeposit(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, 1_000_000, 1_000)

	_, err := f.engine.Abandon(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrNotYetAbandonable)

	f.clock.Advance(time.Hour + time.Second)
	receipt, err := f.engine.Abandon(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(0), receipt.Split.Consumed)
	assert.Equal(t, int64(0), receipt.Split.ProviderShare)
	assert.Equal(t, int64(1_000_000), receipt.Split.Refund)
	f.assertBalances(t, 1_000_000, 0, 0)

	got, err := f.ledger.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAbandoned, got.Status)
}

func TestAbandonPaysProvenWork(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, 1_000_000, 1_000)
	f.prove(t, s.ID, "proof-1", 200)

	f.clock.Advance(time.Hour + time.Second)
	receipt, err := f.engine.Abandon(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(200_000), receipt.Split.Consumed)
	assert.Equal(t, int64(180_000), receipt.Split.ProviderShare)
	assert.Equal(t, int64(20_000), receipt.Split.TreasuryShare)
	assert.Equal(t, int64(800_000), receipt.Split.Refund)
}

// An arbiter ruling for the requester forfeits the provider's claims even
// though a proof was accepted earlier.
func TestDisputeRequesterWinForfeitsProvider(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, 1_000_000, 1_000)
	f.prove(t, s.ID, "proof-1", 500)

	_, err := f.engine.RaiseDispute(context.Background(), testRequester, s.ID)
	require.NoError(t, err)

	receipt, err := f.engine.ResolveDispute(context.Background(), testArbiter, s.ID, WinnerRequester)
	require.NoError(t, err)

	assert.Equal(t, int64(0), receipt.Split.Consumed)
	assert.Equal(t, int64(0), receipt.Split.ProviderShare)
	assert.Equal(t, int64(0), receipt.Split.TreasuryShare)
	assert.Equal(t, int64(1_000_000), receipt.Split.Refund)
	assert.Equal(t, WinnerRequester, receipt.Winner)
	f.assertBalances(t, 1_000_000, 0, 0)

	got, err := f.ledger.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusResolved, got.Status)
}

func TestDisputeProviderWinSettlesNormally(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, 1_000_000, 1_000)
	f.prove(t, s.ID, "proof-1", 500)

	_, err := f.engine.RaiseDispute(context.Background(), testProvider, s.ID)
	require.NoError(t, err)

	receipt, err := f.engine.ResolveDispute(context.Background(), testArbiter, s.ID, WinnerProvider)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), receipt.Split.Consumed)
	assert.Equal(t, int64(450_000), receipt.Split.ProviderShare)
	f.assertBalances(t, 500_000, 450_000, 50_000)
}

func TestDisputeAuthorization(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, 1_000_000, 1_000)

	_, err := f.engine.RaiseDispute(context.Background(), testOutsider, s.ID)
	assert.ErrorIs(t, err, ErrUnauthorizedCaller)

	_, err = f.engine.ResolveDispute(context.Background(), testOutsider, s.ID, WinnerProvider)
	assert.ErrorIs(t, err, ErrUnauthorizedCaller)

	_, err = f.engine.ResolveDispute(context.Background(), testArbiter, s.ID, WinnerProvider)
	assert.ErrorIs(t, err, ErrNoOpenDispute)

	_, err = f.engine.ResolveDispute(context.Background(), testArbiter, s.ID, Winner("coin-flip"))
	assert.ErrorIs(t, err, ErrInvalidWinner)
}

// A disputed session whose deadline lapses without a ruling settles through
// the abandonment path using the frozen usage counter.
func TestLapsedDisputeBecomesAbandonable(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, 1_000_000, 1_000)
	f.prove(t, s.ID, "proof-1", 300)

	_, err := f.engine.RaiseDispute(context.Background(), testRequester, s.ID)
	require.NoError(t, err)

	_, err = f.engine.Abandon(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrNotYetAbandonable)

	f.clock.Advance(24*time.Hour + time.Second)
	receipt, err := f.engine.Abandon(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300_000), receipt.Split.Consumed)
	assert.Equal(t, int64(700_000), receipt.Split.Refund)

	got, err := f.ledger.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAbandoned, got.Status)
}

func TestDisputeBlocksCompletion(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, 1_000_000, 1_000)

	_, err := f.engine.RaiseDispute(context.Background(), testRequester, s.ID)
	require.NoError(t, err)

	_, err = f.engine.Complete(context.Background(), testProvider, s.ID, "")
	assert.ErrorIs(t, err, session.ErrSessionNotActive)

	_, err = f.engine.RaiseDispute(context.Background(), testProvider, s.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotActive)
}

func TestSettlementArchivesReceipt(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, 1_000_000, 1_000)
	f.prove(t, s.ID, "proof-1", 500)

	receipt, err := f.engine.Complete(context.Background(), testRequester, s.ID, "")
	require.NoError(t, err)

	archived, err := f.engine.Receipts(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, receipt.ID, archived[0].ID)

	events := f.auditor.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, audit.EventSessionSettled, last.Kind)
	assert.Equal(t, s.ID, last.SessionID)
	assert.NoError(t, f.auditor.Verify())
}

func TestSweeperSettlesStalledSessions(t *testing.T) {
	f := newFixture(t)
	stalled := f.open(t, 1_000_000, 1_000)
	live := f.open(t, 500_000, 1_000)

	// Only the first session lapses.
	f.clock.Advance(time.Hour + time.Second)
	_, err := f.ledger.Mutate(context.Background(), live.ID, func(s *session.Session) error {
		s.ExpiresAt = f.clock.Now().Add(time.Hour)
		return nil
	})
	require.NoError(t, err)

	sweeper := NewSweeper(f.engine, f.ledger, time.Minute, 0, 10, slog.Default())
	sweeper.Sweep(context.Background())

	got, err := f.ledger.Get(context.Background(), stalled.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAbandoned, got.Status)

	got, err = f.ledger.Get(context.Background(), live.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, got.Status)
}

func TestSweeperStartStop(t *testing.T) {
	f := newFixture(t)
	sweeper := NewSweeper(f.engine, f.ledger, 10*time.Millisecond, 0, 10, slog.Default())

	require.NoError(t, sweeper.Start(context.Background()))
	assert.Error(t, sweeper.Start(context.Background()), "double start must fail")
	sweeper.Stop()
	sweeper.Stop() // idempotent
}
