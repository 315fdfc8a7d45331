package session

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresCreateAssignsID(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO sessions`).
		WithArgs("req", "prov", "USDC", int64(60_000), int64(100),
			int64(3600), int64(60), int64(0), "active",
			now, now.Add(time.Hour), "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	s := &Session{
		Requester:     "req",
		Provider:      "prov",
		Asset:         "USDC",
		Deposit:       60_000,
		PricePerUnit:  100,
		MaxDuration:   time.Hour,
		ProofInterval: time.Minute,
		Status:        StatusActive,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
	}
	id, err := store.Create(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id)
	assert.Equal(t, uint64(7), s.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM sessions WHERE id`).
		WithArgs(uint64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetScansNullableFields(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "requester", "provider", "asset", "deposit", "price_per_unit",
		"max_duration_secs", "proof_interval_secs", "units_used", "last_proof_at",
		"status", "dispute_deadline", "created_at", "expires_at", "final_content_ref",
	}).AddRow(3, "req", "prov", "USDC", 60_000, 100, 3600, 60, 150, nil,
		"active", nil, now, now.Add(time.Hour), "")

	mock.ExpectQuery(`SELECT .* FROM sessions WHERE id`).
		WithArgs(uint64(3)).
		WillReturnRows(rows)

	s, err := store.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, s.MaxDuration)
	assert.Equal(t, time.Minute, s.ProofInterval)
	assert.Equal(t, int64(150), s.UnitsUsed)
	assert.Nil(t, s.LastProofAt)
	assert.Nil(t, s.DisputeDeadline)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateUnknownSession(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE sessions SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), &Session{ID: 99, Status: StatusActive})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresExpiredQuery(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id FROM sessions`).
		WithArgs("active", "disputed", now, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(4))

	ids, err := store.Expired(context.Background(), now, 50)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 4}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
