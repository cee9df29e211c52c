package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/hashpay/internal/database"
	"github.com/Proton-105/hashpay/internal/domain"
)

const postgresDSNEnv = "HASHPAY_TEST_POSTGRES_DSN"

var (
	userRowColumns = []string{
		"id", "balance", "payout_address", "payout_threshold",
		"secondary_balance", "secondary_address", "secondary_threshold", "created_at", "updated_at",
	}
	payoutRowColumns = []string{
		"id", "user_id", "currency", "amount", "address", "status",
		"transaction_id", "source", "error", "created_at", "updated_at",
	}
	activityRowColumns = []string{"id", "user_id", "message", "status", "created_at"}
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func TestUserRepository_Get(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, nil)

		mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows(userRowColumns).
				AddRow("alice", "0.0012", "bc1qalice", "0.001", "0.5", "", "0.2", now, now))

		user, err := repo.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", user.ID)
		assert.True(t, decimal.RequireFromString("0.0012").Equal(user.Balance))
		assert.Equal(t, "bc1qalice", user.PayoutAddress)
		assert.True(t, decimal.RequireFromString("0.001").Equal(user.PayoutThreshold))
		assert.True(t, decimal.RequireFromString("0.5").Equal(user.SecondaryBalance))
		assert.Empty(t, user.SecondaryAddress)
		assert.Equal(t, now, user.UpdatedAt)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, nil)

		mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Get(ctx, "ghost")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("driver error", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, nil)

		boom := errors.New("connection reset")
		mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
			WithArgs("alice").
			WillReturnError(boom)

		_, err := repo.Get(ctx, "alice")
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrUserNotFound)
	})
}

func TestUserRepository_Ensure(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, nil)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`)).
		WithArgs("bob").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("bob", "0", "", "0.001", "0", "", "0.1", now, now))

	user, err := repo.Ensure(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", user.ID)
	assert.True(t, user.Balance.IsZero())
}

func TestUserRepository_UpdatePayoutSettings(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	address := "bc1qnew"
	threshold := decimal.RequireFromString("0.002")

	testCases := []struct {
		name     string
		settings domain.PayoutSettings
		args     []any
	}{
		{
			name:     "primary only",
			settings: domain.PayoutSettings{PayoutAddress: &address, PayoutThreshold: &threshold},
			args:     []any{"alice", "bc1qnew", "0.002", nil, nil},
		},
		{
			name:     "nothing set keeps columns",
			settings: domain.PayoutSettings{},
			args:     []any{"alice", nil, nil, nil, nil},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewUserRepository(db, nil)

			args := make([]driver.Value, 0, len(tc.args))
			for _, a := range tc.args {
				args = append(args, a)
			}
			mock.ExpectQuery(regexp.QuoteMeta(`UPDATE users SET payout_address = COALESCE($2, payout_address)`)).
				WithArgs(args...).
				WillReturnRows(sqlmock.NewRows(userRowColumns).
					AddRow("alice", "0", "bc1qnew", "0.002", "0", "", "0.1", now, now))

			user, err := repo.UpdatePayoutSettings(ctx, "alice", tc.settings)
			require.NoError(t, err)
			assert.Equal(t, "bc1qnew", user.PayoutAddress)
		})
	}

	t.Run("unknown user", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, nil)

		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE users SET`)).
			WillReturnError(sql.ErrNoRows)

		_, err := repo.UpdatePayoutSettings(ctx, "ghost", domain.PayoutSettings{PayoutAddress: &address})
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestUserRepository_ListWithPayoutAddress(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, nil)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE payout_address <> '' OR secondary_address <> '' ORDER BY id`)).
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("alice", "0.0004", "bc1qalice", "0.001", "0", "", "0.1", now, now).
			AddRow("carol", "0", "", "0.001", "0.3", "0xcarol", "0.1", now, now))

	users, err := repo.ListWithPayoutAddress(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].ID)
	assert.Equal(t, "0xcarol", users[1].SecondaryAddress)
}

func TestPayoutRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewPayoutRepository(db, nil)
	now := time.Now().UTC()

	rec := &domain.PayoutRecord{
		ID:        "7b1f0d5e-0000-4000-8000-000000000001",
		UserID:    "alice",
		Currency:  domain.CurrencyBTC,
		Amount:    decimal.RequireFromString("0.0012"),
		Address:   "bc1qalice",
		Status:    domain.PayoutProcessing,
		Source:    domain.SourceBroadcast,
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO payouts (id, user_id, currency, amount, address, status, transaction_id, source, error, created_at, updated_at)`)).
		WithArgs(rec.ID, "alice", "BTC", "0.0012", "bc1qalice", "processing", "", "broadcast", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(ctx, rec))

	mock.ExpectQuery(regexp.QuoteMeta(`FROM payouts WHERE id = $1`)).
		WithArgs(rec.ID).
		WillReturnRows(sqlmock.NewRows(payoutRowColumns).
			AddRow(rec.ID, "alice", "BTC", "0.0012", "bc1qalice", "processing", "", "broadcast", "", now, now))

	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutProcessing, got.Status)
	assert.Equal(t, domain.CurrencyBTC, got.Currency)
	assert.Equal(t, domain.SourceBroadcast, got.Source)
	assert.True(t, rec.Amount.Equal(got.Amount))

	mock.ExpectQuery(regexp.QuoteMeta(`FROM payouts WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrPayoutNotFound)
}

func TestPayoutRepository_AttachTransaction(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "first attach", affected: 1},
		{name: "already attached", affected: 0, wantErr: ErrStatusConflict},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewPayoutRepository(db, nil)

			mock.ExpectExec(regexp.QuoteMeta(`UPDATE payouts SET transaction_id = $2, updated_at = NOW() WHERE id = $1 AND transaction_id = ''`)).
				WithArgs("p1", "tx-1").
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			err := repo.AttachTransaction(ctx, "p1", "tx-1")
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPayoutRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "transition applied", affected: 1},
		{name: "status moved on", affected: 0, wantErr: ErrStatusConflict},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewPayoutRepository(db, nil)

			mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $1 AND status = $2`)).
				WithArgs("p1", "processing", "unknown", "tx-9", "timeout").
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			err := repo.UpdateStatus(ctx, "p1", StatusUpdate{
				From:          domain.PayoutProcessing,
				To:            domain.PayoutUnknown,
				TransactionID: "tx-9",
				Error:         "timeout",
			})
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPayoutRepository_Lists(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("by user normalizes limit", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPayoutRepository(db, nil)

		mock.ExpectQuery(regexp.QuoteMeta(`WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`)).
			WithArgs("alice", 50).
			WillReturnRows(sqlmock.NewRows(payoutRowColumns).
				AddRow("p2", "alice", "ETH", "0.2", "0xalice", "completed", "tx-2", "scheduler", "", now, now).
				AddRow("p1", "alice", "BTC", "0.001", "bc1qalice", "failed", "", "broadcast", "rejected", now, now))

		records, err := repo.ListByUser(ctx, "alice", 0)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, domain.PayoutCompleted, records[0].Status)
		assert.Equal(t, "rejected", records[1].Error)
	})

	t.Run("by status", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPayoutRepository(db, nil)
		cutoff := now.Add(-time.Minute)

		mock.ExpectQuery(regexp.QuoteMeta(`WHERE status = $1 AND created_at < $2 ORDER BY created_at LIMIT $3`)).
			WithArgs("unknown", cutoff, 10).
			WillReturnRows(sqlmock.NewRows(payoutRowColumns).
				AddRow("p3", "bob", "BTC", "0.001", "bc1qbob", "unknown", "tx-3", "broadcast", "", now, now))

		records, err := repo.ListByStatus(ctx, domain.PayoutUnknown, cutoff, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "tx-3", records[0].TransactionID)
	})

	t.Run("scan error", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPayoutRepository(db, nil)

		mock.ExpectQuery(regexp.QuoteMeta(`FROM payouts WHERE user_id = $1`)).
			WillReturnRows(sqlmock.NewRows(payoutRowColumns).
				AddRow("p1", "alice", "BTC", "not-a-number", "bc1qalice", "processing", "", "broadcast", "", now, now))

		_, err := repo.ListByUser(ctx, "alice", 5)
		assert.Error(t, err)
	})
}

func TestActivityRepository_AppendAndList(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewActivityRepository(db, nil)
	now := time.Now().UTC()

	entry := &domain.ActivityLogEntry{
		ID:        "e1",
		UserID:    "alice",
		Message:   "Payout sent",
		Status:    domain.ActivitySuccess,
		CreatedAt: now,
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO activity_log (id, user_id, message, status, created_at) VALUES ($1, $2, $3, $4, $5)`)).
		WithArgs("e1", "alice", "Payout sent", "success", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Append(ctx, entry))

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC, seq DESC LIMIT $2`)).
		WithArgs("alice", 50).
		WillReturnRows(sqlmock.NewRows(activityRowColumns).
			AddRow("e2", "alice", "Payout failed", "error", now).
			AddRow("e1", "alice", "Payout sent", "success", now.Add(-time.Second)))

	entries, err := repo.ListByUser(ctx, "alice", 1000)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ActivityError, entries[0].Status)
	assert.Equal(t, "e1", entries[1].ID)
}

// TestPostgresRepositories_RoundTrip runs against a real database when
// HASHPAY_TEST_POSTGRES_DSN is set.
func TestPostgresRepositories_RoundTrip(t *testing.T) {
	dsn := os.Getenv(postgresDSNEnv)
	if dsn == "" {
		t.Skip("PG DSN not provided")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, database.NewMigrator(db, nil).Apply(ctx, database.Migrations()))
	_, err = db.ExecContext(ctx, `TRUNCATE users, activity_log CASCADE`)
	require.NoError(t, err)

	users := NewUserRepository(db, nil)
	payouts := NewPayoutRepository(db, nil)
	activity := NewActivityRepository(db, nil)

	_, err = users.Ensure(ctx, "alice")
	require.NoError(t, err)

	address := "bc1qalice"
	user, err := users.UpdatePayoutSettings(ctx, "alice", domain.PayoutSettings{PayoutAddress: &address})
	require.NoError(t, err)
	assert.Equal(t, address, user.PayoutAddress)

	listed, err := users.ListWithPayoutAddress(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := &domain.PayoutRecord{
		ID:        "7b1f0d5e-0000-4000-8000-000000000002",
		UserID:    "alice",
		Currency:  domain.CurrencyBTC,
		Amount:    decimal.RequireFromString("0.0012"),
		Address:   address,
		Status:    domain.PayoutProcessing,
		Source:    domain.SourceBroadcast,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, payouts.Create(ctx, rec))
	require.NoError(t, payouts.AttachTransaction(ctx, rec.ID, "tx-1"))
	assert.ErrorIs(t, payouts.AttachTransaction(ctx, rec.ID, "tx-2"), ErrStatusConflict)

	require.NoError(t, payouts.UpdateStatus(ctx, rec.ID, StatusUpdate{From: domain.PayoutProcessing, To: domain.PayoutCompleted}))
	assert.ErrorIs(t, payouts.UpdateStatus(ctx, rec.ID, StatusUpdate{From: domain.PayoutProcessing, To: domain.PayoutFailed}), ErrStatusConflict)

	stored, err := payouts.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutCompleted, stored.Status)
	assert.Equal(t, "tx-1", stored.TransactionID)
	assert.True(t, rec.Amount.Equal(stored.Amount))

	require.NoError(t, activity.Append(ctx, &domain.ActivityLogEntry{
		ID:        "7b1f0d5e-0000-4000-8000-000000000003",
		UserID:    "alice",
		Message:   "Payout sent",
		Status:    domain.ActivitySuccess,
		CreatedAt: now,
	}))
	entries, err := activity.ListByUser(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Payout sent", entries[0].Message)
}
