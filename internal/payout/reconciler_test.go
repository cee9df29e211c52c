package payout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/hashpay/internal/activity"
	"github.com/Proton-105/hashpay/internal/domain"
	"github.com/Proton-105/hashpay/internal/gateway"
)

func (f *fixture) reconciler() *Reconciler {
	return NewReconciler(f.payouts, f.ledger, f.gateway, activity.NewLog(f.activity, testLogger()), f.proc, f.notifier, testLogger())
}

func (f *fixture) settle(t *testing.T, id string) *domain.PayoutRecord {
	t.Helper()
	f.addUser(t, id, btcAddress)
	f.credit(t, id, "0.002")
	rec, err := f.proc.Settle(context.Background(), id, domain.CurrencyBTC, domain.SourceBroadcast)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

func TestReconciler_Check(t *testing.T) {
	testCases := []struct {
		name        string
		exchange    gateway.Status
		wantStatus  domain.PayoutStatus
		wantPending bool
		wantBalance string
	}{
		{name: "completed", exchange: gateway.StatusCompleted, wantStatus: domain.PayoutCompleted, wantBalance: "0"},
		{name: "failed restores", exchange: gateway.StatusFailed, wantStatus: domain.PayoutFailed, wantBalance: "0.002"},
		{name: "pending", exchange: gateway.StatusPending, wantStatus: domain.PayoutProcessing, wantPending: true, wantBalance: "0"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, testPolicy())
			rec := f.settle(t, "alice")
			f.gateway.status = tc.exchange

			status, err := f.reconciler().Check(context.Background(), rec.ID)
			if tc.wantPending {
				assert.ErrorIs(t, err, ErrPending)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.wantStatus, status)

			stored, err := f.payouts.Get(context.Background(), rec.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, stored.Status)
			assert.True(t, dec(tc.wantBalance).Equal(f.balance(t, "alice")))
		})
	}
}

func TestReconciler_CheckIsIdempotentOnFinalRecords(t *testing.T) {
	f := newFixture(t, testPolicy())
	rec := f.settle(t, "alice")
	f.gateway.status = gateway.StatusFailed
	r := f.reconciler()

	for i := 0; i < 3; i++ {
		status, err := r.Check(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PayoutFailed, status)
	}
	assert.True(t, dec("0.002").Equal(f.balance(t, "alice")), "restore must happen once")
}

func TestReconciler_UnknownWithoutTransactionStays(t *testing.T) {
	f := newFixture(t, testPolicy())
	f.gateway.withdraw = func(context.Context, gateway.WithdrawRequest) (string, error) {
		return "", gateway.ErrUncertain
	}
	rec := f.settle(t, "alice")
	require.Equal(t, domain.PayoutUnknown, rec.Status)

	status, err := f.reconciler().Check(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutUnknown, status)
}

func TestReconciler_Sweep(t *testing.T) {
	f := newFixture(t, testPolicy())
	first := f.settle(t, "alice")
	second := f.settle(t, "bob")
	f.gateway.status = gateway.StatusCompleted

	r := f.reconciler()
	r.now = func() time.Time { return time.Now().Add(time.Hour) }

	resolved, err := r.Sweep(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, resolved)

	for _, id := range []string{first.ID, second.ID} {
		stored, err := f.payouts.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.PayoutCompleted, stored.Status)
	}

	resolved, err = r.Sweep(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Zero(t, resolved)
}
