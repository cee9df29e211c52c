package payout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/hashpay/internal/activity"
	"github.com/Proton-105/hashpay/internal/domain"
	"github.com/Proton-105/hashpay/internal/gateway"
	"github.com/Proton-105/hashpay/internal/ledger"
	"github.com/Proton-105/hashpay/internal/repository"
)

const btcAddress = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeGateway struct {
	mu         sync.Mutex
	configured bool
	withdraw   func(ctx context.Context, req gateway.WithdrawRequest) (string, error)
	status     gateway.Status
	requests   []gateway.WithdrawRequest
}

func (g *fakeGateway) Withdraw(ctx context.Context, req gateway.WithdrawRequest) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	fn := g.withdraw
	g.mu.Unlock()

	if fn == nil {
		return "tx-" + req.ClientRef, nil
	}
	return fn(ctx, req)
}

func (g *fakeGateway) CheckStatus(context.Context, string) (gateway.Status, error) {
	return g.status, nil
}

func (g *fakeGateway) CurrentPrice(context.Context, domain.Currency) float64 { return 1 }

func (g *fakeGateway) Configured() bool { return g.configured }

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

type recordingEnqueuer struct {
	ids []string
}

func (e *recordingEnqueuer) EnqueueStatusCheck(_ context.Context, id string, _ time.Duration) error {
	e.ids = append(e.ids, id)
	return nil
}

type fixture struct {
	users    *repository.MemoryUserRepository
	payouts  *repository.MemoryPayoutRepository
	activity *repository.MemoryActivityRepository
	ledger   ledger.Ledger
	gateway  *fakeGateway
	notifier *recordingNotifier
	enqueuer *recordingEnqueuer
	proc     *Processor
}

func testPolicy() Policy {
	return Policy{
		Thresholds: map[domain.Currency]decimal.Decimal{
			domain.CurrencyBTC: dec("0.001"),
			domain.CurrencyETH: dec("0.05"),
		},
		RestoreOnReject: true,
		WithdrawTimeout: time.Second,
		DrainTimeout:    50 * time.Millisecond,
	}
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()

	f := &fixture{
		users:    repository.NewMemoryUserRepository(),
		payouts:  repository.NewMemoryPayoutRepository(),
		activity: repository.NewMemoryActivityRepository(),
		ledger:   ledger.NewMemoryLedger(),
		gateway:  &fakeGateway{configured: true},
		notifier: &recordingNotifier{},
		enqueuer: &recordingEnqueuer{},
	}
	f.proc = NewProcessor(f.users, f.payouts, f.ledger, f.gateway,
		activity.NewLog(f.activity, testLogger()), policy, testLogger(),
		WithNotifier(f.notifier), WithStatusEnqueuer(f.enqueuer))
	return f
}

func (f *fixture) addUser(t *testing.T, id, address string) {
	t.Helper()
	_, err := f.users.Ensure(context.Background(), id)
	require.NoError(t, err)
	if address != "" {
		_, err = f.users.UpdatePayoutSettings(context.Background(), id, domain.PayoutSettings{PayoutAddress: &address})
		require.NoError(t, err)
	}
}

func (f *fixture) credit(t *testing.T, id, amount string) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), id, domain.CurrencyBTC, dec(amount))
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), id, domain.CurrencyBTC)
	require.NoError(t, err)
	return b
}

func TestProcessor_ThresholdCrossingPaysOnce(t *testing.T) {
	f := newFixture(t, testPolicy())
	f.addUser(t, "alice", btcAddress)
	ctx := context.Background()

	var records []*domain.PayoutRecord
	for i := 0; i < 3; i++ {
		f.credit(t, "alice", "0.0004")
		rec, err := f.proc.Settle(ctx, "alice", domain.CurrencyBTC, domain.SourceBroadcast)
		require.NoError(t, err)
		if rec != nil {
			records = append(records, rec)
		}
	}

	require.Len(t, records, 1)
	rec := records[0]
	assert.True(t, dec("0.0012").Equal(rec.Amount))
	assert.Equal(t, btcAddress, rec.Address)
	assert.Equal(t, domain.PayoutProcessing, rec.Status)
	assert.Equal(t, "tx-"+rec.ID, rec.TransactionID)
	assert.Equal(t, []string{rec.ID}, f.enqueuer.ids)

	f.credit(t, "alice", "0.0003")
	again, err := f.proc.Settle(ctx, "alice", domain.CurrencyBTC, domain.SourcePoller)
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.True(t, dec("0.0003").Equal(f.balance(t, "alice")))

	stored, err := f.payouts.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "tx-"+rec.ID, stored.TransactionID)

	entries, err := f.activity.ListByUser(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActivitySuccess, entries[0].Status)
}

func TestProcessor_SkipsKeepBalance(t *testing.T) {
	testCases := []struct {
		name       string
		address    string
		configured bool
		user       bool
	}{
		{name: "no address", address: "", configured: true, user: true},
		{name: "gateway not configured", address: btcAddress, configured: false, user: true},
		{name: "unknown user", configured: true, user: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, testPolicy())
			f.gateway.configured = tc.configured
			if tc.user {
				f.addUser(t, "alice", tc.address)
			}
			f.credit(t, "alice", "0.005")

			rec, err := f.proc.Settle(context.Background(), "alice", domain.CurrencyBTC, domain.SourceBroadcast)
			require.NoError(t, err)
			assert.Nil(t, rec)
			assert.True(t, dec("0.005").Equal(f.balance(t, "alice")))
			assert.Zero(t, f.gateway.calls())
		})
	}
}

func TestProcessor_UserThresholdOverridesDefault(t *testing.T) {
	f := newFixture(t, testPolicy())
	f.addUser(t, "alice", btcAddress)
	threshold := dec("0.01")
	_, err := f.users.UpdatePayoutSettings(context.Background(), "alice", domain.PayoutSettings{PayoutThreshold: &threshold})
	require.NoError(t, err)

	f.credit(t, "alice", "0.005")
	rec, err := f.proc.Settle(context.Background(), "alice", domain.CurrencyBTC, domain.SourceBroadcast)
	require.NoError(t, err)
	assert.Nil(t, rec)

	f.credit(t, "alice", "0.005")
	rec, err = f.proc.Settle(context.Background(), "alice", domain.CurrencyBTC, domain.SourceBroadcast)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, dec("0.01").Equal(rec.Amount))
}

func TestProcessor_WithdrawFailures(t *testing.T) {
	testCases := []struct {
		name            string
		err             error
		restoreOnReject bool
		wantStatus      domain.PayoutStatus
		wantBalance     string
		wantNotified    bool
		wantActivity    domain.ActivityStatus
	}{
		{
			name:            "rejected restores",
			err:             fmt.Errorf("declined: %w", gateway.ErrRejected),
			restoreOnReject: true,
			wantStatus:      domain.PayoutFailed,
			wantBalance:     "0.002",
			wantNotified:    true,
			wantActivity:    domain.ActivityError,
		},
		{
			name:            "rejected without restore",
			err:             fmt.Errorf("declined: %w", gateway.ErrRejected),
			restoreOnReject: false,
			wantStatus:      domain.PayoutFailed,
			wantBalance:     "0",
			wantNotified:    true,
			wantActivity:    domain.ActivityError,
		},
		{
			name:         "unavailable always restores",
			err:          fmt.Errorf("%w: circuit open", gateway.ErrUnavailable),
			wantStatus:   domain.PayoutFailed,
			wantBalance:  "0.002",
			wantActivity: domain.ActivityWarning,
		},
		{
			name:            "uncertain is not restored",
			err:             fmt.Errorf("%w: status 502", gateway.ErrUncertain),
			restoreOnReject: true,
			wantStatus:      domain.PayoutUnknown,
			wantBalance:     "0",
			wantNotified:    true,
			wantActivity:    domain.ActivityWarning,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			policy := testPolicy()
			policy.RestoreOnReject = tc.restoreOnReject
			f := newFixture(t, policy)
			f.gateway.withdraw = func(context.Context, gateway.WithdrawRequest) (string, error) {
				return "", tc.err
			}
			f.addUser(t, "alice", btcAddress)
			f.credit(t, "alice", "0.002")

			rec, err := f.proc.Settle(context.Background(), "alice", domain.CurrencyBTC, domain.SourceBroadcast)
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, tc.wantStatus, rec.Status)
			assert.NotEmpty(t, rec.Error)

			stored, err := f.payouts.Get(context.Background(), rec.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, stored.Status)
			assert.True(t, dec("0.002").Equal(stored.Amount))

			assert.True(t, dec(tc.wantBalance).Equal(f.balance(t, "alice")), "balance %s", f.balance(t, "alice"))
			assert.Equal(t, tc.wantNotified, f.notifier.count() > 0)
			assert.Empty(t, f.enqueuer.ids)

			entries, err := f.activity.ListByUser(context.Background(), "alice", 10)
			require.NoError(t, err)
			require.NotEmpty(t, entries)
			assert.Equal(t, tc.wantActivity, entries[0].Status)
		})
	}
}

func TestProcessor_ShutdownDrainsInFlightWithdraw(t *testing.T) {
	f := newFixture(t, testPolicy())
	f.addUser(t, "alice", btcAddress)
	f.credit(t, "alice", "0.002")

	ctx, cancel := context.WithCancel(context.Background())
	f.gateway.withdraw = func(callCtx context.Context, req gateway.WithdrawRequest) (string, error) {
		cancel()
		select {
		case <-time.After(10 * time.Millisecond):
			return "tx-drained", nil
		case <-callCtx.Done():
			return "", callCtx.Err()
		}
	}

	rec, err := f.proc.Settle(ctx, "alice", domain.CurrencyBTC, domain.SourceBroadcast)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.PayoutProcessing, rec.Status)
	assert.Equal(t, "tx-drained", rec.TransactionID)
}

func TestProcessor_ShutdownMarksStuckWithdrawUnknown(t *testing.T) {
	f := newFixture(t, testPolicy())
	f.addUser(t, "alice", btcAddress)
	f.credit(t, "alice", "0.002")

	ctx, cancel := context.WithCancel(context.Background())
	f.gateway.withdraw = func(callCtx context.Context, req gateway.WithdrawRequest) (string, error) {
		cancel()
		<-callCtx.Done()
		return "", callCtx.Err()
	}

	rec, err := f.proc.Settle(ctx, "alice", domain.CurrencyBTC, domain.SourceBroadcast)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.PayoutUnknown, rec.Status)
	assert.True(t, f.balance(t, "alice").IsZero(), "an uncertain withdrawal must not be re-credited")
	assert.Equal(t, 1, f.notifier.count())
}

func TestProcessor_ConcurrentSettlementsPayOnce(t *testing.T) {
	f := newFixture(t, testPolicy())
	f.addUser(t, "alice", btcAddress)
	f.credit(t, "alice", "0.003")

	var (
		wg   sync.WaitGroup
		paid int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			source := domain.SourceBroadcast
			if i%2 == 0 {
				source = domain.SourcePoller
			}
			rec, err := f.proc.Settle(context.Background(), "alice", domain.CurrencyBTC, source)
			assert.NoError(t, err)
			if rec != nil {
				atomic.AddInt32(&paid, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), paid)
	assert.Equal(t, 1, f.gateway.calls())
}

func TestProcessor_SetPolicy(t *testing.T) {
	f := newFixture(t, testPolicy())
	f.addUser(t, "alice", btcAddress)
	f.credit(t, "alice", "0.002")

	policy := testPolicy()
	policy.Thresholds[domain.CurrencyBTC] = dec("0.005")
	f.proc.SetPolicy(policy)

	rec, err := f.proc.Settle(context.Background(), "alice", domain.CurrencyBTC, domain.SourceBroadcast)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.True(t, dec("0.005").Equal(f.proc.Policy().Thresholds[domain.CurrencyBTC]))
}

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		from, to domain.PayoutStatus
		want     bool
	}{
		{domain.PayoutProcessing, domain.PayoutCompleted, true},
		{domain.PayoutProcessing, domain.PayoutFailed, true},
		{domain.PayoutProcessing, domain.PayoutUnknown, true},
		{domain.PayoutUnknown, domain.PayoutCompleted, true},
		{domain.PayoutUnknown, domain.PayoutFailed, true},
		{domain.PayoutUnknown, domain.PayoutProcessing, false},
		{domain.PayoutCompleted, domain.PayoutFailed, false},
		{domain.PayoutFailed, domain.PayoutCompleted, false},
		{domain.PayoutCompleted, domain.PayoutProcessing, false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("%s->%s", tc.from, tc.to), func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}
