package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/cache"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/resilience"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/port"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/service"
)

var fastRetry = resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond}

func newReconciler(f *issuerFixture, now time.Time) *service.Reconciler {
	return newReconcilerWithCache(f, cache.New[*domain.StatusDetail](0), now)
}

func newReconcilerWithCache(f *issuerFixture, c port.Cache[*domain.StatusDetail], now time.Time) *service.Reconciler {
	return service.NewReconciler(f.store, f.gateway, c, fastRetry, f.metrics, zap.NewNop()).
		WithClock(func() time.Time { return now })
}

func issueOne(t *testing.T, f *issuerFixture, contractID string) *domain.Boleto {
	t.Helper()
	b, err := f.issuer.IssueNext(context.Background(), contractID, domain.IssueOptions{})
	require.NoError(t, err)
	return b
}

func TestReconciler_SyncOne_Settled(t *testing.T) {
	f := newIssuerFixture(sampleContract("ctr-1", 0, 3))
	b := issueOne(t, f, "ctr-1")
	require.NoError(t, f.sim.SetStatus(covenant, b.BankNumber, "LIQUIDADO", decimal.NewNullDecimal(b.NominalValue)))

	res, err := newReconciler(f, today).SyncOne(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, domain.StatusRegistered, res.Previous)
	assert.Equal(t, domain.StatusSettled, res.Current)
	assert.Equal(t, domain.BankStatusSettled, res.BankStatus)

	stored, err := f.store.GetBoleto(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettled, stored.Status)

	// Settled is terminal: a second sync is a no-op without a bank call.
	calls := f.gateway.statusCalls
	res, err = newReconciler(f, today).SyncOne(context.Background(), b.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, calls, f.gateway.statusCalls)
}

func TestReconciler_ActivePastDueDate(t *testing.T) {
	f := newIssuerFixture(sampleContract("ctr-1", 0, 3))
	b := issueOne(t, f, "ctr-1")

	res, err := newReconciler(f, b.DueDate.AddDate(0, 0, 1)).SyncOne(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPastDue, res.Current)

	// Unchanged bank status the same day: nothing to write.
	res, err = newReconciler(f, b.DueDate.AddDate(0, 0, 1)).SyncOne(context.Background(), b.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestReconciler_IgnoresBackwardStatus(t *testing.T) {
	f := newIssuerFixture(sampleContract("ctr-1", 0, 3))
	b := issueOne(t, f, "ctr-1")
	require.NoError(t, f.sim.SetStatus(covenant, b.BankNumber, "LIQUIDADO PARCIALMENTE", decimal.NewNullDecimal(decimal.NewFromInt(100))))
	_, err := newReconciler(f, today).SyncOne(context.Background(), b.ID)
	require.NoError(t, err)

	require.NoError(t, f.sim.SetStatus(covenant, b.BankNumber, "ATIVO", decimal.NullDecimal{}))
	res, err := newReconciler(f, today).SyncOne(context.Background(), b.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, domain.StatusPartiallySettled, res.Current)
}

func TestReconciler_RetriesTransientFailures(t *testing.T) {
	f := newIssuerFixture(sampleContract("ctr-1", 0, 3))
	b := issueOne(t, f, "ctr-1")
	f.gateway.status = func(call int) (*domain.StatusDetail, error) {
		if call < 3 {
			return nil, &domain.ErrProtocol{Operation: "status", Status: 503}
		}
		return &domain.StatusDetail{Status: domain.BankStatusWrittenOff, RawStatus: "BAIXADO"}, nil
	}

	res, err := newReconciler(f, today).SyncOne(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWrittenOff, res.Current)
	assert.Equal(t, 3, f.gateway.statusCalls)
}

func TestReconciler_DoesNotRetryNotFound(t *testing.T) {
	f := newIssuerFixture(sampleContract("ctr-1", 0, 3))
	b := issueOne(t, f, "ctr-1")
	f.gateway.status = func(int) (*domain.StatusDetail, error) {
		return nil, &domain.ErrNotFound{Resource: "bank slip", ID: b.BankNumber}
	}

	res, err := newReconciler(f, today).SyncOne(context.Background(), b.ID)
	var nf *domain.ErrNotFound
	require.ErrorAs(t, err, &nf)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 1, f.gateway.statusCalls)
}

func TestReconciler_SyncAll(t *testing.T) {
	f := newIssuerFixture(sampleContract("ctr-1", 0, 3), sampleContract("ctr-2", 0, 3), sampleContract("ctr-3", 0, 3))
	paid := issueOne(t, f, "ctr-1")
	issueOne(t, f, "ctr-2")
	broken := issueOne(t, f, "ctr-3")
	require.NoError(t, f.sim.SetStatus(covenant, paid.BankNumber, "LIQUIDADO", decimal.NewNullDecimal(paid.NominalValue)))

	// The third boleto vanishes at the bank; the sweep keeps going.
	f.gateway.BankSlipGateway = &vanishing{BankSlipGateway: f.sim, bankNumber: broken.BankNumber}

	report, err := newReconciler(f, today).SyncAll(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Results, 3)
}

type vanishing struct {
	port.BankSlipGateway
	bankNumber string
}

func (v *vanishing) QueryStatusByInternalNumber(ctx context.Context, beneficiaryCode, bankNumber string) (*domain.StatusDetail, error) {
	if bankNumber == v.bankNumber {
		return nil, &domain.ErrNotFound{Resource: "bank slip", ID: bankNumber}
	}
	return v.BankSlipGateway.QueryStatusByInternalNumber(ctx, beneficiaryCode, bankNumber)
}

func TestReconciler_RunStopsWithContext(t *testing.T) {
	f := newIssuerFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newReconciler(f, today).Run(ctx, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}

func TestReconciler_EvictsCachedStatusOnChange(t *testing.T) {
	f := newIssuerFixture(sampleContract("ctr-1", 0, 3))
	b := issueOne(t, f, "ctr-1")
	c := cache.New[*domain.StatusDetail](time.Minute)
	t.Cleanup(c.Close)
	svc := service.NewBoletoService(f.store, f.gateway, c, covenant, f.metrics, zap.NewNop())

	d, err := svc.LiveStatus(context.Background(), b.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.BankStatusActive, d.Status)

	require.NoError(t, f.sim.SetStatus(covenant, b.BankNumber, "LIQUIDADO", decimal.NewNullDecimal(b.NominalValue)))
	res, err := newReconcilerWithCache(f, c, today).SyncOne(context.Background(), b.ID)
	require.NoError(t, err)
	require.True(t, res.Changed)

	// The stale Active entry is gone; the next read goes to the bank.
	d, err = svc.LiveStatus(context.Background(), b.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.BankStatusSettled, d.Status)
	assert.Equal(t, 3, f.gateway.statusCalls)
}

// lostAnswer registers the slip at the bank and then fails as if the
// response timed out.
func lostAnswer(f *issuerFixture) func(b *domain.Boleto) (*domain.BankResponse, error) {
	return func(b *domain.Boleto) (*domain.BankResponse, error) {
		if _, err := f.sim.Register(context.Background(), b); err != nil {
			return nil, err
		}
		return nil, &domain.ErrProtocol{Operation: "register", Err: context.DeadlineExceeded}
	}
}

func TestReconciler_ResolvesUnconfirmedRegistration(t *testing.T) {
	f := newIssuerFixture(sampleContract("ctr-1", 0, 3))
	f.gateway.register = lostAnswer(f)
	b, err := f.issuer.IssueNext(context.Background(), "ctr-1", domain.IssueOptions{})
	require.Error(t, err)
	require.Equal(t, domain.StatusPending, b.Status)

	report, err := newReconciler(f, today.Add(time.Hour)).SyncAll(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, 1, f.gateway.queryCalls)

	stored, err := f.store.GetBoleto(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRegistered, stored.Status)
	assert.True(t, stored.Active)
	assert.NotEmpty(t, stored.Barcode)
	assert.NotEmpty(t, stored.DigitableLine)
}

func TestReconciler_UnconfirmedMissingAtBankIsReleased(t *testing.T) {
	f := newIssuerFixture(sampleContract("ctr-1", 0, 3))
	f.gateway.register = func(*domain.Boleto) (*domain.BankResponse, error) {
		return nil, &domain.ErrProtocol{Operation: "register", Status: 504}
	}
	b, err := f.issuer.IssueNext(context.Background(), "ctr-1", domain.IssueOptions{})
	require.Error(t, err)
	require.Equal(t, domain.StatusPending, b.Status)

	res, err := newReconciler(f, today.Add(time.Hour)).SyncOne(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, domain.StatusFailed, res.Current)

	stored, err := f.store.GetBoleto(context.Background(), b.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Contains(t, stored.ErrorMessage, "not found at bank")

	// The installment is free again.
	f.gateway.register = nil
	next, err := f.issuer.IssueNext(context.Background(), "ctr-1", domain.IssueOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, next.InstallmentNumber)
}

func TestReconciler_LeavesRecentPendingAlone(t *testing.T) {
	f := newIssuerFixture(sampleContract("ctr-1", 0, 3))
	f.gateway.register = lostAnswer(f)
	b, err := f.issuer.IssueNext(context.Background(), "ctr-1", domain.IssueOptions{})
	require.Error(t, err)

	res, err := newReconciler(f, today.Add(time.Minute)).SyncOne(context.Background(), b.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, domain.StatusPending, res.Current)
	assert.Zero(t, f.gateway.queryCalls)
}

func TestReconciler_UnconfirmedStaysPendingWhileBankUnreachable(t *testing.T) {
	f := newIssuerFixture(sampleContract("ctr-1", 0, 3))
	f.gateway.register = lostAnswer(f)
	b, err := f.issuer.IssueNext(context.Background(), "ctr-1", domain.IssueOptions{})
	require.Error(t, err)
	f.gateway.query = func(int) (*domain.BankResponse, error) {
		return nil, &domain.ErrProtocol{Operation: "query", Status: 503}
	}

	res, err := newReconciler(f, today.Add(time.Hour)).SyncOne(context.Background(), b.ID)
	require.Error(t, err)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 3, f.gateway.queryCalls)

	stored, err := f.store.GetBoleto(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.True(t, stored.Active)
}
