package santander_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/santander"
)

func newSimulator() *santander.Simulator {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return santander.NewSimulator(santander.Config{CovenantCode: testCovenant}, zap.NewNop()).
		WithClock(func() time.Time { return now })
}

func TestSimulator_RegisterThenQueryIsRegistered(t *testing.T) {
	sim := newSimulator()
	b := sampleBoleto()

	resp, err := sim.Register(context.Background(), b)
	require.NoError(t, err)
	assert.Len(t, resp.Barcode, 44)
	assert.Regexp(t, regexp.MustCompile(`^\d{5}\.\d{5} \d{5}\.\d{6} \d{5}\.\d{6} \d \d{14}$`), resp.DigitableLine)
	assert.Equal(t, "https://pix.simulado.dev/qr/FAT000042", resp.PixURL)
	assert.Contains(t, resp.PixCode, "br.gov.bcb.pix")

	require.NoError(t, b.ApplyRegistration(resp, time.Now()))

	d, err := sim.QueryStatusByInternalNumber(context.Background(), testCovenant, b.BankNumber)
	require.NoError(t, err)
	status, ok := d.Status.Lifecycle(b.DueDate, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, domain.StatusRegistered, status)
	assert.Equal(t, b.Status, status)
}

func TestSimulator_RejectsReusedReference(t *testing.T) {
	sim := newSimulator()
	_, err := sim.Register(context.Background(), sampleBoleto())
	require.NoError(t, err)

	again := sampleBoleto()
	again.BankNumber = "1772000000999"
	_, err = sim.Register(context.Background(), again)
	var regErr *domain.ErrRegistration
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "nsuCode", regErr.Bank.Fields[0].Field)
}

func TestSimulator_CancelIsIdempotentFalse(t *testing.T) {
	sim := newSimulator()
	b := sampleBoleto()
	_, err := sim.Register(context.Background(), b)
	require.NoError(t, err)

	ok, err := sim.Cancel(context.Background(), testCovenant, b.BankNumber, b.ExternalReferenceDate)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sim.Cancel(context.Background(), testCovenant, b.BankNumber, b.ExternalReferenceDate)
	require.NoError(t, err)
	assert.False(t, ok)

	d, err := sim.QueryStatusByKind(context.Background(), testCovenant+"."+b.BankNumber, domain.QueryKindDefault)
	require.NoError(t, err)
	assert.Equal(t, domain.BankStatusCancelled, d.Status)
}

func TestSimulator_SettlementVisibleInStatus(t *testing.T) {
	sim := newSimulator()
	b := sampleBoleto()
	_, err := sim.Register(context.Background(), b)
	require.NoError(t, err)

	require.NoError(t, sim.SetStatus(testCovenant, b.BankNumber, "LIQUIDADO", decimal.NewNullDecimal(b.NominalValue)))

	ok, err := sim.Cancel(context.Background(), testCovenant, b.BankNumber, b.ExternalReferenceDate)
	require.NoError(t, err)
	assert.False(t, ok, "settled slips cannot be cancelled")

	d, err := sim.QueryStatusByClientReference(context.Background(), testCovenant, b.ClientNumber, b.DueDate, b.NominalValue)
	require.NoError(t, err)
	assert.Equal(t, domain.BankStatusSettled, d.Status)
	assert.Equal(t, "2026-03-01", d.SettlementDate)
	require.Len(t, d.Settlements, 1)
}

func TestSimulator_PrintableLink(t *testing.T) {
	sim := newSimulator()
	b := sampleBoleto()
	_, err := sim.Register(context.Background(), b)
	require.NoError(t, err)

	link, err := sim.PrintableLink(context.Background(), b.BankNumber, testCovenant, b.Payer.DocumentNumber)
	require.NoError(t, err)
	assert.Equal(t, santander.SimulatedPDF, link)

	_, err = sim.PrintableLink(context.Background(), "999", testCovenant, b.Payer.DocumentNumber)
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestDisabled_RefusesEverything(t *testing.T) {
	gw := santander.NewDisabled(&domain.ErrCertificateNotFound{Thumbprint: "AB", Tried: 4})

	_, err := gw.Register(context.Background(), sampleBoleto())
	var certErr *domain.ErrCertificateNotFound
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, 4, certErr.Tried)

	ok, err := gw.Cancel(context.Background(), testCovenant, "1", time.Now())
	assert.False(t, ok)
	assert.ErrorAs(t, err, &certErr)
}
