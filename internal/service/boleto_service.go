package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/observability"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/port"
)

var boletoTracer = otel.Tracer("service/boleto")

const statusCacheName = "status"

// BoletoService exposes read, cancel and live-status operations over
// persisted boletos.
type BoletoService struct {
	store    port.BoletoStore
	gateway  port.BankSlipGateway
	cache    port.Cache[*domain.StatusDetail]
	covenant string
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewBoletoService creates the service. covenant is the beneficiary code
// used for live queries that are not tied to a stored boleto.
func NewBoletoService(
	store port.BoletoStore,
	gateway port.BankSlipGateway,
	statusCache port.Cache[*domain.StatusDetail],
	covenant string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *BoletoService {
	return &BoletoService{
		store:    store,
		gateway:  gateway,
		cache:    statusCache,
		covenant: covenant,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *BoletoService) Get(ctx context.Context, id string) (*domain.Boleto, error) {
	ctx, span := boletoTracer.Start(ctx, "BoletoService.Get")
	defer span.End()
	return s.store.GetBoleto(ctx, id)
}

func (s *BoletoService) List(ctx context.Context, filter port.BoletoFilter) ([]domain.Boleto, int, error) {
	ctx, span := boletoTracer.Start(ctx, "BoletoService.List")
	defer span.End()

	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, &domain.ErrArgument{Field: "status", Message: "unknown status " + string(filter.Status)}
	}
	return s.store.ListBoletos(ctx, filter)
}

// Cancel cancels a boleto. A boleto already in a terminal state yields
// false without contacting the bank. A Pending one is refused with
// ErrInvalidTransition: its registration is in flight or unconfirmed, and
// only the issuer or the reconciler may settle it.
func (s *BoletoService) Cancel(ctx context.Context, id string) (bool, error) {
	ctx, span := boletoTracer.Start(ctx, "BoletoService.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("boleto.id", id))

	b, err := s.store.GetBoleto(ctx, id)
	if err != nil {
		return false, err
	}
	if b.Status.IsTerminal() {
		s.logger.Info("cancel ignored: boleto already final", zap.String("boleto_id", id), zap.String("status", string(b.Status)))
		return false, nil
	}
	if !b.Status.CanTransitionTo(domain.StatusCancelled) {
		return false, &domain.ErrInvalidTransition{From: b.Status, To: domain.StatusCancelled}
	}

	ok, err := s.gateway.Cancel(ctx, b.CovenantCode, b.BankNumber, b.ExternalReferenceDate)
	if err != nil || !ok {
		return false, err
	}
	if err := b.Transition(domain.StatusCancelled, s.now()); err != nil {
		return false, err
	}
	if err := s.store.UpdateBoleto(context.WithoutCancel(ctx), b); err != nil {
		return false, err
	}
	s.cache.Delete(statusKey(b.CovenantCode, b.BankNumber))
	s.logger.Info("boleto cancelled", zap.String("boleto_id", id), zap.String("reference", b.ReferenceKey()))
	return true, nil
}

// LiveStatus asks the bank for the current status of a stored boleto.
// Default-kind results are cached briefly.
func (s *BoletoService) LiveStatus(ctx context.Context, id string, kind domain.QueryKind) (*domain.StatusDetail, error) {
	ctx, span := boletoTracer.Start(ctx, "BoletoService.LiveStatus")
	defer span.End()

	k, err := domain.ParseQueryKind(string(kind))
	if err != nil {
		return nil, err
	}
	b, err := s.store.GetBoleto(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == domain.StatusPending || b.Status == domain.StatusFailed {
		return nil, &domain.ErrNotFound{Resource: "bank slip", ID: b.ReferenceKey()}
	}
	if k == domain.QueryKindDefault {
		return s.StatusByInternalNumber(ctx, b.CovenantCode, b.BankNumber)
	}
	return s.gateway.QueryStatusByKind(ctx, b.CovenantCode+"."+b.BankNumber, k)
}

// StatusByInternalNumber queries by the bank-assigned number.
func (s *BoletoService) StatusByInternalNumber(ctx context.Context, beneficiaryCode, bankNumber string) (*domain.StatusDetail, error) {
	if beneficiaryCode == "" {
		beneficiaryCode = s.covenant
	}
	key := statusKey(beneficiaryCode, bankNumber)
	if d, ok := s.cache.Get(key); ok {
		s.metrics.IncrCacheHit(statusCacheName)
		return d, nil
	}
	s.metrics.IncrCacheMiss(statusCacheName)

	d, err := s.gateway.QueryStatusByInternalNumber(ctx, beneficiaryCode, bankNumber)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, d)
	return d, nil
}

// StatusByClientReference queries by the composite client key.
func (s *BoletoService) StatusByClientReference(ctx context.Context, beneficiaryCode, clientNumber string, dueDate time.Time, value decimal.Decimal) (*domain.StatusDetail, error) {
	ctx, span := boletoTracer.Start(ctx, "BoletoService.StatusByClientReference")
	defer span.End()
	if beneficiaryCode == "" {
		beneficiaryCode = s.covenant
	}
	return s.gateway.QueryStatusByClientReference(ctx, beneficiaryCode, clientNumber, dueDate, value)
}

// StatusByKind runs a typed detail query for a bill id.
func (s *BoletoService) StatusByKind(ctx context.Context, billID string, kind domain.QueryKind) (*domain.StatusDetail, error) {
	ctx, span := boletoTracer.Start(ctx, "BoletoService.StatusByKind")
	defer span.End()
	return s.gateway.QueryStatusByKind(ctx, billID, kind)
}

// PrintableLink returns the bank's PDF link for a registered boleto.
func (s *BoletoService) PrintableLink(ctx context.Context, id string) (string, error) {
	ctx, span := boletoTracer.Start(ctx, "BoletoService.PrintableLink")
	defer span.End()

	b, err := s.store.GetBoleto(ctx, id)
	if err != nil {
		return "", err
	}
	if b.Status == domain.StatusPending || b.Status == domain.StatusFailed || b.Status == domain.StatusCancelled {
		return "", &domain.ErrArgument{Field: "status", Message: "boleto is " + string(b.Status) + "; no printable form"}
	}
	return s.gateway.PrintableLink(ctx, b.BankNumber, b.CovenantCode, b.Payer.DocumentNumber)
}

// Dashboard summarises stored boletos: totals per status, open and settled
// value, and how many were created today and this month.
func (s *BoletoService) Dashboard(ctx context.Context) (*domain.Dashboard, error) {
	ctx, span := boletoTracer.Start(ctx, "BoletoService.Dashboard")
	defer span.End()

	now := s.now()
	totals, err := s.store.StatusTotals(ctx)
	if err != nil {
		return nil, err
	}
	today := midnight(now)
	createdToday, err := s.store.CountCreatedSince(ctx, today)
	if err != nil {
		return nil, err
	}
	createdThisMonth, err := s.store.CountCreatedSince(ctx, today.AddDate(0, 0, 1-today.Day()))
	if err != nil {
		return nil, err
	}
	return domain.NewDashboard(totals, createdToday, createdThisMonth, now), nil
}

// SettledByPeriod reports settlements per day over the last day, week or
// month, today included.
func (s *BoletoService) SettledByPeriod(ctx context.Context, period string) (*domain.SettlementReport, error) {
	ctx, span := boletoTracer.Start(ctx, "BoletoService.SettledByPeriod")
	defer span.End()

	p, err := domain.ParseSettlementPeriod(period)
	if err != nil {
		return nil, err
	}
	start := midnight(s.now()).AddDate(0, 0, 1-p.Days())
	settlements, err := s.store.ListSettledSince(ctx, start)
	if err != nil {
		return nil, err
	}
	return domain.NewSettlementReport(p, start, settlements), nil
}

// WithClock replaces the time source. Intended for tests.
func (s *BoletoService) WithClock(now func() time.Time) *BoletoService {
	s.now = now
	return s
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func statusKey(covenant, bankNumber string) string {
	return covenant + "/" + bankNumber
}
