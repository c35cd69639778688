package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/observability"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/resilience"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/port"
)

var reconcileTracer = otel.Tracer("service/reconciler")

// defaultSweepLimit bounds how many open boletos one sweep checks.
const defaultSweepLimit = 500

// DefaultPendingGrace is how long a Pending boleto is left alone before the
// reconciler asks the bank whether its registration went through. It must
// exceed the longest registration call.
const DefaultPendingGrace = 15 * time.Minute

// Reconciler pulls bank-side status for open boletos and applies it
// forward-only. It also settles registrations whose outcome was never
// heard. Status reads are idempotent, so this caller retries them.
type Reconciler struct {
	store   port.BoletoStore
	gateway port.BankSlipGateway
	cache   port.Cache[*domain.StatusDetail]
	retry   resilience.Config
	grace   time.Duration
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewReconciler creates the reconciliation service. statusCache is the
// cache BoletoService reads live status from; changed boletos are evicted.
func NewReconciler(
	store port.BoletoStore,
	gateway port.BankSlipGateway,
	statusCache port.Cache[*domain.StatusDetail],
	retry resilience.Config,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		store:   store,
		gateway: gateway,
		cache:   statusCache,
		retry:   retry,
		grace:   DefaultPendingGrace,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// WithPendingGrace overrides DefaultPendingGrace.
func (r *Reconciler) WithPendingGrace(d time.Duration) *Reconciler {
	r.grace = d
	return r
}

// SyncOne reconciles a single boleto by id.
func (r *Reconciler) SyncOne(ctx context.Context, id string) (*domain.SyncResult, error) {
	ctx, span := reconcileTracer.Start(ctx, "Reconciler.SyncOne")
	defer span.End()
	span.SetAttributes(attribute.String("boleto.id", id))

	b, err := r.store.GetBoleto(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == domain.StatusPending && b.Active && b.UpdatedAt.Before(r.now().Add(-r.grace)) {
		return r.resolve(ctx, b)
	}
	if !b.Status.IsOpen() {
		return &domain.SyncResult{BoletoID: b.ID, Reference: b.ReferenceKey(), Previous: b.Status, Current: b.Status}, nil
	}
	return r.sync(ctx, b)
}

// SyncAll reconciles up to limit open boletos. One failure never stops the
// sweep; it is reported in the result list.
func (r *Reconciler) SyncAll(ctx context.Context, limit int) (*domain.SyncReport, error) {
	ctx, span := reconcileTracer.Start(ctx, "Reconciler.SyncAll")
	defer span.End()

	if limit <= 0 {
		limit = defaultSweepLimit
	}
	unconfirmed, err := r.store.ListUnconfirmedBoletos(ctx, r.now().Add(-r.grace), limit)
	if err != nil {
		return nil, err
	}
	open, err := r.store.ListOpenBoletos(ctx, limit)
	if err != nil {
		return nil, err
	}

	report := &domain.SyncReport{Results: make([]domain.SyncResult, 0, len(unconfirmed)+len(open)), Started: r.now()}
	for i := range unconfirmed {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := r.resolve(ctx, &unconfirmed[i])
		report.Checked++
		switch {
		case err != nil:
			report.Failed++
		case res.Changed:
			report.Changed++
		}
		report.Results = append(report.Results, *res)
	}
	for i := range open {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := r.sync(ctx, &open[i])
		report.Checked++
		switch {
		case err != nil:
			report.Failed++
		case res.Changed:
			report.Changed++
		}
		report.Results = append(report.Results, *res)
	}
	report.Duration = r.now().Sub(report.Started).String()

	span.SetAttributes(attribute.Int("sync.checked", report.Checked), attribute.Int("sync.changed", report.Changed))
	r.logger.Info("reconciliation sweep finished",
		zap.Int("checked", report.Checked),
		zap.Int("changed", report.Changed),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// Run sweeps every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.SyncAll(ctx, defaultSweepLimit); err != nil && ctx.Err() == nil {
				r.logger.Error("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) sync(ctx context.Context, b *domain.Boleto) (*domain.SyncResult, error) {
	res := &domain.SyncResult{BoletoID: b.ID, Reference: b.ReferenceKey(), Previous: b.Status, Current: b.Status}

	var detail *domain.StatusDetail
	err := resilience.RetryWithBackoff(ctx, r.retry, func() error {
		d, err := r.gateway.QueryStatusByInternalNumber(ctx, b.CovenantCode, b.BankNumber)
		if err != nil {
			if !retryable(err) {
				return resilience.Permanent(err)
			}
			return err
		}
		detail = d
		return nil
	})
	if err != nil {
		r.metrics.IncrReconciled("error")
		res.Error = err.Error()
		r.logger.Warn("status query failed during reconciliation",
			zap.String("boleto_id", b.ID), zap.String("bank_number", b.BankNumber), zap.Error(err))
		return res, err
	}
	res.BankStatus = detail.Status

	changed := b.FillArtifacts(detail)
	now := r.now()
	if target, ok := detail.Status.Lifecycle(b.DueDate, now); ok && target != b.Status {
		if b.Status.CanTransitionTo(target) {
			_ = b.Transition(target, now)
			changed = true
		} else {
			r.logger.Warn("ignoring backward status reported by bank",
				zap.String("boleto_id", b.ID),
				zap.String("local", string(b.Status)),
				zap.String("bank", string(detail.Status)),
			)
		}
	}

	if !changed {
		r.metrics.IncrReconciled("unchanged")
		return res, nil
	}
	b.UpdatedAt = now
	return r.persist(ctx, b, res)
}

// resolve asks the bank whether an unconfirmed registration exists. Found
// means Registered (or whatever the bank reports since); not found means
// the attempt never landed, so the row is Failed and its installment is
// free to be billed again.
func (r *Reconciler) resolve(ctx context.Context, b *domain.Boleto) (*domain.SyncResult, error) {
	ctx, span := reconcileTracer.Start(ctx, "Reconciler.resolve")
	defer span.End()
	span.SetAttributes(attribute.String("boleto.reference", b.ReferenceKey()))

	res := &domain.SyncResult{BoletoID: b.ID, Reference: b.ReferenceKey(), Previous: b.Status, Current: b.Status}

	var resp *domain.BankResponse
	err := resilience.RetryWithBackoff(ctx, r.retry, func() error {
		got, err := r.gateway.Query(ctx, b.CovenantCode, b.BankNumber, b.ExternalReferenceDate)
		if err != nil {
			if !retryable(err) {
				return resilience.Permanent(err)
			}
			return err
		}
		resp = got
		return nil
	})

	now := r.now()
	var notFound *domain.ErrNotFound
	switch {
	case errors.As(err, &notFound):
		b.MarkFailed(fmt.Errorf("registration not found at bank: %w", err), now)
		r.logger.Warn("unconfirmed registration never reached the bank; reference released",
			zap.String("boleto_id", b.ID), zap.String("reference", b.ReferenceKey()))
	case err != nil:
		r.metrics.IncrReconciled("error")
		res.Error = err.Error()
		r.logger.Warn("bank query failed while resolving unconfirmed registration",
			zap.String("boleto_id", b.ID), zap.String("reference", b.ReferenceKey()), zap.Error(err))
		return res, err
	default:
		if err := b.ApplyRegistration(resp, now); err != nil {
			res.Error = err.Error()
			return res, err
		}
		res.BankStatus = resp.Status
		if target, ok := resp.Status.Lifecycle(b.DueDate, now); ok && target != b.Status && b.Status.CanTransitionTo(target) {
			_ = b.Transition(target, now)
		}
		r.logger.Info("unconfirmed registration found at bank",
			zap.String("boleto_id", b.ID), zap.String("reference", b.ReferenceKey()), zap.String("bank_status", string(resp.Status)))
	}
	return r.persist(ctx, b, res)
}

func (r *Reconciler) persist(ctx context.Context, b *domain.Boleto, res *domain.SyncResult) (*domain.SyncResult, error) {
	if err := r.store.UpdateBoleto(ctx, b); err != nil {
		r.metrics.IncrReconciled("error")
		res.Error = err.Error()
		return res, err
	}
	r.cache.Delete(statusKey(b.CovenantCode, b.BankNumber))

	res.Current = b.Status
	res.Changed = true
	r.metrics.IncrReconciled("changed")
	r.logger.Info("boleto reconciled",
		zap.String("boleto_id", b.ID),
		zap.String("from", string(res.Previous)),
		zap.String("to", string(res.Current)),
	)
	return res, nil
}

// retryable reports whether a failed status read may succeed on a retry.
func retryable(err error) bool {
	var (
		protoErr *domain.ErrProtocol
		authErr  *domain.ErrAuthenticationFailed
	)
	return errors.As(err, &protoErr) || errors.As(err, &authErr)
}
