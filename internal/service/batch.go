package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/observability"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/port"
)

var batchTracer = otel.Tracer("service/batch")

// BatchIssuer issues the next installment of every eligible contract, one
// at a time, isolating per-contract failures into the run's audit log.
type BatchIssuer struct {
	contracts port.ContractSource
	runs      port.BatchRunStore
	issuer    *Issuer
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewBatchIssuer creates the batch service.
func NewBatchIssuer(contracts port.ContractSource, runs port.BatchRunStore, issuer *Issuer, metrics *observability.Metrics, logger *zap.Logger) *BatchIssuer {
	return &BatchIssuer{
		contracts: contracts,
		runs:      runs,
		issuer:    issuer,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *BatchIssuer) WithClock(now func() time.Time) *BatchIssuer {
	s.now = now
	return s
}

// Run executes one batch. The returned run is always finalized and
// persisted; the error is non-nil only when the run itself could not be
// recorded.
func (s *BatchIssuer) Run(ctx context.Context, triggeredBy string) (*domain.BatchRun, error) {
	ctx, span := batchTracer.Start(ctx, "BatchIssuer.Run")
	defer span.End()

	run := domain.NewBatchRun(uuid.New().String(), triggeredBy, s.now())
	if err := s.runs.CreateBatchRun(ctx, run); err != nil {
		return nil, fmt.Errorf("open batch run: %w", err)
	}
	log := s.logger.With(zap.String("batch_id", run.ID), zap.String("triggered_by", triggeredBy))
	log.Info("batch run started")

	fatal := s.process(ctx, run, log)

	// The audit record must be closed even when the caller went away.
	if err := run.Finalize(s.now(), fatal); err != nil {
		return run, err
	}
	if err := s.runs.FinalizeBatchRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error("failed to persist finalized batch run", zap.Error(err))
		return run, fmt.Errorf("finalize batch run: %w", err)
	}

	s.metrics.IncrBatchRun(run.Status)
	span.SetAttributes(
		attribute.Int("batch.processed", run.Processed),
		attribute.Int("batch.failed", run.Failed),
		attribute.String("batch.status", string(run.Status)),
	)
	log.Info("batch run finished",
		zap.String("status", string(run.Status)),
		zap.Int("processed", run.Processed),
		zap.Int("succeeded", run.Succeeded),
		zap.Int("failed", run.Failed),
		zap.String("total_value", run.TotalValue.StringFixed(2)),
		zap.Duration("duration", run.Duration),
	)
	return run, nil
}

// process walks the eligible contracts. It returns a fatal error only for
// conditions that stop the whole run.
func (s *BatchIssuer) process(ctx context.Context, run *domain.BatchRun, log *zap.Logger) error {
	if err := s.issuer.Available(); err != nil {
		log.Error("bank gateway unavailable; nothing issued", zap.Error(err))
		return fmt.Errorf("bank gateway unavailable: %w", err)
	}

	contracts, err := s.contracts.ListEligibleContracts(ctx)
	if err != nil {
		log.Error("eligible contracts query failed", zap.Error(err))
		return fmt.Errorf("list eligible contracts: %w", err)
	}
	log.Info("eligible contracts loaded", zap.Int("count", len(contracts)))

	for i := range contracts {
		if err := ctx.Err(); err != nil {
			log.Warn("batch run interrupted", zap.Int("remaining", len(contracts)-i), zap.Error(err))
			return fmt.Errorf("interrupted after %d of %d contracts: %w", i, len(contracts), err)
		}
		c := &contracts[i]

		b, err := s.issueOne(ctx, c)
		var certMissing *domain.ErrCertificateNotFound
		if errors.As(err, &certMissing) {
			log.Error("client certificate missing; batch stopped", zap.String("contract_id", c.ID), zap.Error(err))
			return fmt.Errorf("stopped after %d of %d contracts: %w", i, len(contracts), err)
		}
		if err != nil {
			run.RecordFailed(domain.FailedItem{
				ContractID: c.ID,
				PayerName:  c.Payer.Name,
				Error:      describe(err),
				At:         s.now(),
			})
			log.Warn("contract skipped", zap.String("contract_id", c.ID), zap.Error(err))
			continue
		}
		run.RecordIssued(domain.IssuedItem{
			BoletoID:          b.ID,
			ContractID:        c.ID,
			PayerName:         b.Payer.Name,
			InstallmentNumber: b.InstallmentNumber,
			InstallmentTotal:  b.InstallmentTotal,
			DueDate:           b.DueDate.Format(domain.DateLayout),
			Value:             b.NominalValue,
			ExternalReference: b.ExternalReference,
			Status:            b.Status,
		})
	}
	return nil
}

func (s *BatchIssuer) issueOne(ctx context.Context, c *domain.Contract) (*domain.Boleto, error) {
	if !c.Active {
		return nil, &domain.ErrArgument{Field: "contract", Message: "contract is not active"}
	}
	inst, err := s.issuer.NextInstallment(ctx, c)
	if err != nil {
		return nil, err
	}
	return s.issuer.Issue(ctx, c, inst, domain.IssueOptions{})
}

// Preview lists what Run would issue right now without touching the bank
// or the store.
func (s *BatchIssuer) Preview(ctx context.Context) (*domain.BatchPreview, error) {
	ctx, span := batchTracer.Start(ctx, "BatchIssuer.Preview")
	defer span.End()

	contracts, err := s.contracts.ListEligibleContracts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list eligible contracts: %w", err)
	}

	today := dateOnly(s.now())
	out := &domain.BatchPreview{Items: []domain.PreviewItem{}, Skipped: []domain.FailedItem{}, TotalValue: decimal.Zero}
	for i := range contracts {
		c := &contracts[i]
		if !c.Active {
			out.Skipped = append(out.Skipped, domain.FailedItem{ContractID: c.ID, PayerName: c.Payer.Name, Error: "contract is not active", At: today})
			continue
		}
		inst, err := s.issuer.NextInstallment(ctx, c)
		if err != nil {
			out.Skipped = append(out.Skipped, domain.FailedItem{ContractID: c.ID, PayerName: c.Payer.Name, Error: describe(err), At: today})
			continue
		}
		out.Items = append(out.Items, domain.PreviewItem{
			ContractID:        c.ID,
			FolderNumber:      c.FolderNumber,
			PayerName:         c.Payer.Name,
			PayerDocument:     domain.OnlyDigits(c.Payer.DocumentNumber),
			InstallmentNumber: inst.Number,
			InstallmentTotal:  inst.Total,
			DueDate:           inst.DueDate.Format(domain.DateLayout),
			Value:             inst.Value,
			DaysUntilDue:      int(dateOnly(inst.DueDate).Sub(today).Hours() / 24),
			Branch:            c.Branch,
		})
		out.TotalValue = out.TotalValue.Add(inst.Value)
	}
	out.Count = len(out.Items)
	return out, nil
}

// GetRun returns one batch run with its details.
func (s *BatchIssuer) GetRun(ctx context.Context, id string) (*domain.BatchRun, error) {
	ctx, span := batchTracer.Start(ctx, "BatchIssuer.GetRun")
	defer span.End()
	return s.runs.GetBatchRun(ctx, id)
}

// ListRuns returns batch runs, newest first.
func (s *BatchIssuer) ListRuns(ctx context.Context, page, pageSize int) ([]domain.BatchRun, int, error) {
	ctx, span := batchTracer.Start(ctx, "BatchIssuer.ListRuns")
	defer span.End()
	return s.runs.ListBatchRuns(ctx, page, pageSize)
}

// describe renders an error for the audit log, keeping the bank's own
// envelope when there is one.
func describe(err error) string {
	var regErr *domain.ErrRegistration
	if errors.As(err, &regErr) {
		return regErr.Bank.String()
	}
	return err.Error()
}
