package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/observability"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/port"
)

var issuerTracer = otel.Tracer("service/issuer")

// SequenceLockKey guards the read-last/compute-next reference window.
const SequenceLockKey = "boletos:reference-sequence"

// Issuer runs the single-document issuance path shared by the batch and
// manual flows: mint a reference, persist it as Pending, register it with
// the bank and record the outcome.
type Issuer struct {
	store     port.BoletoStore
	contracts port.ContractSource
	gateway   port.BankSlipGateway
	sequencer *IdentifierSequencer
	builder   *Builder
	locker    port.Locker
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewIssuer creates the issuance service.
func NewIssuer(
	store port.BoletoStore,
	contracts port.ContractSource,
	gateway port.BankSlipGateway,
	builder *Builder,
	locker port.Locker,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Issuer {
	return &Issuer{
		store:     store,
		contracts: contracts,
		gateway:   gateway,
		sequencer: NewIdentifierSequencer(store, logger),
		builder:   builder,
		locker:    locker,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Issuer) WithClock(now func() time.Time) *Issuer {
	s.now = now
	return s
}

// IssueNext issues the next scheduled installment of a contract.
func (s *Issuer) IssueNext(ctx context.Context, contractID string, opts domain.IssueOptions) (*domain.Boleto, error) {
	ctx, span := issuerTracer.Start(ctx, "Issuer.IssueNext")
	defer span.End()
	span.SetAttributes(attribute.String("contract.id", contractID))

	c, err := s.contracts.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	inst, err := s.NextInstallment(ctx, c)
	if err != nil {
		return nil, err
	}
	return s.Issue(ctx, c, inst, opts)
}

// IssueManual issues one document with an explicit due date and value.
func (s *Issuer) IssueManual(ctx context.Context, req domain.ManualIssueRequest) (*domain.Boleto, error) {
	ctx, span := issuerTracer.Start(ctx, "Issuer.IssueManual")
	defer span.End()
	span.SetAttributes(attribute.String("contract.id", req.ContractID))

	if req.ContractID == "" {
		return nil, &domain.ErrArgument{Field: "contractId", Message: "required"}
	}
	if req.DueDate.IsZero() {
		return nil, &domain.ErrArgument{Field: "dueDate", Message: "required"}
	}
	if !req.Value.IsPositive() {
		return nil, &domain.ErrArgument{Field: "value", Message: "must be greater than zero"}
	}

	c, err := s.contracts.GetContract(ctx, req.ContractID)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, &domain.ErrArgument{Field: "contractId", Message: "contract is not active"}
	}
	inst := domain.Installment{Number: req.InstallmentNumber, DueDate: req.DueDate, Value: req.Value}
	if req.InstallmentNumber > 0 {
		inst.Total = c.InstallmentCount
	}
	return s.Issue(ctx, c, inst, req.Options)
}

// NextInstallment computes the installment to bill next. The issued count
// is the larger of what the contract reports and what this store holds, so
// a lagging contract record never causes an installment to be billed twice.
func (s *Issuer) NextInstallment(ctx context.Context, c *domain.Contract) (domain.Installment, error) {
	issued, err := s.store.CountIssued(ctx, c.ID)
	if err != nil {
		return domain.Installment{}, fmt.Errorf("count issued boletos: %w", err)
	}
	view := *c
	if issued > view.InstallmentsIssued {
		view.InstallmentsIssued = issued
	}
	return view.NextInstallment()
}

// Available reports whether the bank gateway can take calls at all. A
// gateway without a client certificate fails here before any reference is
// minted.
func (s *Issuer) Available() error {
	if a, ok := s.gateway.(port.GatewayAvailability); ok {
		return a.Available()
	}
	return nil
}

// Issue mints a reference, persists the Pending boleto and registers it.
// A refused registration leaves the row Failed and inactive; its reference
// is consumed and never minted again. When the outcome is unknown (timeout,
// transport failure, 5xx) the row stays Pending and keeps its installment
// until the reconciler asks the bank what happened.
func (s *Issuer) Issue(ctx context.Context, c *domain.Contract, inst domain.Installment, opts domain.IssueOptions) (*domain.Boleto, error) {
	ctx, span := issuerTracer.Start(ctx, "Issuer.Issue")
	defer span.End()

	if err := s.Available(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncrIssuance("error")
		return nil, err
	}

	b, err := s.reserve(ctx, c, inst, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncrIssuance("error")
		return nil, err
	}
	span.SetAttributes(attribute.String("boleto.reference", b.ReferenceKey()))

	resp, regErr := s.gateway.Register(ctx, b)
	now := s.now()
	if regErr != nil {
		outcome := "unconfirmed"
		if domain.RegistrationRefused(regErr) {
			b.MarkFailed(regErr, now)
			outcome = "error"
			var rejected *domain.ErrRegistration
			if errors.As(regErr, &rejected) {
				outcome = "rejected"
			}
		} else {
			b.MarkUnconfirmed(regErr, now)
		}
		// Persist the outcome even if the caller gave up.
		if err := s.store.UpdateBoleto(context.WithoutCancel(ctx), b); err != nil {
			s.logger.Error("failed to persist registration outcome", zap.String("reference", b.ReferenceKey()), zap.Error(err))
		}
		s.metrics.IncrIssuance(outcome)
		s.logger.Warn("boleto registration failed",
			zap.String("boleto_id", b.ID),
			zap.String("contract_id", c.ID),
			zap.String("reference", b.ReferenceKey()),
			zap.String("status", string(b.Status)),
			zap.String("outcome", outcome),
			zap.Error(regErr),
		)
		span.RecordError(regErr)
		span.SetStatus(codes.Error, regErr.Error())
		return b, regErr
	}

	if err := b.ApplyRegistration(resp, now); err != nil {
		return b, err
	}
	if err := s.store.UpdateBoleto(context.WithoutCancel(ctx), b); err != nil {
		// Registered at the bank but not recorded locally; the operator must act.
		s.logger.Error("boleto registered at bank but local update failed",
			zap.String("boleto_id", b.ID),
			zap.String("reference", b.ReferenceKey()),
			zap.String("bank_number", b.BankNumber),
			zap.Error(err),
		)
		return b, fmt.Errorf("persist registered boleto %s: %w", b.ReferenceKey(), err)
	}

	s.metrics.IncrIssuance("registered")
	s.logger.Info("boleto issued",
		zap.String("boleto_id", b.ID),
		zap.String("contract_id", c.ID),
		zap.String("reference", b.ReferenceKey()),
		zap.String("value", b.NominalValue.StringFixed(2)),
		zap.String("due_date", b.DueDate.Format(domain.DateLayout)),
	)
	return b, nil
}

// reserve mints the next reference and persists the Pending row under the
// sequence lock, so the next mint observes it.
func (s *Issuer) reserve(ctx context.Context, c *domain.Contract, inst domain.Installment, opts domain.IssueOptions) (*domain.Boleto, error) {
	unlock, err := s.locker.Lock(ctx, SequenceLockKey)
	if err != nil {
		return nil, fmt.Errorf("acquire reference lock: %w", err)
	}
	defer unlock()

	ref, err := s.sequencer.Next(ctx)
	if err != nil {
		return nil, err
	}
	b, err := s.builder.Build(c, inst, ref, s.now(), opts)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateBoleto(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}
