// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
)

// BankSlipGateway is the protocol client for the bank's collection API.
// Implemented by santander.Gateway, santander.Simulator and santander.Disabled.
type BankSlipGateway interface {
	// Register is not safe to replay with the same reference.
	Register(ctx context.Context, b *domain.Boleto) (*domain.BankResponse, error)
	Query(ctx context.Context, covenantCode, bankNumber string, referenceDate time.Time) (*domain.BankResponse, error)
	// Cancel returns false, nil when the bank refuses (already settled or cancelled).
	Cancel(ctx context.Context, covenantCode, bankNumber string, referenceDate time.Time) (bool, error)

	QueryStatusByInternalNumber(ctx context.Context, beneficiaryCode, bankNumber string) (*domain.StatusDetail, error)
	QueryStatusByClientReference(ctx context.Context, beneficiaryCode, clientNumber string, dueDate time.Time, nominalValue decimal.Decimal) (*domain.StatusDetail, error)
	QueryStatusByKind(ctx context.Context, billID string, kind domain.QueryKind) (*domain.StatusDetail, error)

	PrintableLink(ctx context.Context, bankNumber, covenantCode, payerDocument string) (string, error)
}

// GatewayAvailability is implemented by gateways that know up front that
// every bank call would fail.
type GatewayAvailability interface {
	Available() error
}

// BoletoStore persists billing documents.
type BoletoStore interface {
	// CreateBoleto fails with *domain.ErrDuplicate when the reference pair is taken.
	CreateBoleto(ctx context.Context, b *domain.Boleto) error
	UpdateBoleto(ctx context.Context, b *domain.Boleto) error
	GetBoleto(ctx context.Context, id string) (*domain.Boleto, error)
	ListBoletos(ctx context.Context, filter BoletoFilter) ([]domain.Boleto, int, error)
	// ListOpenBoletos returns active boletos the bank may still change.
	ListOpenBoletos(ctx context.Context, limit int) ([]domain.Boleto, error)
	// LatestReference returns "" when nothing was persisted yet.
	LatestReference(ctx context.Context) (string, error)
	// CountIssued counts non-failed boletos of a contract, unconfirmed ones included.
	CountIssued(ctx context.Context, contractID string) (int, error)
	// ListUnconfirmedBoletos returns active Pending boletos last touched
	// before the given instant: registrations whose outcome is unknown.
	ListUnconfirmedBoletos(ctx context.Context, before time.Time, limit int) ([]domain.Boleto, error)

	StatusTotals(ctx context.Context) ([]domain.StatusTotal, error)
	CountCreatedSince(ctx context.Context, since time.Time) (int, error)
	// ListSettledSince returns settled boletos whose last update is at or after since.
	ListSettledSince(ctx context.Context, since time.Time) ([]domain.SettledBoleto, error)
}

// BoletoFilter narrows ListBoletos.
type BoletoFilter struct {
	ContractID string
	Status     domain.BoletoStatus
	Page       int
	PageSize   int
}

// BatchRunStore persists batch audit logs.
type BatchRunStore interface {
	CreateBatchRun(ctx context.Context, run *domain.BatchRun) error
	// FinalizeBatchRun fails with domain.ErrBatchFinalized when the run is already closed.
	FinalizeBatchRun(ctx context.Context, run *domain.BatchRun) error
	GetBatchRun(ctx context.Context, id string) (*domain.BatchRun, error)
	ListBatchRuns(ctx context.Context, page, pageSize int) ([]domain.BatchRun, int, error)
}

// Store is the full persistence sink.
type Store interface {
	BoletoStore
	BatchRunStore
	Ping(ctx context.Context) error
}

// ContractSource is the read-only contract lookup owned by the CRUD layer.
type ContractSource interface {
	ListEligibleContracts(ctx context.Context) ([]domain.Contract, error)
	GetContract(ctx context.Context, id string) (*domain.Contract, error)
}

// Locker provides the mutual-exclusion boundary around reference minting.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
