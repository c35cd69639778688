// Package postgres is the gorm-backed persistence sink for boletos and
// batch runs, plus a read-only view over the contract billing data.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/port"
)

var tracer = otel.Tracer("postgres")

var openStatuses = []string{
	string(domain.StatusRegistered),
	string(domain.StatusPastDue),
	string(domain.StatusPartiallySettled),
}

// Open connects to Postgres with duplicate-key translation enabled.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// OpenSQLite opens a SQLite database with the same schema, for local
// development without Postgres.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the tables this package owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&boletoModel{}, &batchRunModel{})
}

// MigrateContractView creates the contract billing table. In production
// the CRUD layer owns it; local databases need it created here.
func MigrateContractView(db *gorm.DB) error {
	return db.AutoMigrate(&contractRow{})
}

// Store implements port.Store over gorm.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore wraps an open connection.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

var _ port.Store = (*Store)(nil)

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ============================================================
// Boletos
// ============================================================

func (s *Store) CreateBoleto(ctx context.Context, b *domain.Boleto) error {
	ctx, span := tracer.Start(ctx, "Store.CreateBoleto")
	defer span.End()

	if err := s.conn(ctx).Create(toBoletoModel(b)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &domain.ErrDuplicate{Key: b.ReferenceKey()}
		}
		return fmt.Errorf("insert boleto: %w", err)
	}
	return nil
}

func (s *Store) UpdateBoleto(ctx context.Context, b *domain.Boleto) error {
	ctx, span := tracer.Start(ctx, "Store.UpdateBoleto")
	defer span.End()

	// Identity and the idempotency key never change after creation.
	res := s.conn(ctx).Model(&boletoModel{}).
		Where("id = ?", b.ID).
		Select("*").
		Omit("id", "contract_id", "nsu_code", "nsu_date", "created_at").
		Updates(toBoletoModel(b))
	if res.Error != nil {
		return fmt.Errorf("update boleto: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.ErrNotFound{Resource: "boleto", ID: b.ID}
	}
	return nil
}

func (s *Store) GetBoleto(ctx context.Context, id string) (*domain.Boleto, error) {
	ctx, span := tracer.Start(ctx, "Store.GetBoleto")
	defer span.End()

	var m boletoModel
	if err := s.conn(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ErrNotFound{Resource: "boleto", ID: id}
		}
		return nil, err
	}
	b := m.toDomain()
	return &b, nil
}

func (s *Store) ListBoletos(ctx context.Context, f port.BoletoFilter) ([]domain.Boleto, int, error) {
	ctx, span := tracer.Start(ctx, "Store.ListBoletos")
	defer span.End()

	q := s.conn(ctx).Model(&boletoModel{})
	if f.ContractID != "" {
		q = q.Where("contract_id = ?", f.ContractID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, size := normalizePage(f.Page, f.PageSize)
	var rows []boletoModel
	if err := q.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return boletos(rows), int(total), nil
}

func (s *Store) ListOpenBoletos(ctx context.Context, limit int) ([]domain.Boleto, error) {
	ctx, span := tracer.Start(ctx, "Store.ListOpenBoletos")
	defer span.End()

	var rows []boletoModel
	err := s.conn(ctx).
		Where("active = ? AND status IN ?", true, openStatuses).
		Order("due_date ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return boletos(rows), nil
}

func (s *Store) LatestReference(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "Store.LatestReference")
	defer span.End()

	var m boletoModel
	err := s.conn(ctx).Select("nsu_code").Order("created_at DESC").Order("nsu_code DESC").Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.NsuCode, nil
}

func (s *Store) CountIssued(ctx context.Context, contractID string) (int, error) {
	ctx, span := tracer.Start(ctx, "Store.CountIssued")
	defer span.End()

	var n int64
	err := s.conn(ctx).Model(&boletoModel{}).
		Where("contract_id = ? AND installment_number > 0 AND status <> ?", contractID, string(domain.StatusFailed)).
		Count(&n).Error
	return int(n), err
}

func (s *Store) ListUnconfirmedBoletos(ctx context.Context, before time.Time, limit int) ([]domain.Boleto, error) {
	ctx, span := tracer.Start(ctx, "Store.ListUnconfirmedBoletos")
	defer span.End()

	var rows []boletoModel
	err := s.conn(ctx).
		Where("active = ? AND status = ? AND updated_at < ?", true, string(domain.StatusPending), before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return boletos(rows), nil
}

// ============================================================
// Dashboard aggregates
// ============================================================

type statusTotalRow struct {
	Status string
	Count  int64
	Value  decimal.Decimal
}

func (s *Store) StatusTotals(ctx context.Context) ([]domain.StatusTotal, error) {
	ctx, span := tracer.Start(ctx, "Store.StatusTotals")
	defer span.End()

	var rows []statusTotalRow
	err := s.conn(ctx).Model(&boletoModel{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(nominal_value), 0) AS value").
		Group("status").
		Order("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate boletos by status: %w", err)
	}
	out := make([]domain.StatusTotal, len(rows))
	for i, r := range rows {
		out[i] = domain.StatusTotal{Status: domain.BoletoStatus(r.Status), Count: int(r.Count), Value: r.Value}
	}
	return out, nil
}

func (s *Store) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "Store.CountCreatedSince")
	defer span.End()

	var n int64
	err := s.conn(ctx).Model(&boletoModel{}).Where("created_at >= ?", since).Count(&n).Error
	return int(n), err
}

func (s *Store) ListSettledSince(ctx context.Context, since time.Time) ([]domain.SettledBoleto, error) {
	ctx, span := tracer.Start(ctx, "Store.ListSettledSince")
	defer span.End()

	var rows []boletoModel
	err := s.conn(ctx).
		Select("id", "nominal_value", "updated_at").
		Where("status = ? AND updated_at >= ?", string(domain.StatusSettled), since).
		Order("updated_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.SettledBoleto, len(rows))
	for i, r := range rows {
		out[i] = domain.SettledBoleto{BoletoID: r.ID, Value: r.NominalValue, SettledAt: r.UpdatedAt}
	}
	return out, nil
}

func boletos(rows []boletoModel) []domain.Boleto {
	out := make([]domain.Boleto, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out
}

// ============================================================
// Batch runs
// ============================================================

func (s *Store) CreateBatchRun(ctx context.Context, run *domain.BatchRun) error {
	ctx, span := tracer.Start(ctx, "Store.CreateBatchRun")
	defer span.End()
	return s.conn(ctx).Create(toBatchRunModel(run)).Error
}

// FinalizeBatchRun writes the closing state once. A second call finds no
// open row and fails with domain.ErrBatchFinalized.
func (s *Store) FinalizeBatchRun(ctx context.Context, run *domain.BatchRun) error {
	ctx, span := tracer.Start(ctx, "Store.FinalizeBatchRun")
	defer span.End()

	m := toBatchRunModel(run)
	res := s.conn(ctx).Model(&batchRunModel{}).
		Where("id = ? AND finished_at IS NULL", run.ID).
		Select("finished_at", "processed", "succeeded", "failed", "total_value", "details", "status", "duration_ms").
		Updates(m)
	if res.Error != nil {
		return fmt.Errorf("finalize batch run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetBatchRun(ctx, run.ID); err != nil {
			return err
		}
		return domain.ErrBatchFinalized
	}
	return nil
}

func (s *Store) GetBatchRun(ctx context.Context, id string) (*domain.BatchRun, error) {
	ctx, span := tracer.Start(ctx, "Store.GetBatchRun")
	defer span.End()

	var m batchRunModel
	if err := s.conn(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ErrNotFound{Resource: "batch run", ID: id}
		}
		return nil, err
	}
	r := m.toDomain()
	return &r, nil
}

func (s *Store) ListBatchRuns(ctx context.Context, page, pageSize int) ([]domain.BatchRun, int, error) {
	ctx, span := tracer.Start(ctx, "Store.ListBatchRuns")
	defer span.End()

	var total int64
	if err := s.conn(ctx).Model(&batchRunModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page, size := normalizePage(page, pageSize)
	var rows []batchRunModel
	if err := s.conn(ctx).Order("started_at DESC").Offset((page - 1) * size).Limit(size).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]domain.BatchRun, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, int(total), nil
}

// ============================================================
// Contracts (read-only)
// ============================================================

// ContractView reads the billing view of contracts.
type ContractView struct {
	db *gorm.DB
}

// NewContractView wraps an open connection.
func NewContractView(db *gorm.DB) *ContractView {
	return &ContractView{db: db}
}

var _ port.ContractSource = (*ContractView)(nil)

func (v *ContractView) ListEligibleContracts(ctx context.Context) ([]domain.Contract, error) {
	ctx, span := tracer.Start(ctx, "ContractView.ListEligibleContracts")
	defer span.End()

	var rows []contractRow
	err := v.db.WithContext(ctx).
		Where("active = ? AND installments_issued < installment_count", true).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Contract, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (v *ContractView) GetContract(ctx context.Context, id string) (*domain.Contract, error) {
	ctx, span := tracer.Start(ctx, "ContractView.GetContract")
	defer span.End()

	var r contractRow
	if err := v.db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ErrNotFound{Resource: "contract", ID: id}
		}
		return nil, err
	}
	c := r.toDomain()
	return &c, nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size
}
