package postgres

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
)

// boletoModel is the persisted shape of a boleto. The (nsu_code, nsu_date)
// unique index is the registration idempotency key.
type boletoModel struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	ContractID string `gorm:"type:varchar(64);not null;index"`

	NsuCode string    `gorm:"type:varchar(20);not null;uniqueIndex:ux_boletos_nsu"`
	NsuDate time.Time `gorm:"type:date;not null;uniqueIndex:ux_boletos_nsu"`

	CovenantCode string          `gorm:"type:varchar(9);not null"`
	BankNumber   string          `gorm:"type:varchar(13);not null;index"`
	ClientNumber string          `gorm:"type:varchar(15)"`
	DueDate      time.Time       `gorm:"type:date;not null;index"`
	IssueDate    time.Time       `gorm:"type:date;not null"`
	NominalValue decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	DocumentKind string          `gorm:"type:varchar(40)"`

	PayerName           string `gorm:"type:varchar(40);not null"`
	PayerDocumentType   string `gorm:"type:varchar(4);not null"`
	PayerDocumentNumber string `gorm:"type:varchar(15);not null"`
	PayerAddress        string `gorm:"type:varchar(40)"`
	PayerNeighborhood   string `gorm:"type:varchar(30)"`
	PayerCity           string `gorm:"type:varchar(20)"`
	PayerState          string `gorm:"type:char(2)"`
	PayerZipCode        string `gorm:"type:varchar(9)"`

	FinePercentage       decimal.NullDecimal `gorm:"type:numeric(5,2)"`
	FineQuantityDays     *int
	InterestPercentage   decimal.NullDecimal `gorm:"type:numeric(5,2)"`
	DeductionValue       decimal.NullDecimal `gorm:"type:numeric(15,2)"`
	WriteOffQuantityDays *int
	Messages             datatypes.JSONSlice[string]

	Barcode       string `gorm:"type:varchar(44)"`
	DigitableLine string `gorm:"type:varchar(60)"`
	PixCode       string `gorm:"type:text"`
	PixURL        string `gorm:"type:text"`
	EntryDate     *time.Time

	Status       string `gorm:"type:varchar(20);not null;index"`
	Active       bool   `gorm:"not null;index"`
	ErrorCode    string `gorm:"type:varchar(40)"`
	ErrorMessage string `gorm:"type:text"`
	TraceID      string `gorm:"type:varchar(80)"`

	InstallmentNumber int
	InstallmentTotal  int

	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (boletoModel) TableName() string { return "boletos" }

func toBoletoModel(b *domain.Boleto) *boletoModel {
	return &boletoModel{
		ID:                   b.ID,
		ContractID:           b.ContractID,
		NsuCode:              b.ExternalReference,
		NsuDate:              b.ExternalReferenceDate,
		CovenantCode:         b.CovenantCode,
		BankNumber:           b.BankNumber,
		ClientNumber:         b.ClientNumber,
		DueDate:              b.DueDate,
		IssueDate:            b.IssueDate,
		NominalValue:         b.NominalValue,
		DocumentKind:         b.DocumentKind,
		PayerName:            b.Payer.Name,
		PayerDocumentType:    b.Payer.DocumentType,
		PayerDocumentNumber:  b.Payer.DocumentNumber,
		PayerAddress:         b.Payer.Address,
		PayerNeighborhood:    b.Payer.Neighborhood,
		PayerCity:            b.Payer.City,
		PayerState:           b.Payer.State,
		PayerZipCode:         b.Payer.ZipCode,
		FinePercentage:       b.FinePercentage,
		FineQuantityDays:     b.FineQuantityDays,
		InterestPercentage:   b.InterestPercentage,
		DeductionValue:       b.DeductionValue,
		WriteOffQuantityDays: b.WriteOffQuantityDays,
		Messages:             datatypes.NewJSONSlice(b.Messages),
		Barcode:              b.Barcode,
		DigitableLine:        b.DigitableLine,
		PixCode:              b.PixCode,
		PixURL:               b.PixURL,
		EntryDate:            b.EntryDate,
		Status:               string(b.Status),
		Active:               b.Active,
		ErrorCode:            b.ErrorCode,
		ErrorMessage:         b.ErrorMessage,
		TraceID:              b.TraceID,
		InstallmentNumber:    b.InstallmentNumber,
		InstallmentTotal:     b.InstallmentTotal,
		CreatedAt:            b.CreatedAt,
		UpdatedAt:            b.UpdatedAt,
	}
}

func (m *boletoModel) toDomain() domain.Boleto {
	return domain.Boleto{
		ID:                    m.ID,
		ContractID:            m.ContractID,
		ExternalReference:     m.NsuCode,
		ExternalReferenceDate: m.NsuDate.UTC(),
		CovenantCode:          m.CovenantCode,
		BankNumber:            m.BankNumber,
		ClientNumber:          m.ClientNumber,
		DueDate:               m.DueDate.UTC(),
		IssueDate:             m.IssueDate.UTC(),
		NominalValue:          m.NominalValue,
		DocumentKind:          m.DocumentKind,
		Payer: domain.PayerSnapshot{
			Name:           m.PayerName,
			DocumentType:   m.PayerDocumentType,
			DocumentNumber: m.PayerDocumentNumber,
			Address:        m.PayerAddress,
			Neighborhood:   m.PayerNeighborhood,
			City:           m.PayerCity,
			State:          m.PayerState,
			ZipCode:        m.PayerZipCode,
		},
		FinePercentage:       m.FinePercentage,
		FineQuantityDays:     m.FineQuantityDays,
		InterestPercentage:   m.InterestPercentage,
		DeductionValue:       m.DeductionValue,
		WriteOffQuantityDays: m.WriteOffQuantityDays,
		Messages:             []string(m.Messages),
		Barcode:              m.Barcode,
		DigitableLine:        m.DigitableLine,
		PixCode:              m.PixCode,
		PixURL:               m.PixURL,
		EntryDate:            m.EntryDate,
		Status:               domain.BoletoStatus(m.Status),
		Active:               m.Active,
		ErrorCode:            m.ErrorCode,
		ErrorMessage:         m.ErrorMessage,
		TraceID:              m.TraceID,
		InstallmentNumber:    m.InstallmentNumber,
		InstallmentTotal:     m.InstallmentTotal,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

// batchRunModel is the audit log row. Details is a JSON blob.
type batchRunModel struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)"`
	StartedAt   time.Time  `gorm:"not null;index"`
	FinishedAt  *time.Time `gorm:"index"`
	TriggeredBy string     `gorm:"type:varchar(120)"`
	Processed   int
	Succeeded   int
	Failed      int
	TotalValue  decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	Details     datatypes.JSONType[domain.BatchDetails]
	Status      string `gorm:"type:varchar(10);not null"`
	DurationMs  int64
}

func (batchRunModel) TableName() string { return "boleto_batch_runs" }

func toBatchRunModel(r *domain.BatchRun) *batchRunModel {
	return &batchRunModel{
		ID:          r.ID,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		TriggeredBy: r.TriggeredBy,
		Processed:   r.Processed,
		Succeeded:   r.Succeeded,
		Failed:      r.Failed,
		TotalValue:  r.TotalValue,
		Details:     datatypes.NewJSONType(r.Details),
		Status:      string(r.Status),
		DurationMs:  r.Duration.Milliseconds(),
	}
}

func (m *batchRunModel) toDomain() domain.BatchRun {
	return domain.BatchRun{
		ID:          m.ID,
		StartedAt:   m.StartedAt,
		FinishedAt:  m.FinishedAt,
		TriggeredBy: m.TriggeredBy,
		Processed:   m.Processed,
		Succeeded:   m.Succeeded,
		Failed:      m.Failed,
		TotalValue:  m.TotalValue,
		Details:     m.Details.Data(),
		Status:      domain.BatchStatus(m.Status),
		Duration:    time.Duration(m.DurationMs) * time.Millisecond,
	}
}

// contractRow is the billing view the contract CRUD layer exposes. This
// package only reads it.
type contractRow struct {
	ID                  string `gorm:"primaryKey"`
	FolderNumber        string
	PayerName           string
	PayerDocumentType   string
	PayerDocumentNumber string
	PayerAddress        string
	PayerNeighborhood   string
	PayerCity           string
	PayerState          string
	PayerZipCode        string
	FirstDueDate        time.Time
	InstallmentCount    int
	InstallmentValue    decimal.Decimal `gorm:"type:numeric(15,2)"`
	InstallmentsIssued  int
	Branch              string
	Active              bool
}

func (contractRow) TableName() string { return "contract_billing_view" }

func (r *contractRow) toDomain() domain.Contract {
	return domain.Contract{
		ID:           r.ID,
		FolderNumber: r.FolderNumber,
		Payer: domain.ContractPayer{
			Name:           r.PayerName,
			DocumentType:   r.PayerDocumentType,
			DocumentNumber: r.PayerDocumentNumber,
			Address:        r.PayerAddress,
			Neighborhood:   r.PayerNeighborhood,
			City:           r.PayerCity,
			State:          r.PayerState,
			ZipCode:        r.PayerZipCode,
		},
		FirstDueDate:       r.FirstDueDate.UTC(),
		InstallmentCount:   r.InstallmentCount,
		InstallmentValue:   r.InstallmentValue,
		InstallmentsIssued: r.InstallmentsIssued,
		Branch:             r.Branch,
		Active:             r.Active,
	}
}
