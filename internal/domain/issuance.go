package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Issuance requests & reconciliation outcomes
// ============================================================

// IssueOptions are the optional commercial terms of a single issuance.
type IssueOptions struct {
	ClientNumber         string              `json:"clientNumber,omitempty" validate:"omitempty,max=15"`
	FinePercentage       decimal.NullDecimal `json:"finePercentage"`
	FineQuantityDays     *int                `json:"fineQuantityDays,omitempty" validate:"omitempty,min=0,max=99"`
	InterestPercentage   decimal.NullDecimal `json:"interestPercentage"`
	DeductionValue       decimal.NullDecimal `json:"deductionValue"`
	WriteOffQuantityDays *int                `json:"writeOffQuantityDays,omitempty" validate:"omitempty,min=0,max=99"`
	Messages             []string            `json:"messages,omitempty" validate:"max=5,dive,max=100"`
}

// ManualIssueRequest issues one boleto for a contract outside the batch.
type ManualIssueRequest struct {
	ContractID string          `json:"contractId" validate:"required"`
	DueDate    time.Time       `json:"dueDate" validate:"required"`
	Value      decimal.Decimal `json:"value"`
	// Installment is optional; zero means an extra, unscheduled document.
	InstallmentNumber int          `json:"installmentNumber,omitempty" validate:"min=0"`
	Options           IssueOptions `json:"options"`
}

// SyncResult is the outcome of reconciling one boleto with the bank.
type SyncResult struct {
	BoletoID   string       `json:"boletoId"`
	Reference  string       `json:"reference"`
	Previous   BoletoStatus `json:"previous"`
	Current    BoletoStatus `json:"current"`
	BankStatus BankStatus   `json:"bankStatus,omitempty"`
	Changed    bool         `json:"changed"`
	Error      string       `json:"error,omitempty"`
}

// SyncReport aggregates a reconciliation sweep.
type SyncReport struct {
	Checked  int          `json:"checked"`
	Changed  int          `json:"changed"`
	Failed   int          `json:"failed"`
	Results  []SyncResult `json:"results"`
	Started  time.Time    `json:"startedAt"`
	Duration string       `json:"duration"`
}
