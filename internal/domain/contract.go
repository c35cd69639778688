package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Contract read model (owned by the CRUD layer)
// ============================================================

// ContractPayer is the payer identity a contract carries.
type ContractPayer struct {
	Name           string `json:"name"`
	DocumentType   string `json:"documentType"` // CPF or CNPJ
	DocumentNumber string `json:"documentNumber"`
	Address        string `json:"address"`
	Neighborhood   string `json:"neighborhood"`
	City           string `json:"city"`
	State          string `json:"state"`
	ZipCode        string `json:"zipCode"`
}

// Contract is the read-only view the issuance core consumes.
type Contract struct {
	ID                 string          `json:"id"`
	FolderNumber       string          `json:"folderNumber,omitempty"`
	Payer              ContractPayer   `json:"payer"`
	FirstDueDate       time.Time       `json:"firstDueDate"`
	InstallmentCount   int             `json:"installmentCount"`
	InstallmentValue   decimal.Decimal `json:"installmentValue"`
	InstallmentsIssued int             `json:"installmentsIssued"`
	Branch             string          `json:"branch,omitempty"`
	Active             bool            `json:"active"`
}

// Installment is the next document a contract should bill.
type Installment struct {
	Number  int
	Total   int
	DueDate time.Time
	Value   decimal.Decimal
}

// NextInstallment computes installment issued+1. Its due date is the first
// due date plus n-1 months, clamped to the end of the target month.
func (c *Contract) NextInstallment() (Installment, error) {
	n := c.InstallmentsIssued + 1
	if c.InstallmentCount <= 0 {
		return Installment{}, &ErrArgument{Field: "installmentCount", Message: "contract has no installments"}
	}
	if n > c.InstallmentCount {
		return Installment{}, &ErrArgument{
			Field:   "installmentsIssued",
			Message: fmt.Sprintf("all %d installments already issued", c.InstallmentCount),
		}
	}
	if !c.InstallmentValue.IsPositive() {
		return Installment{}, &ErrArgument{Field: "installmentValue", Message: "must be greater than zero"}
	}
	if c.FirstDueDate.IsZero() {
		return Installment{}, &ErrArgument{Field: "firstDueDate", Message: "missing"}
	}
	return Installment{
		Number:  n,
		Total:   c.InstallmentCount,
		DueDate: AddMonthsClamped(c.FirstDueDate, n-1),
		Value:   c.InstallmentValue,
	}, nil
}

// AddMonthsClamped adds months to t keeping the day of month when it
// exists and falling back to the last day of the target month otherwise.
func AddMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, t.Location())
}
