package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Boleto
// ============================================================

// DateLayout is the wire and storage layout for calendar dates.
const DateLayout = "2006-01-02"

// PayerSnapshot is the payer as captured at issuance. It is never
// re-derived from the contract afterwards.
type PayerSnapshot struct {
	Name           string `json:"name" validate:"required,max=40"`
	DocumentType   string `json:"documentType" validate:"required,oneof=CPF CNPJ"`
	DocumentNumber string `json:"documentNumber" validate:"required,numeric,max=15"`
	Address        string `json:"address" validate:"required,max=40"`
	Neighborhood   string `json:"neighborhood" validate:"required,max=30"`
	City           string `json:"city" validate:"required,max=20"`
	State          string `json:"state" validate:"required,len=2"`
	ZipCode        string `json:"zipCode" validate:"required,len=9"`
}

// Boleto is one billing document.
type Boleto struct {
	ID         string `json:"id"`
	ContractID string `json:"contractId" validate:"required"`

	// (ExternalReference, ExternalReferenceDate) is the registration idempotency key.
	ExternalReference     string    `json:"externalReference" validate:"required,max=20"`
	ExternalReferenceDate time.Time `json:"externalReferenceDate" validate:"required"`

	CovenantCode string          `json:"covenantCode" validate:"required,numeric,max=9"`
	BankNumber   string          `json:"bankNumber" validate:"required,numeric,max=13"`
	ClientNumber string          `json:"clientNumber,omitempty" validate:"max=15"`
	DueDate      time.Time       `json:"dueDate" validate:"required"`
	IssueDate    time.Time       `json:"issueDate" validate:"required"`
	NominalValue decimal.Decimal `json:"nominalValue"`
	DocumentKind string          `json:"documentKind"`

	Payer PayerSnapshot `json:"payer"`

	FinePercentage       decimal.NullDecimal `json:"finePercentage"`
	FineQuantityDays     *int                `json:"fineQuantityDays,omitempty"`
	InterestPercentage   decimal.NullDecimal `json:"interestPercentage"`
	DeductionValue       decimal.NullDecimal `json:"deductionValue"`
	WriteOffQuantityDays *int                `json:"writeOffQuantityDays,omitempty"`
	Messages             []string            `json:"messages,omitempty" validate:"max=5,dive,max=100"`

	Barcode       string     `json:"barcode,omitempty"`
	DigitableLine string     `json:"digitableLine,omitempty"`
	PixCode       string     `json:"pixCode,omitempty"`
	PixURL        string     `json:"pixUrl,omitempty"`
	EntryDate     *time.Time `json:"entryDate,omitempty"`

	Status       BoletoStatus `json:"status"`
	Active       bool         `json:"active"`
	ErrorCode    string       `json:"errorCode,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	TraceID      string       `json:"traceId,omitempty"`

	// Installment this document bills, when issued from a contract schedule.
	InstallmentNumber int `json:"installmentNumber,omitempty"`
	InstallmentTotal  int `json:"installmentTotal,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ReferenceKey renders the idempotency pair as a single string.
func (b *Boleto) ReferenceKey() string {
	return b.ExternalReference + "@" + b.ExternalReferenceDate.Format(DateLayout)
}

// ApplyRegistration captures the bank artifacts and moves the boleto to Registered.
func (b *Boleto) ApplyRegistration(resp *BankResponse, now time.Time) error {
	if err := b.Transition(StatusRegistered, now); err != nil {
		return err
	}
	b.Barcode = resp.Barcode
	b.DigitableLine = resp.DigitableLine
	b.PixCode = resp.PixCode
	b.PixURL = resp.PixURL
	b.EntryDate = resp.EntryDate
	if resp.BankNumber != "" {
		b.BankNumber = resp.BankNumber
	}
	b.Active = true
	b.ErrorCode, b.ErrorMessage, b.TraceID = "", "", ""
	return nil
}

// FillArtifacts sets any bank artifact still missing locally.
func (b *Boleto) FillArtifacts(d *StatusDetail) bool {
	changed := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&b.Barcode, d.Barcode)
	fill(&b.DigitableLine, d.DigitableLine)
	fill(&b.PixCode, d.PixCode)
	fill(&b.PixURL, d.PixURL)
	if b.EntryDate == nil && d.EntryDate != "" {
		if t, err := time.Parse(DateLayout, d.EntryDate); err == nil {
			b.EntryDate = &t
			changed = true
		}
	}
	return changed
}

// MarkFailed records a rejected registration. The row stays inactive so
// its reference is consumed and never minted again.
func (b *Boleto) MarkFailed(cause error, now time.Time) {
	b.Status = StatusFailed
	b.Active = false
	b.UpdatedAt = now

	var regErr *ErrRegistration
	var protoErr *ErrProtocol
	switch {
	case errors.As(cause, &regErr):
		b.ErrorCode = regErr.Bank.Code
		b.ErrorMessage = regErr.Bank.String()
		b.TraceID = regErr.Bank.TraceID
	case errors.As(cause, &protoErr) && protoErr.Bank != nil:
		b.ErrorCode = protoErr.Bank.Code
		b.ErrorMessage = protoErr.Error()
		b.TraceID = protoErr.Bank.TraceID
	default:
		b.ErrorMessage = cause.Error()
	}
}

// MarkUnconfirmed records a registration attempt whose outcome is unknown.
// The row stays Pending and active: it still holds its installment and is
// resolved later by querying the bank.
func (b *Boleto) MarkUnconfirmed(cause error, now time.Time) {
	b.UpdatedAt = now
	b.ErrorCode, b.TraceID = "", ""
	b.ErrorMessage = "registration unconfirmed: " + cause.Error()
}

// Transition moves the boleto to a new status if the lifecycle allows it.
func (b *Boleto) Transition(to BoletoStatus, now time.Time) error {
	if !b.Status.CanTransitionTo(to) {
		return &ErrInvalidTransition{From: b.Status, To: to}
	}
	if b.Status != to {
		b.Status = to
		b.UpdatedAt = now
	}
	if to.IsTerminal() && to != StatusSettled {
		b.Active = false
	}
	return nil
}
