package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Bank-side results, already translated from wire shapes
// ============================================================

// FieldError is one field-level entry of the bank's error envelope.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// BankError is the bank's structured error envelope, kept verbatim.
type BankError struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Details   string       `json:"details,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
	TraceID   string       `json:"traceId,omitempty"`
	Fields    []FieldError `json:"fields,omitempty"`
}

func (b BankError) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", b.Code, b.Message)
	if b.Details != "" {
		fmt.Fprintf(&sb, " - %s", b.Details)
	}
	for _, f := range b.Fields {
		fmt.Fprintf(&sb, "; %s: [%s] %s", f.Field, f.Code, f.Message)
	}
	if b.TraceID != "" {
		fmt.Fprintf(&sb, " (trace %s)", b.TraceID)
	}
	return sb.String()
}

// BankResponse is the outcome of a registration or of a direct query.
type BankResponse struct {
	Reference     string          `json:"reference"`
	ReferenceDate time.Time       `json:"referenceDate"`
	CovenantCode  string          `json:"covenantCode"`
	BankNumber    string          `json:"bankNumber"`
	ClientNumber  string          `json:"clientNumber,omitempty"`
	DueDate       *time.Time      `json:"dueDate,omitempty"`
	IssueDate     *time.Time      `json:"issueDate,omitempty"`
	EntryDate     *time.Time      `json:"entryDate,omitempty"`
	NominalValue  decimal.Decimal `json:"nominalValue"`
	Barcode       string          `json:"barcode,omitempty"`
	DigitableLine string          `json:"digitableLine,omitempty"`
	PixCode       string          `json:"pixCode,omitempty"`
	PixURL        string          `json:"pixUrl,omitempty"`
	RawStatus     string          `json:"rawStatus,omitempty"`
	Status        BankStatus      `json:"status,omitempty"`
}

// QueryKind selects one of the bank's detail views for a typed status query.
type QueryKind string

const (
	QueryKindDefault    QueryKind = "default"
	QueryKindDuplicate  QueryKind = "duplicate"
	QueryKindBankSlip   QueryKind = "bankslip"
	QueryKindSettlement QueryKind = "settlement"
	QueryKindRegistry   QueryKind = "registry"
)

var queryKinds = []QueryKind{
	QueryKindDefault, QueryKindDuplicate, QueryKindBankSlip, QueryKindSettlement, QueryKindRegistry,
}

// ParseQueryKind validates kind against the fixed allow-list.
func ParseQueryKind(kind string) (QueryKind, error) {
	k := QueryKind(strings.ToLower(strings.TrimSpace(kind)))
	if k == "" {
		return QueryKindDefault, nil
	}
	for _, allowed := range queryKinds {
		if k == allowed {
			return k, nil
		}
	}
	names := make([]string, len(queryKinds))
	for i, q := range queryKinds {
		names[i] = string(q)
	}
	return "", &ErrArgument{Field: "kind", Message: fmt.Sprintf("%q is not one of %s", kind, strings.Join(names, ", "))}
}

// PayerInfo is the payer as echoed by the bank.
type PayerInfo struct {
	Name           string `json:"name,omitempty"`
	DocumentType   string `json:"documentType,omitempty"`
	DocumentNumber string `json:"documentNumber,omitempty"`
	Address        string `json:"address,omitempty"`
	Neighborhood   string `json:"neighborhood,omitempty"`
	City           string `json:"city,omitempty"`
	State          string `json:"state,omitempty"`
	ZipCode        string `json:"zipCode,omitempty"`
}

// Settlement is one settlement or write-off entry.
type Settlement struct {
	Type   string              `json:"type,omitempty"`
	Date   string              `json:"date,omitempty"`
	Value  decimal.NullDecimal `json:"value"`
	Origin string              `json:"origin,omitempty"`
	Bank   string              `json:"bankCode,omitempty"`
	Branch string              `json:"bankBranch,omitempty"`
}

// RegistryInfo is the notary-registry view of a document.
type RegistryInfo struct {
	Date         string              `json:"date,omitempty"`
	Number       string              `json:"number,omitempty"`
	NotaryOffice string              `json:"notaryOffice,omitempty"`
	Cost         decimal.NullDecimal `json:"cost"`
}

// StatusDetail is the flat, uniform result of every status query shape.
type StatusDetail struct {
	BeneficiaryCode string              `json:"beneficiaryCode,omitempty"`
	BankNumber      string              `json:"bankNumber,omitempty"`
	ClientNumber    string              `json:"clientNumber,omitempty"`
	Reference       string              `json:"reference,omitempty"`
	ReferenceDate   string              `json:"referenceDate,omitempty"`
	RawStatus       string              `json:"rawStatus,omitempty"`
	Status          BankStatus          `json:"status,omitempty"`
	Description     string              `json:"description"`
	DueDate         string              `json:"dueDate,omitempty"`
	IssueDate       string              `json:"issueDate,omitempty"`
	EntryDate       string              `json:"entryDate,omitempty"`
	SettlementDate  string              `json:"settlementDate,omitempty"`
	NominalValue    decimal.NullDecimal `json:"nominalValue"`
	PaidValue       decimal.NullDecimal `json:"paidValue"`
	DiscountValue   decimal.NullDecimal `json:"discountValue"`
	FineValue       decimal.NullDecimal `json:"fineValue"`
	InterestValue   decimal.NullDecimal `json:"interestValue"`
	Payer           *PayerInfo          `json:"payer,omitempty"`
	PixCode         string              `json:"pixCode,omitempty"`
	PixURL          string              `json:"pixUrl,omitempty"`
	Barcode         string              `json:"barcode,omitempty"`
	DigitableLine   string              `json:"digitableLine,omitempty"`
	DocumentKind    string              `json:"documentKind,omitempty"`
	Messages        []string            `json:"messages,omitempty"`
	Settlements     []Settlement        `json:"settlements,omitempty"`
	Registry        *RegistryInfo       `json:"registry,omitempty"`
	Kind            string              `json:"kind"`
	QueriedAt       time.Time           `json:"queriedAt"`
}
