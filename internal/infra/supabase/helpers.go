package supabase

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
)

// ============================================================
// Row shapes (snake_case columns as PostgREST returns them)
// ============================================================

type boletoRow struct {
	ID                   string              `json:"id"`
	ContractID           string              `json:"contract_id"`
	NsuCode              string              `json:"nsu_code"`
	NsuDate              string              `json:"nsu_date"`
	CovenantCode         string              `json:"covenant_code"`
	BankNumber           string              `json:"bank_number"`
	ClientNumber         string              `json:"client_number"`
	DueDate              string              `json:"due_date"`
	IssueDate            string              `json:"issue_date"`
	NominalValue         decimal.Decimal     `json:"nominal_value"`
	DocumentKind         string              `json:"document_kind"`
	PayerName            string              `json:"payer_name"`
	PayerDocumentType    string              `json:"payer_document_type"`
	PayerDocumentNumber  string              `json:"payer_document_number"`
	PayerAddress         string              `json:"payer_address"`
	PayerNeighborhood    string              `json:"payer_neighborhood"`
	PayerCity            string              `json:"payer_city"`
	PayerState           string              `json:"payer_state"`
	PayerZipCode         string              `json:"payer_zip_code"`
	FinePercentage       decimal.NullDecimal `json:"fine_percentage"`
	FineQuantityDays     *int                `json:"fine_quantity_days"`
	InterestPercentage   decimal.NullDecimal `json:"interest_percentage"`
	DeductionValue       decimal.NullDecimal `json:"deduction_value"`
	WriteOffQuantityDays *int                `json:"write_off_quantity_days"`
	Messages             []string            `json:"messages"`
	Barcode              string              `json:"barcode"`
	DigitableLine        string              `json:"digitable_line"`
	PixCode              string              `json:"pix_code"`
	PixURL               string              `json:"pix_url"`
	EntryDate            *string             `json:"entry_date"`
	Status               string              `json:"status"`
	Active               bool                `json:"active"`
	ErrorCode            string              `json:"error_code"`
	ErrorMessage         string              `json:"error_message"`
	TraceID              string              `json:"trace_id"`
	InstallmentNumber    int                 `json:"installment_number"`
	InstallmentTotal     int                 `json:"installment_total"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

func toBoletoRow(b *domain.Boleto) boletoRow {
	r := boletoRow{
		ID:                   b.ID,
		ContractID:           b.ContractID,
		NsuCode:              b.ExternalReference,
		NsuDate:              formatDate(b.ExternalReferenceDate),
		CovenantCode:         b.CovenantCode,
		BankNumber:           b.BankNumber,
		ClientNumber:         b.ClientNumber,
		DueDate:              formatDate(b.DueDate),
		IssueDate:            formatDate(b.IssueDate),
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
		Messages:             b.Messages,
		Barcode:              b.Barcode,
		DigitableLine:        b.DigitableLine,
		PixCode:              b.PixCode,
		PixURL:               b.PixURL,
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
	if r.Messages == nil {
		r.Messages = []string{}
	}
	if b.EntryDate != nil {
		s := formatDate(*b.EntryDate)
		r.EntryDate = &s
	}
	return r
}

func (r *boletoRow) toDomain() domain.Boleto {
	b := domain.Boleto{
		ID:                    r.ID,
		ContractID:            r.ContractID,
		ExternalReference:     r.NsuCode,
		ExternalReferenceDate: parseDate(r.NsuDate),
		CovenantCode:          r.CovenantCode,
		BankNumber:            r.BankNumber,
		ClientNumber:          r.ClientNumber,
		DueDate:               parseDate(r.DueDate),
		IssueDate:             parseDate(r.IssueDate),
		NominalValue:          r.NominalValue,
		DocumentKind:          r.DocumentKind,
		Payer: domain.PayerSnapshot{
			Name:           r.PayerName,
			DocumentType:   r.PayerDocumentType,
			DocumentNumber: r.PayerDocumentNumber,
			Address:        r.PayerAddress,
			Neighborhood:   r.PayerNeighborhood,
			City:           r.PayerCity,
			State:          r.PayerState,
			ZipCode:        r.PayerZipCode,
		},
		FinePercentage:       r.FinePercentage,
		FineQuantityDays:     r.FineQuantityDays,
		InterestPercentage:   r.InterestPercentage,
		DeductionValue:       r.DeductionValue,
		WriteOffQuantityDays: r.WriteOffQuantityDays,
		Messages:             r.Messages,
		Barcode:              r.Barcode,
		DigitableLine:        r.DigitableLine,
		PixCode:              r.PixCode,
		PixURL:               r.PixURL,
		Status:               domain.BoletoStatus(r.Status),
		Active:               r.Active,
		ErrorCode:            r.ErrorCode,
		ErrorMessage:         r.ErrorMessage,
		TraceID:              r.TraceID,
		InstallmentNumber:    r.InstallmentNumber,
		InstallmentTotal:     r.InstallmentTotal,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	if r.EntryDate != nil && *r.EntryDate != "" {
		t := parseDate(*r.EntryDate)
		b.EntryDate = &t
	}
	return b
}

// mutableColumns is the PATCH body for an update: the row minus identity
// and the idempotency key.
func mutableColumns(b *domain.Boleto) (map[string]any, error) {
	raw, err := json.Marshal(toBoletoRow(b))
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for _, k := range []string{"id", "contract_id", "nsu_code", "nsu_date", "created_at"} {
		delete(m, k)
	}
	return m, nil
}

type batchRunRow struct {
	ID          string              `json:"id"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  *time.Time          `json:"finished_at"`
	TriggeredBy string              `json:"triggered_by"`
	Processed   int                 `json:"processed"`
	Succeeded   int                 `json:"succeeded"`
	Failed      int                 `json:"failed"`
	TotalValue  decimal.Decimal     `json:"total_value"`
	Details     domain.BatchDetails `json:"details"`
	Status      string              `json:"status"`
	DurationMs  int64               `json:"duration_ms"`
}

func toBatchRunRow(r *domain.BatchRun) batchRunRow {
	return batchRunRow{
		ID:          r.ID,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		TriggeredBy: r.TriggeredBy,
		Processed:   r.Processed,
		Succeeded:   r.Succeeded,
		Failed:      r.Failed,
		TotalValue:  r.TotalValue,
		Details:     r.Details,
		Status:      string(r.Status),
		DurationMs:  r.Duration.Milliseconds(),
	}
}

func (r *batchRunRow) toDomain() domain.BatchRun {
	return domain.BatchRun{
		ID:          r.ID,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		TriggeredBy: r.TriggeredBy,
		Processed:   r.Processed,
		Succeeded:   r.Succeeded,
		Failed:      r.Failed,
		TotalValue:  r.TotalValue,
		Details:     r.Details,
		Status:      domain.BatchStatus(r.Status),
		Duration:    time.Duration(r.DurationMs) * time.Millisecond,
	}
}

type contractRow struct {
	ID                  string          `json:"id"`
	FolderNumber        string          `json:"folder_number"`
	PayerName           string          `json:"payer_name"`
	PayerDocumentType   string          `json:"payer_document_type"`
	PayerDocumentNumber string          `json:"payer_document_number"`
	PayerAddress        string          `json:"payer_address"`
	PayerNeighborhood   string          `json:"payer_neighborhood"`
	PayerCity           string          `json:"payer_city"`
	PayerState          string          `json:"payer_state"`
	PayerZipCode        string          `json:"payer_zip_code"`
	FirstDueDate        string          `json:"first_due_date"`
	InstallmentCount    int             `json:"installment_count"`
	InstallmentValue    decimal.Decimal `json:"installment_value"`
	InstallmentsIssued  int             `json:"installments_issued"`
	Branch              string          `json:"branch"`
	Active              bool            `json:"active"`
}

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
		FirstDueDate:       parseDate(r.FirstDueDate),
		InstallmentCount:   r.InstallmentCount,
		InstallmentValue:   r.InstallmentValue,
		InstallmentsIssued: r.InstallmentsIssued,
		Branch:             r.Branch,
		Active:             r.Active,
	}
}

// ============================================================
// Query helpers
// ============================================================

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(domain.DateLayout)
}

// parseDate accepts a bare date or a full timestamp.
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if len(s) > len(domain.DateLayout) {
		s = s[:len(domain.DateLayout)]
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func eq(v string) string { return "eq." + v }

func in(vals ...string) string { return "in.(" + strings.Join(vals, ",") + ")" }

func query(table string, v url.Values) string {
	if len(v) == 0 {
		return table
	}
	return table + "?" + v.Encode()
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
