package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Batch runs (audit log of one bulk issuance)
// ============================================================

// BatchStatus is the overall outcome of a batch run.
type BatchStatus string

const (
	BatchRunning BatchStatus = "RUNNING"
	BatchSuccess BatchStatus = "SUCCESS"
	BatchPartial BatchStatus = "PARTIAL"
	BatchError   BatchStatus = "ERROR"
)

// ErrBatchFinalized is returned when a finalized run is touched again.
var ErrBatchFinalized = errors.New("batch run already finalized")

// IssuedItem records one successful issuance inside a batch.
type IssuedItem struct {
	BoletoID          string          `json:"boletoId"`
	ContractID        string          `json:"contractId"`
	PayerName         string          `json:"payerName"`
	InstallmentNumber int             `json:"installmentNumber"`
	InstallmentTotal  int             `json:"installmentTotal"`
	DueDate           string          `json:"dueDate"`
	Value             decimal.Decimal `json:"value"`
	ExternalReference string          `json:"externalReference"`
	Status            BoletoStatus    `json:"status"`
}

// FailedItem records one per-contract failure inside a batch.
type FailedItem struct {
	ContractID string    `json:"contractId"`
	PayerName  string    `json:"payerName"`
	Error      string    `json:"error"`
	At         time.Time `json:"at"`
}

// BatchDetails is the structured per-item blob of a run.
type BatchDetails struct {
	Issued []IssuedItem `json:"issued"`
	Errors []FailedItem `json:"errors"`
	Fatal  string       `json:"fatal,omitempty"`
}

// BatchRun is created at batch start and finalized once at batch end.
type BatchRun struct {
	ID          string          `json:"id"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
	TriggeredBy string          `json:"triggeredBy"`
	Processed   int             `json:"processed"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	TotalValue  decimal.Decimal `json:"totalValue"`
	Details     BatchDetails    `json:"details"`
	Status      BatchStatus     `json:"status"`
	Duration    time.Duration   `json:"durationNs"`
}

// NewBatchRun opens a run in the RUNNING state.
func NewBatchRun(id, triggeredBy string, now time.Time) *BatchRun {
	return &BatchRun{
		ID:          id,
		StartedAt:   now,
		TriggeredBy: triggeredBy,
		TotalValue:  decimal.Zero,
		Details:     BatchDetails{Issued: []IssuedItem{}, Errors: []FailedItem{}},
		Status:      BatchRunning,
	}
}

// Finalized reports whether the run is closed.
func (r *BatchRun) Finalized() bool {
	return r.FinishedAt != nil
}

// RecordIssued appends a success.
func (r *BatchRun) RecordIssued(item IssuedItem) {
	r.Processed++
	r.Succeeded++
	r.TotalValue = r.TotalValue.Add(item.Value)
	r.Details.Issued = append(r.Details.Issued, item)
}

// RecordFailed appends a failure.
func (r *BatchRun) RecordFailed(item FailedItem) {
	r.Processed++
	r.Failed++
	r.Details.Errors = append(r.Details.Errors, item)
}

// Finalize closes the run and derives its status from the counts. A
// non-nil fatal error is recorded and makes the run ERROR unless something
// was issued before it struck, in which case the run is PARTIAL.
func (r *BatchRun) Finalize(now time.Time, fatal error) error {
	if r.Finalized() {
		return ErrBatchFinalized
	}
	if fatal != nil {
		r.Details.Fatal = fatal.Error()
	}
	switch {
	case fatal != nil && r.Succeeded > 0:
		r.Status = BatchPartial
	case fatal != nil:
		r.Status = BatchError
	case r.Failed == 0:
		r.Status = BatchSuccess
	case r.Succeeded == 0:
		r.Status = BatchError
	default:
		r.Status = BatchPartial
	}
	r.FinishedAt = &now
	r.Duration = now.Sub(r.StartedAt)
	return nil
}

// PreviewItem is one line of what a batch run would issue.
type PreviewItem struct {
	ContractID        string          `json:"contractId"`
	FolderNumber      string          `json:"folderNumber,omitempty"`
	PayerName         string          `json:"payerName"`
	PayerDocument     string          `json:"payerDocument"`
	InstallmentNumber int             `json:"installmentNumber"`
	InstallmentTotal  int             `json:"installmentTotal"`
	DueDate           string          `json:"dueDate"`
	Value             decimal.Decimal `json:"value"`
	DaysUntilDue      int             `json:"daysUntilDue"`
	Branch            string          `json:"branch,omitempty"`
}

// BatchPreview summarises a dry run.
type BatchPreview struct {
	Items      []PreviewItem   `json:"items"`
	Skipped    []FailedItem    `json:"skipped"`
	Count      int             `json:"count"`
	TotalValue decimal.Decimal `json:"totalValue"`
}
