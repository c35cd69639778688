package supabase

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
)

const batchRunsTable = "boleto_batch_runs"

func (c *Client) CreateBatchRun(ctx context.Context, run *domain.BatchRun) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateBatchRun")
	defer span.End()

	if _, err := c.doPost(ctx, batchRunsTable, toBatchRunRow(run)); err != nil {
		return fmt.Errorf("insert batch run: %w", err)
	}
	return nil
}

// FinalizeBatchRun patches only a row that is still open, so a second call
// matches nothing and reports domain.ErrBatchFinalized.
func (c *Client) FinalizeBatchRun(ctx context.Context, run *domain.BatchRun) error {
	ctx, span := tracer.Start(ctx, "Supabase.FinalizeBatchRun")
	defer span.End()

	row := toBatchRunRow(run)
	patch := map[string]any{
		"finished_at": row.FinishedAt,
		"processed":   row.Processed,
		"succeeded":   row.Succeeded,
		"failed":      row.Failed,
		"total_value": row.TotalValue,
		"details":     row.Details,
		"status":      row.Status,
		"duration_ms": row.DurationMs,
	}
	path := query(batchRunsTable, url.Values{"id": {eq(run.ID)}, "finished_at": {"is.null"}})
	resp, err := c.doPatch(ctx, path, patch)
	if err != nil {
		return fmt.Errorf("finalize batch run: %w", err)
	}
	rows, err := decodeRows[batchRunRow](resp)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		if _, err := c.GetBatchRun(ctx, run.ID); err != nil {
			return err
		}
		return domain.ErrBatchFinalized
	}
	return nil
}

func (c *Client) GetBatchRun(ctx context.Context, id string) (*domain.BatchRun, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetBatchRun")
	defer span.End()

	resp, err := c.doGet(ctx, query(batchRunsTable, url.Values{"id": {eq(id)}, "limit": {"1"}}), "")
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[batchRunRow](resp)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "batch run", ID: id}
	}
	r := rows[0].toDomain()
	return &r, nil
}

func (c *Client) ListBatchRuns(ctx context.Context, page, pageSize int) ([]domain.BatchRun, int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListBatchRuns")
	defer span.End()

	page, size := normalizePage(page, pageSize)
	v := url.Values{
		"order":  {"started_at.desc"},
		"limit":  {strconv.Itoa(size)},
		"offset": {strconv.Itoa((page - 1) * size)},
	}
	resp, err := c.doGet(ctx, query(batchRunsTable, v), "count=exact")
	if err != nil {
		return nil, 0, err
	}
	rows, err := decodeRows[batchRunRow](resp)
	if err != nil {
		return nil, 0, err
	}
	out := make([]domain.BatchRun, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, resp.total(), nil
}
