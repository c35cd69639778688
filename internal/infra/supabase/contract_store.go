package supabase

import (
	"context"
	"net/url"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/port"
)

const contractsView = "contract_billing_view"

var _ port.ContractSource = (*Client)(nil)

// ListEligibleContracts returns active contracts with installments left.
// PostgREST cannot compare two columns, so the remaining-installments
// filter runs here.
func (c *Client) ListEligibleContracts(ctx context.Context) ([]domain.Contract, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListEligibleContracts")
	defer span.End()

	resp, err := c.doGet(ctx, query(contractsView, url.Values{"active": {eq("true")}, "order": {"id.asc"}}), "")
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[contractRow](resp)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Contract, 0, len(rows))
	for i := range rows {
		if rows[i].InstallmentsIssued >= rows[i].InstallmentCount {
			continue
		}
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (c *Client) GetContract(ctx context.Context, id string) (*domain.Contract, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetContract")
	defer span.End()

	resp, err := c.doGet(ctx, query(contractsView, url.Values{"id": {eq(id)}, "limit": {"1"}}), "")
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[contractRow](resp)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "contract", ID: id}
	}
	ct := rows[0].toDomain()
	return &ct, nil
}
