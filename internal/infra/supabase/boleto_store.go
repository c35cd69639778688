package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/port"
)

// ============================================================
// Boletos: CRUD via PostgREST
// ============================================================

const boletosTable = "boletos"

var _ port.Store = (*Client)(nil)

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, http.MethodGet, query(boletosTable, url.Values{"select": {"id"}, "limit": {"1"}}), nil, "")
	return err
}

func (c *Client) CreateBoleto(ctx context.Context, b *domain.Boleto) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateBoleto")
	defer span.End()
	span.SetAttributes(attribute.String("boleto.reference", b.ReferenceKey()))

	if _, err := c.doPost(ctx, boletosTable, toBoletoRow(b)); err != nil {
		if isUniqueViolation(err) {
			return &domain.ErrDuplicate{Key: b.ReferenceKey()}
		}
		return fmt.Errorf("insert boleto: %w", err)
	}
	return nil
}

func (c *Client) UpdateBoleto(ctx context.Context, b *domain.Boleto) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateBoleto")
	defer span.End()

	cols, err := mutableColumns(b)
	if err != nil {
		return err
	}
	resp, err := c.doPatch(ctx, query(boletosTable, url.Values{"id": {eq(b.ID)}}), cols)
	if err != nil {
		return fmt.Errorf("update boleto: %w", err)
	}
	rows, err := decodeRows[boletoRow](resp)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return &domain.ErrNotFound{Resource: "boleto", ID: b.ID}
	}
	return nil
}

func (c *Client) GetBoleto(ctx context.Context, id string) (*domain.Boleto, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetBoleto")
	defer span.End()
	span.SetAttributes(attribute.String("boleto.id", id))

	resp, err := c.doGet(ctx, query(boletosTable, url.Values{"id": {eq(id)}, "limit": {"1"}}), "")
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[boletoRow](resp)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "boleto", ID: id}
	}
	b := rows[0].toDomain()
	return &b, nil
}

func (c *Client) ListBoletos(ctx context.Context, f port.BoletoFilter) ([]domain.Boleto, int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListBoletos")
	defer span.End()

	page, size := normalizePage(f.Page, f.PageSize)
	v := url.Values{
		"order":  {"created_at.desc"},
		"limit":  {strconv.Itoa(size)},
		"offset": {strconv.Itoa((page - 1) * size)},
	}
	if f.ContractID != "" {
		v.Set("contract_id", eq(f.ContractID))
	}
	if f.Status != "" {
		v.Set("status", eq(string(f.Status)))
	}

	resp, err := c.doGet(ctx, query(boletosTable, v), "count=exact")
	if err != nil {
		return nil, 0, err
	}
	rows, err := decodeRows[boletoRow](resp)
	if err != nil {
		return nil, 0, err
	}
	return boletos(rows), resp.total(), nil
}

func (c *Client) ListOpenBoletos(ctx context.Context, limit int) ([]domain.Boleto, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListOpenBoletos")
	defer span.End()

	v := url.Values{
		"active": {eq("true")},
		"status": {in(string(domain.StatusRegistered), string(domain.StatusPastDue), string(domain.StatusPartiallySettled))},
		"order":  {"due_date.asc"},
		"limit":  {strconv.Itoa(limit)},
	}
	resp, err := c.doGet(ctx, query(boletosTable, v), "")
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[boletoRow](resp)
	if err != nil {
		return nil, err
	}
	return boletos(rows), nil
}

func (c *Client) LatestReference(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "Supabase.LatestReference")
	defer span.End()

	v := url.Values{
		"select": {"nsu_code"},
		"order":  {"created_at.desc,nsu_code.desc"},
		"limit":  {"1"},
	}
	resp, err := c.doGet(ctx, query(boletosTable, v), "")
	if err != nil {
		return "", err
	}
	rows, err := decodeRows[boletoRow](resp)
	if err != nil || len(rows) == 0 {
		return "", err
	}
	return rows[0].NsuCode, nil
}

func (c *Client) CountIssued(ctx context.Context, contractID string) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CountIssued")
	defer span.End()

	v := url.Values{
		"select":             {"id"},
		"contract_id":        {eq(contractID)},
		"installment_number": {"gt.0"},
		"status":             {"neq." + string(domain.StatusFailed)},
		"limit":              {"1"},
	}
	resp, err := c.doGet(ctx, query(boletosTable, v), "count=exact")
	if err != nil {
		return 0, err
	}
	return resp.total(), nil
}

func (c *Client) ListUnconfirmedBoletos(ctx context.Context, before time.Time, limit int) ([]domain.Boleto, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListUnconfirmedBoletos")
	defer span.End()

	v := url.Values{
		"active":     {eq("true")},
		"status":     {eq(string(domain.StatusPending))},
		"updated_at": {"lt." + before.UTC().Format(time.RFC3339Nano)},
		"order":      {"updated_at.asc"},
		"limit":      {strconv.Itoa(limit)},
	}
	resp, err := c.doGet(ctx, query(boletosTable, v), "")
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[boletoRow](resp)
	if err != nil {
		return nil, err
	}
	return boletos(rows), nil
}

// ============================================================
// Dashboard aggregates
// ============================================================

// aggregatePage bounds each read of the client-side aggregation.
const aggregatePage = 1000

// StatusTotals aggregates client-side: PostgREST aggregate functions are
// disabled on Supabase projects by default.
func (c *Client) StatusTotals(ctx context.Context) ([]domain.StatusTotal, error) {
	ctx, span := tracer.Start(ctx, "Supabase.StatusTotals")
	defer span.End()

	byStatus := map[domain.BoletoStatus]*domain.StatusTotal{}
	var order []domain.BoletoStatus
	for offset := 0; ; offset += aggregatePage {
		v := url.Values{
			"select": {"status,nominal_value"},
			"order":  {"id.asc"},
			"limit":  {strconv.Itoa(aggregatePage)},
			"offset": {strconv.Itoa(offset)},
		}
		resp, err := c.doGet(ctx, query(boletosTable, v), "")
		if err != nil {
			return nil, err
		}
		rows, err := decodeRows[boletoRow](resp)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			st := domain.BoletoStatus(r.Status)
			t, ok := byStatus[st]
			if !ok {
				t = &domain.StatusTotal{Status: st, Value: decimal.Zero}
				byStatus[st] = t
				order = append(order, st)
			}
			t.Count++
			t.Value = t.Value.Add(r.NominalValue)
		}
		if len(rows) < aggregatePage {
			break
		}
	}

	out := make([]domain.StatusTotal, 0, len(order))
	for _, st := range order {
		out = append(out, *byStatus[st])
	}
	return out, nil
}

func (c *Client) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CountCreatedSince")
	defer span.End()

	v := url.Values{
		"select":     {"id"},
		"created_at": {"gte." + since.UTC().Format(time.RFC3339Nano)},
		"limit":      {"1"},
	}
	resp, err := c.doGet(ctx, query(boletosTable, v), "count=exact")
	if err != nil {
		return 0, err
	}
	return resp.total(), nil
}

func (c *Client) ListSettledSince(ctx context.Context, since time.Time) ([]domain.SettledBoleto, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListSettledSince")
	defer span.End()

	v := url.Values{
		"select":     {"id,nominal_value,updated_at"},
		"status":     {eq(string(domain.StatusSettled))},
		"updated_at": {"gte." + since.UTC().Format(time.RFC3339Nano)},
		"order":      {"updated_at.asc"},
	}
	resp, err := c.doGet(ctx, query(boletosTable, v), "")
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[boletoRow](resp)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SettledBoleto, len(rows))
	for i, r := range rows {
		out[i] = domain.SettledBoleto{BoletoID: r.ID, Value: r.NominalValue, SettledAt: r.UpdatedAt}
	}
	return out, nil
}

func boletos(rows []boletoRow) []domain.Boleto {
	out := make([]domain.Boleto, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out
}
