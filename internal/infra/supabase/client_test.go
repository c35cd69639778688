package supabase_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/resilience"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/supabase"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/port"
)

func newClient(t *testing.T, h http.HandlerFunc) *supabase.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond}
	return supabase.NewClient(srv.Client(), srv.URL, "anon", "service-role", cfg, zap.NewNop())
}

func sampleBoleto() *domain.Boleto {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	return &domain.Boleto{
		ID:                    "b-1",
		ContractID:            "ctr-1",
		ExternalReference:     "FAT000042",
		ExternalReferenceDate: day,
		CovenantCode:          "3567206",
		BankNumber:            "1772000000123",
		DueDate:               day.AddDate(0, 0, 10),
		IssueDate:             day,
		NominalValue:          decimal.RequireFromString("1500.50"),
		Status:                domain.StatusPending,
		Active:                true,
		CreatedAt:             day,
		UpdatedAt:             day,
	}
}

func TestCreateBoleto_SendsRowWithHeaders(t *testing.T) {
	var got map[string]any
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/boletos", r.URL.Path)
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-role", r.Header.Get("Authorization"))
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("[" + string(body) + "]"))
	})

	require.NoError(t, c.CreateBoleto(context.Background(), sampleBoleto()))
	assert.Equal(t, "FAT000042", got["nsu_code"])
	assert.Equal(t, "2026-03-10", got["nsu_date"])
	assert.Equal(t, "PENDING", got["status"])
}

func TestCreateBoleto_UniqueViolationIsDuplicate(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key value violates unique constraint \"ux_boletos_nsu\""}`))
	})

	err := c.CreateBoleto(context.Background(), sampleBoleto())
	var dup *domain.ErrDuplicate
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, "FAT000042@2026-03-10", dup.Key)
}

func TestGetBoleto(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "eq.b-1" {
			_, _ = w.Write([]byte(`[{"id":"b-1","nsu_code":"FAT000042","nsu_date":"2026-03-10","nominal_value":1500.5,
				"fine_percentage":null,"status":"REGISTERED","active":true,"entry_date":"2026-03-11",
				"created_at":"2026-03-10T12:00:00+00:00","updated_at":"2026-03-10T12:00:00+00:00"}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	b, err := c.GetBoleto(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRegistered, b.Status)
	assert.True(t, b.NominalValue.Equal(decimal.RequireFromString("1500.5")))
	assert.False(t, b.FinePercentage.Valid)
	require.NotNil(t, b.EntryDate)
	assert.Equal(t, "2026-03-11", b.EntryDate.Format(domain.DateLayout))

	_, err = c.GetBoleto(context.Background(), "nope")
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestUpdateBoleto_OmitsIdentityColumns(t *testing.T) {
	var patch map[string]any
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.b-1", r.URL.Query().Get("id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
		_, _ = w.Write([]byte(`[{"id":"b-1"}]`))
	})

	require.NoError(t, c.UpdateBoleto(context.Background(), sampleBoleto()))
	for _, k := range []string{"id", "contract_id", "nsu_code", "nsu_date", "created_at"} {
		assert.NotContains(t, patch, k)
	}
	assert.Equal(t, "PENDING", patch["status"])
}

func TestUpdateBoleto_NoRowIsNotFound(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, c.UpdateBoleto(context.Background(), sampleBoleto()), &nf)
}

func TestListBoletos_ReadsExactCount(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))
		q := r.URL.Query()
		assert.Equal(t, "eq.SETTLED", q.Get("status"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "10", q.Get("offset"))
		w.Header().Set("Content-Range", "10-11/12")
		_, _ = w.Write([]byte(`[{"id":"a"},{"id":"b"}]`))
	})

	rows, total, err := c.ListBoletos(context.Background(), port.BoletoFilter{Status: domain.StatusSettled, Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 12, total)
}

func TestListOpenBoletos_Filter(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "eq.true", q.Get("active"))
		assert.Equal(t, "in.(REGISTERED,PAST_DUE,PARTIALLY_SETTLED)", q.Get("status"))
		_, _ = w.Write([]byte(`[]`))
	})
	rows, err := c.ListOpenBoletos(context.Background(), 50)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLatestReferenceAndCount(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("select") == "nsu_code" {
			_, _ = w.Write([]byte(`[{"nsu_code":"FAT000099"}]`))
			return
		}
		assert.Equal(t, "gt.0", q.Get("installment_number"))
		assert.Equal(t, "neq.FAILED", q.Get("status"))
		w.Header().Set("Content-Range", "0-0/4")
		_, _ = w.Write([]byte(`[{"id":"x"}]`))
	})

	ref, err := c.LatestReference(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FAT000099", ref)

	n, err := c.CountIssued(context.Background(), "ctr-1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestReadsAreRetriedOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"b-1","status":"REGISTERED"}]`))
	})

	_, err := c.GetBoleto(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"PGRST100","message":"failed to parse filter"}`))
	})

	_, err := c.GetBoleto(context.Background(), "b-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PGRST100")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFinalizeBatchRun_SecondCallIsRejected(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			assert.Equal(t, "is.null", r.URL.Query().Get("finished_at"))
			_, _ = w.Write([]byte(`[]`))
		case http.MethodGet:
			_, _ = w.Write([]byte(`[{"id":"run-1","status":"SUCCESS","total_value":0,"details":{"issued":[],"errors":[]}}]`))
		}
	})

	run := domain.NewBatchRun("run-1", "ops", time.Now())
	require.NoError(t, run.Finalize(time.Now(), nil))
	assert.ErrorIs(t, c.FinalizeBatchRun(context.Background(), run), domain.ErrBatchFinalized)
}

func TestListEligibleContracts_SkipsExhausted(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/contract_billing_view", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"id":"c1","payer_name":"A","first_due_date":"2026-01-05","installment_count":3,"installment_value":100,"installments_issued":1,"active":true},
			{"id":"c2","payer_name":"B","first_due_date":"2026-01-05","installment_count":3,"installment_value":100,"installments_issued":3,"active":true}
		]`))
	})

	cs, err := c.ListEligibleContracts(context.Background())
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, "c1", cs[0].ID)
	assert.Equal(t, "2026-01-05", cs[0].FirstDueDate.Format(domain.DateLayout))
}

func TestListUnconfirmedBoletos_Filter(t *testing.T) {
	before := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "eq.true", q.Get("active"))
		assert.Equal(t, "eq.PENDING", q.Get("status"))
		assert.Equal(t, "lt.2026-03-10T09:00:00Z", q.Get("updated_at"))
		assert.Equal(t, "25", q.Get("limit"))
		_, _ = w.Write([]byte(`[{"id":"b-1","status":"PENDING","active":true}]`))
	})

	rows, err := c.ListUnconfirmedBoletos(context.Background(), before, 25)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.StatusPending, rows[0].Status)
}

func TestStatusTotals_AggregatesClientSide(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "status,nominal_value", r.URL.Query().Get("select"))
		_, _ = w.Write([]byte(`[
			{"status":"REGISTERED","nominal_value":100.10},
			{"status":"SETTLED","nominal_value":50},
			{"status":"REGISTERED","nominal_value":"20.00"}
		]`))
	})

	totals, err := c.StatusTotals(context.Background())
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, domain.StatusRegistered, totals[0].Status)
	assert.Equal(t, 2, totals[0].Count)
	assert.Equal(t, "120.10", totals[0].Value.StringFixed(2))
	assert.Equal(t, domain.StatusSettled, totals[1].Status)
	assert.Equal(t, 1, totals[1].Count)
}

func TestSettledSinceAndCreatedCount(t *testing.T) {
	since := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("created_at") != "" {
			assert.Equal(t, "gte.2026-03-04T00:00:00Z", q.Get("created_at"))
			w.Header().Set("Content-Range", "0-0/7")
			_, _ = w.Write([]byte(`[{"id":"x"}]`))
			return
		}
		assert.Equal(t, "eq.SETTLED", q.Get("status"))
		assert.Equal(t, "gte.2026-03-04T00:00:00Z", q.Get("updated_at"))
		_, _ = w.Write([]byte(`[{"id":"b-1","nominal_value":99.9,"updated_at":"2026-03-05T14:00:00Z"}]`))
	})

	n, err := c.CountCreatedSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	settled, err := c.ListSettledSince(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, "b-1", settled[0].BoletoID)
	assert.Equal(t, "99.90", settled[0].Value.StringFixed(2))
	assert.Equal(t, 5, settled[0].SettledAt.Day())
}
