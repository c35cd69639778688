package santander_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/observability"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/santander"
)

const (
	testWorkspace = "ws-1"
	testCovenant  = "3567206"
)

// fakeBank serves the token endpoint and delegates everything else.
type fakeBank struct {
	tokenCalls atomic.Int32
	apiCalls   atomic.Int32
	api        http.HandlerFunc
}

func (b *fakeBank) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/auth/oauth/v2/token" {
		n := b.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok-`+string(rune('0'+n))+`","expires_in":3600}`)
		return
	}
	b.apiCalls.Add(1)
	b.api(w, r)
}

func newGateway(t *testing.T, bank *fakeBank, logger *zap.Logger) *santander.Gateway {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := httptest.NewServer(bank)
	t.Cleanup(srv.Close)

	cfg := santander.Config{
		WorkspaceID:  testWorkspace,
		CovenantCode: testCovenant,
		ClientID:     "cid",
		ClientSecret: "secret",
		DocumentKind: "DUPLICATA_MERCANTIL",
		PixKey:       "12345678000199",
		PixKeyType:   "CNPJ",
	}
	tr := santander.NewTransportWithClient(srv.URL, srv.Client())
	metrics := observability.NewMetrics()
	tokens := santander.NewTokenCache(tr, cfg, metrics, logger)
	return santander.NewGateway(cfg, tr, tokens, metrics, logger)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func sampleBoleto() *domain.Boleto {
	fine := 2
	return &domain.Boleto{
		ID:                    "b-1",
		ContractID:            "c-1",
		ExternalReference:     "FAT000042",
		ExternalReferenceDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		CovenantCode:          testCovenant,
		BankNumber:            "1772000000123",
		ClientNumber:          "FAT000042",
		DueDate:               time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		IssueDate:             time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		NominalValue:          decimal.RequireFromString("1500.5"),
		FinePercentage:        decimal.NewNullDecimal(decimal.NewFromInt(2)),
		FineQuantityDays:      &fine,
		InterestPercentage:    decimal.NewNullDecimal(decimal.RequireFromString("1")),
		Messages:              []string{"Nao receber apos 30 dias"},
		Payer: domain.PayerSnapshot{
			Name: "Maria da Silva", DocumentType: "CPF", DocumentNumber: "12345678909",
			Address: "Rua A 10", Neighborhood: "Centro", City: "Sao Paulo", State: "SP", ZipCode: "01001-000",
		},
		Status: domain.StatusPending,
	}
}

func TestGateway_RegisterWireFormat(t *testing.T) {
	var got map[string]any
	var auth, appKey string
	bank := &fakeBank{api: func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/collection_bill_management/v2/workspaces/"+testWorkspace+"/bank_slips", r.URL.Path)
		auth, appKey = r.Header.Get("Authorization"), r.Header.Get("X-Application-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, `{
			"nsuCode":"FAT000042","nsuDate":"2026-03-01","covenantCode":3567206,
			"bankNumber":"1772000000123","barCode":"03399000000000000000000000000000000000000000",
			"digitableLine":"03399.00000 00000.000000 00000.000000 0 00000000000000",
			"entryDate":"2026-03-01","qrCodePix":"000201...","qrCodeUrl":"https://qr/1"}`)
	}}
	gw := newGateway(t, bank, nil)

	resp, err := gw.Register(context.Background(), sampleBoleto())
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-1", auth)
	assert.Equal(t, "cid", appKey)

	assert.Equal(t, "1500.50", got["nominalValue"])
	assert.Equal(t, "2.00", got["finePercentage"])
	assert.Equal(t, "1.00", got["interestPercentage"])
	assert.Equal(t, "2", got["fineQuantityDays"])
	assert.Equal(t, "2026-03-10", got["dueDate"])
	assert.Equal(t, "2026-03-01", got["nsuDate"])
	assert.Equal(t, "REGISTRO", got["paymentType"])
	assert.Equal(t, "TESTE", got["environment"])
	assert.Equal(t, "DUPLICATA_MERCANTIL", got["documentKind"])
	assert.Equal(t, map[string]any{"type": "CNPJ", "dictKey": "12345678000199"}, got["key"])
	_, hasDeduction := got["deductionValue"]
	assert.False(t, hasDeduction)

	assert.Equal(t, "FAT000042", resp.Reference)
	assert.Equal(t, testCovenant, resp.CovenantCode)
	assert.Equal(t, "https://qr/1", resp.PixURL)
	require.NotNil(t, resp.EntryDate)
}

func TestGateway_RegisterRejectionKeepsEnvelopeVerbatim(t *testing.T) {
	bank := &fakeBank{api: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{
			"_errorCode":400,"_message":"Bad Request","_details":"payload invalido",
			"_timestamp":"2026-03-01T10:00:00Z","_traceId":"abc-123",
			"_errors":[{"_code":"4001","_field":"payer.documentNumber","_message":"documento invalido"}]}`)
	}}
	gw := newGateway(t, bank, nil)

	_, err := gw.Register(context.Background(), sampleBoleto())
	var regErr *domain.ErrRegistration
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "FAT000042@2026-03-01", regErr.Reference)
	assert.Equal(t, http.StatusBadRequest, regErr.Status)
	assert.Equal(t, domain.BankError{
		Code:      "400",
		Message:   "Bad Request",
		Details:   "payload invalido",
		Timestamp: "2026-03-01T10:00:00Z",
		TraceID:   "abc-123",
		Fields:    []domain.FieldError{{Code: "4001", Field: "payer.documentNumber", Message: "documento invalido"}},
	}, regErr.Bank)
}

func TestGateway_NonJSONIsProtocolError(t *testing.T) {
	bank := &fakeBank{api: func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>proxy error</html>")
	}}
	gw := newGateway(t, bank, nil)

	_, err := gw.Register(context.Background(), sampleBoleto())
	var protoErr *domain.ErrProtocol
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, "register", protoErr.Operation)
	assert.Contains(t, protoErr.Error(), "non-JSON")
}

func TestGateway_UnauthorizedRefreshesOnce(t *testing.T) {
	bank := &fakeBank{}
	bank.api = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			writeJSON(w, http.StatusUnauthorized, `{"_errorCode":401,"_message":"token expired"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"nsuCode":"FAT000042","bankNumber":"1772000000123","covenantCode":"3567206"}`)
	}
	gw := newGateway(t, bank, nil)

	_, err := gw.Query(context.Background(), testCovenant, "1772000000123", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int32(2), bank.tokenCalls.Load())
	assert.Equal(t, int32(2), bank.apiCalls.Load())
}

func TestGateway_PersistentUnauthorizedFailsWithoutLooping(t *testing.T) {
	bank := &fakeBank{api: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"_errorCode":401,"_message":"invalid application key"}`)
	}}
	gw := newGateway(t, bank, nil)

	_, err := gw.Query(context.Background(), testCovenant, "1772000000123", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	var authErr *domain.ErrAuthenticationFailed
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, int32(2), bank.apiCalls.Load())
}

func TestGateway_UnauthorizedPlainTextIsAuthenticationFailure(t *testing.T) {
	bank := &fakeBank{api: func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "Unauthorized")
	}}
	gw := newGateway(t, bank, nil)

	_, err := gw.Register(context.Background(), sampleBoleto())
	var authErr *domain.ErrAuthenticationFailed
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.Equal(t, "Unauthorized", authErr.Reason)
	var protoErr *domain.ErrProtocol
	assert.False(t, errors.As(err, &protoErr))
	assert.True(t, domain.RegistrationRefused(err))

	bank.api = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "<html>denied</html>")
	}
	_, err = gw.Query(context.Background(), testCovenant, "1772000000123", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusForbidden, authErr.Status)
}

func TestGateway_QueryPathAndNotFound(t *testing.T) {
	var path, nsuDate string
	bank := &fakeBank{api: func(w http.ResponseWriter, r *http.Request) {
		path, nsuDate = r.URL.Path, r.URL.Query().Get("nsuDate")
		writeJSON(w, http.StatusNotFound, `{"_errorCode":404,"_message":"Not Found"}`)
	}}
	gw := newGateway(t, bank, nil)

	_, err := gw.Query(context.Background(), testCovenant, "1772000000123", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	var nf *domain.ErrNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "/collection_bill_management/v2/workspaces/ws-1/bank_slips/35672061772000000123", path)
	assert.Equal(t, "2026-03-01", nsuDate)
}

func TestGateway_CancelRefusalReturnsFalse(t *testing.T) {
	bank := &fakeBank{api: func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		writeJSON(w, http.StatusBadRequest, `{"_errorCode":"BOL-12","_message":"Titulo ja liquidado"}`)
	}}
	gw := newGateway(t, bank, nil)

	ok, err := gw.Cancel(context.Background(), testCovenant, "1772000000123", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestGateway_CancelAccepted(t *testing.T) {
	bank := &fakeBank{api: func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}}
	gw := newGateway(t, bank, nil)

	ok, err := gw.Cancel(context.Background(), testCovenant, "1772000000123", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestGateway_UnknownKindFailsBeforeAnyCall(t *testing.T) {
	bank := &fakeBank{api: func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("no request expected")
	}}
	gw := newGateway(t, bank, nil)

	_, err := gw.QueryStatusByKind(context.Background(), "3567206.1772000000123", domain.QueryKind("everything"))
	var argErr *domain.ErrArgument
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, "kind", argErr.Field)
	assert.Zero(t, bank.apiCalls.Load())
	assert.Zero(t, bank.tokenCalls.Load())
}

func TestGateway_StatusByInternalNumber(t *testing.T) {
	bank := &fakeBank{api: func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collection_bill_management/v2/bills", r.URL.Path)
		assert.Equal(t, testCovenant, r.URL.Query().Get("beneficiaryCode"))
		assert.Equal(t, "1772000000123", r.URL.Query().Get("bankNumber"))
		writeJSON(w, http.StatusOK, `{"_pageable":{"_moreElements":false},"_content":[{
			"beneficiaryCode":"3567206","bankNumber":1772000000123,"status":"Liquidado",
			"nominalValue":"1500.50","paidValue":1500.5,"settlementDate":"2026-03-09",
			"settlements":[{"settlementType":"LIQUIDACAO","settlementValue":"1500.50","bankCode":33}]}]}`)
	}}
	gw := newGateway(t, bank, nil)

	d, err := gw.QueryStatusByInternalNumber(context.Background(), testCovenant, "1772000000123")
	require.NoError(t, err)
	assert.Equal(t, domain.BankStatusSettled, d.Status)
	assert.Equal(t, "LIQUIDADO", d.RawStatus)
	assert.True(t, d.PaidValue.Decimal.Equal(decimal.RequireFromString("1500.50")))
	require.Len(t, d.Settlements, 1)
	assert.Equal(t, "33", d.Settlements[0].Bank)
	assert.Equal(t, "default", d.Kind)
}

func TestGateway_StatusByClientReference(t *testing.T) {
	var q map[string]string
	bank := &fakeBank{api: func(w http.ResponseWriter, r *http.Request) {
		q = map[string]string{
			"clientNumber": r.URL.Query().Get("clientNumber"),
			"dueDate":      r.URL.Query().Get("dueDate"),
			"nominalValue": r.URL.Query().Get("nominalValue"),
		}
		writeJSON(w, http.StatusOK, `{"_content":[{"status":"ATIVO"}]}`)
	}}
	gw := newGateway(t, bank, nil)

	d, err := gw.QueryStatusByClientReference(context.Background(), testCovenant, "FAT000042",
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), decimal.RequireFromString("99.9"))
	require.NoError(t, err)
	assert.Equal(t, domain.BankStatusActive, d.Status)
	assert.Equal(t, map[string]string{"clientNumber": "FAT000042", "dueDate": "2026-03-10", "nominalValue": "99.90"}, q)
}

func TestGateway_StatusEmptyContentIsNotFound(t *testing.T) {
	bank := &fakeBank{api: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"_content":[]}`)
	}}
	gw := newGateway(t, bank, nil)

	_, err := gw.QueryStatusByInternalNumber(context.Background(), testCovenant, "1")
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestGateway_StatusMultipleElementsLogsAndTakesFirst(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	bank := &fakeBank{api: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"_pageable":{"_moreElements":true},"_content":[{"status":"BAIXADO"},{"status":"ATIVO"}]}`)
	}}
	gw := newGateway(t, bank, zap.New(core))

	d, err := gw.QueryStatusByInternalNumber(context.Background(), testCovenant, "1")
	require.NoError(t, err)
	assert.Equal(t, domain.BankStatusWrittenOff, d.Status)
	assert.Equal(t, 1, logs.FilterMessageSnippet("more than one bill").Len())
}

func TestGateway_StatusByKindSingleObject(t *testing.T) {
	var kind string
	bank := &fakeBank{api: func(w http.ResponseWriter, r *http.Request) {
		kind = r.URL.Query().Get("tipoConsulta")
		assert.True(t, strings.HasSuffix(r.URL.Path, "/bills/3567206.1772000000123"))
		writeJSON(w, http.StatusOK, `{"status":"CARTORIO","registryInfo":{"registryNumber":77,"registryCost":"12,40"}}`)
	}}
	gw := newGateway(t, bank, nil)

	d, err := gw.QueryStatusByKind(context.Background(), "3567206.1772000000123", "Registry")
	require.NoError(t, err)
	assert.Equal(t, "registry", kind)
	assert.Equal(t, domain.BankStatusUnknown, d.Status)
	assert.Equal(t, "CARTORIO", d.Description)
	require.NotNil(t, d.Registry)
	assert.Equal(t, "77", d.Registry.Number)
	assert.True(t, d.Registry.Cost.Decimal.Equal(decimal.RequireFromString("12.40")))
}

func TestGateway_PrintableLink(t *testing.T) {
	var body map[string]string
	bank := &fakeBank{api: func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collection_bill_management/v2/bills/1772000000123.3567206/bank_slips", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, `{"link":"https://bank/pdf/1"}`)
	}}
	gw := newGateway(t, bank, nil)

	link, err := gw.PrintableLink(context.Background(), "1772000000123", testCovenant, "123.456.789-09")
	require.NoError(t, err)
	assert.Equal(t, "https://bank/pdf/1", link)
	assert.Equal(t, "12345678909", body["payerDocumentNumber"])
}

func TestGateway_ArgumentsCheckedLocally(t *testing.T) {
	bank := &fakeBank{api: func(w http.ResponseWriter, _ *http.Request) { t.Fatal("no request expected") }}
	gw := newGateway(t, bank, nil)

	_, err := gw.QueryStatusByInternalNumber(context.Background(), "", "1")
	var argErr *domain.ErrArgument
	assert.ErrorAs(t, err, &argErr)

	_, err = gw.Query(context.Background(), testCovenant, "12A", time.Now())
	assert.ErrorAs(t, err, &argErr)

	b := sampleBoleto()
	b.NominalValue = decimal.Zero
	_, err = gw.Register(context.Background(), b)
	assert.ErrorAs(t, err, &argErr)
}
