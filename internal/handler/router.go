// Package handler is the HTTP surface of the billing service: issuance,
// lookup, cancellation, reconciliation, live bank status and batch runs.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/observability"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/port"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/service"
)

var tracer = otel.Tracer("handler")

// GatewayMode describes which bank gateway is wired, for readiness.
type GatewayMode string

const (
	GatewayLive       GatewayMode = "live"
	GatewaySimulation GatewayMode = "simulation"
	GatewayDisabled   GatewayMode = "disabled"
)

// Deps is everything the router serves.
type Deps struct {
	Issuer      *service.Issuer
	Batch       *service.BatchIssuer
	Reconciler  *service.Reconciler
	Boletos     *service.BoletoService
	Store       port.Store
	GatewayMode GatewayMode
	Metrics     *observability.Metrics
	// JWTSecret protects /v1; empty leaves it open (local development).
	JWTSecret []byte
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler(d.Store, d.GatewayMode))
	if d.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if len(d.JWTSecret) > 0 {
			r.Use(JWTAuthMiddleware(d.JWTSecret, logger))
		}

		// Issuance
		r.Post("/contracts/{contractId}/boletos", issueNextHandler(d.Issuer, logger))
		r.Post("/boletos", issueManualHandler(d.Issuer, logger))

		// Boletos
		r.Get("/boletos", listBoletosHandler(d.Boletos, logger))
		r.Get("/boletos/{id}", getBoletoHandler(d.Boletos, logger))
		r.Post("/boletos/{id}/cancel", cancelBoletoHandler(d.Boletos, logger))
		r.Get("/boletos/{id}/status", liveStatusHandler(d.Boletos, logger))
		r.Get("/boletos/{id}/pdf", printableLinkHandler(d.Boletos, logger))

		// Reconciliation
		r.Post("/boletos/{id}/sync", syncOneHandler(d.Reconciler, logger))
		r.Post("/boletos/sync", syncAllHandler(d.Reconciler, logger))

		// Dashboard
		r.Get("/dashboard", dashboardHandler(d.Boletos, logger))
		r.Get("/dashboard/settlements", settlementsHandler(d.Boletos, logger))

		// Bank-side status lookups not tied to a stored boleto
		r.Get("/bank-slips/status", bankStatusHandler(d.Boletos, logger))
		r.Get("/bank-slips/{billId}", bankStatusByKindHandler(d.Boletos, logger))

		// Batch runs
		r.Get("/batches/preview", batchPreviewHandler(d.Batch, logger))
		r.Post("/batches", batchRunHandler(d.Batch, logger))
		r.Get("/batches", listBatchRunsHandler(d.Batch, logger))
		r.Get("/batches/{id}", getBatchRunHandler(d.Batch, logger))

		// Metrics snapshot
		r.Get("/metrics/billing", billingMetricsHandler(d.Metrics))
	})

	return r
}

// ============================================================
// Issuance
// ============================================================

func issueNextHandler(issuer *service.Issuer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/contracts/{contractId}/boletos")
		defer span.End()

		contractID := chi.URLParam(r, "contractId")
		span.SetAttributes(attribute.String("contract.id", contractID))

		var opts domain.IssueOptions
		if err := decodeBody(r, &opts); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		b, err := issuer.IssueNext(ctx, contractID, opts)
		if err != nil {
			writeIssueError(w, b, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	}
}

type manualIssueRequest struct {
	ContractID        string              `json:"contractId" validate:"required"`
	DueDate           string              `json:"dueDate" validate:"required,datetime=2006-01-02"`
	Value             decimal.Decimal     `json:"value"`
	InstallmentNumber int                 `json:"installmentNumber" validate:"min=0"`
	Options           domain.IssueOptions `json:"options"`
}

func issueManualHandler(issuer *service.Issuer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/boletos")
		defer span.End()

		var req manualIssueRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		due, _ := time.Parse(domain.DateLayout, req.DueDate)

		b, err := issuer.IssueManual(ctx, domain.ManualIssueRequest{
			ContractID:        req.ContractID,
			DueDate:           due,
			Value:             req.Value,
			InstallmentNumber: req.InstallmentNumber,
			Options:           req.Options,
		})
		if err != nil {
			writeIssueError(w, b, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	}
}

// writeIssueError reports a failed issuance. When the boleto was persisted
// before the bank refused it, the Failed record goes back with the error.
func writeIssueError(w http.ResponseWriter, b *domain.Boleto, err error, logger *zap.Logger) {
	if b == nil {
		handleServiceError(w, err, logger)
		return
	}
	logger.Warn("issuance failed",
		zap.String("boleto_id", b.ID),
		zap.String("reference", b.ReferenceKey()),
		zap.Error(err),
	)
	status := http.StatusInternalServerError
	var bank *domain.BankError
	var reg *domain.ErrRegistration
	var proto *domain.ErrProtocol
	var auth *domain.ErrAuthenticationFailed
	switch {
	case errors.As(err, &reg):
		status = http.StatusUnprocessableEntity
		bank = &reg.Bank
	case errors.As(err, &proto):
		status = http.StatusBadGateway
		bank = proto.Bank
	case errors.As(err, &auth):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, struct {
		Error  string            `json:"error"`
		Bank   *domain.BankError `json:"bank,omitempty"`
		Boleto *domain.Boleto    `json:"boleto"`
	}{Error: err.Error(), Bank: bank, Boleto: b})
}

// ============================================================
// Boletos
// ============================================================

func listBoletosHandler(svc *service.BoletoService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/boletos")
		defer span.End()

		page, pageSize := parsePagination(r)
		q := r.URL.Query()
		filter := port.BoletoFilter{
			ContractID: q.Get("contract_id"),
			Status:     domain.BoletoStatus(q.Get("status")),
			Page:       page,
			PageSize:   pageSize,
		}

		rows, total, err := svc.List(ctx, filter)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, listResponse(rows, total, page, pageSize))
	}
}

func getBoletoHandler(svc *service.BoletoService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/boletos/{id}")
		defer span.End()

		b, err := svc.Get(ctx, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func cancelBoletoHandler(svc *service.BoletoService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/boletos/{id}/cancel")
		defer span.End()

		id := chi.URLParam(r, "id")
		ok, err := svc.Cancel(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": ok})
	}
}

func liveStatusHandler(svc *service.BoletoService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/boletos/{id}/status")
		defer span.End()

		kind := domain.QueryKind(r.URL.Query().Get("kind"))
		d, err := svc.LiveStatus(ctx, chi.URLParam(r, "id"), kind)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func printableLinkHandler(svc *service.BoletoService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/boletos/{id}/pdf")
		defer span.End()

		link, err := svc.PrintableLink(ctx, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"link": link})
	}
}

// ============================================================
// Reconciliation
// ============================================================

func syncOneHandler(rec *service.Reconciler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/boletos/{id}/sync")
		defer span.End()

		res, err := rec.SyncOne(ctx, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func syncAllHandler(rec *service.Reconciler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/boletos/sync")
		defer span.End()

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer", Field: "limit"})
				return
			}
			limit = n
		}

		report, err := rec.SyncAll(ctx, limit)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// ============================================================
// Dashboard
// ============================================================

func dashboardHandler(svc *service.BoletoService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/dashboard")
		defer span.End()

		d, err := svc.Dashboard(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func settlementsHandler(svc *service.BoletoService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/dashboard/settlements")
		defer span.End()

		period := r.URL.Query().Get("period")
		span.SetAttributes(attribute.String("dashboard.period", period))
		report, err := svc.SettledByPeriod(ctx, period)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// ============================================================
// Bank-side status
// ============================================================

// bankStatusHandler answers the two keyed query shapes: by bank number, or
// by the (client number, due date, nominal value) triple.
func bankStatusHandler(svc *service.BoletoService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/bank-slips/status")
		defer span.End()

		q := r.URL.Query()
		beneficiary := q.Get("beneficiaryCode")

		var (
			d   *domain.StatusDetail
			err error
		)
		switch {
		case q.Get("bankNumber") != "":
			d, err = svc.StatusByInternalNumber(ctx, beneficiary, q.Get("bankNumber"))
		case q.Get("clientNumber") != "":
			due, perr := time.Parse(domain.DateLayout, q.Get("dueDate"))
			if perr != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "dueDate must be YYYY-MM-DD", Field: "dueDate"})
				return
			}
			value, perr := decimal.NewFromString(q.Get("nominalValue"))
			if perr != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "nominalValue must be a decimal number", Field: "nominalValue"})
				return
			}
			d, err = svc.StatusByClientReference(ctx, beneficiary, q.Get("clientNumber"), due, value)
		default:
			writeError(w, http.StatusBadRequest, "either bankNumber or clientNumber+dueDate+nominalValue is required")
			return
		}
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func bankStatusByKindHandler(svc *service.BoletoService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/bank-slips/{billId}")
		defer span.End()

		kind := domain.QueryKind(r.URL.Query().Get("kind"))
		d, err := svc.StatusByKind(ctx, chi.URLParam(r, "billId"), kind)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// ============================================================
// Batch runs
// ============================================================

func batchPreviewHandler(batch *service.BatchIssuer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/batches/preview")
		defer span.End()

		p, err := batch.Preview(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func batchRunHandler(batch *service.BatchIssuer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/batches")
		defer span.End()

		operator := OperatorFromContext(ctx)
		if operator == "" {
			operator = "anonymous"
		}
		// The run is recorded even when the client disconnects mid-batch.
		run, err := batch.Run(context.WithoutCancel(ctx), operator)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func listBatchRunsHandler(batch *service.BatchIssuer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/batches")
		defer span.End()

		page, pageSize := parsePagination(r)
		runs, total, err := batch.ListRuns(ctx, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, listResponse(runs, total, page, pageSize))
	}
}

func getBatchRunHandler(batch *service.BatchIssuer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/batches/{id}")
		defer span.End()

		run, err := batch.GetRun(ctx, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

// ============================================================
// Health & metrics
// ============================================================

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func readyzHandler(store port.Store, mode GatewayMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)
		components := make([]domain.ComponentHealth, 0, 2)

		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := store.Ping(ctx)
			cancel()
			c := domain.ComponentHealth{Name: "store", Status: "healthy", Checked: now}
			if err != nil {
				c.Status, c.Detail = "unhealthy", err.Error()
			}
			components = append(components, c)
		}

		bank := domain.ComponentHealth{Name: "bank", Status: "healthy", Detail: string(mode), Checked: now}
		switch mode {
		case GatewayDisabled:
			bank.Status = "unhealthy"
		case GatewaySimulation:
			bank.Status = "degraded"
		}
		components = append(components, bank)

		overall := "healthy"
		for _, c := range components {
			if c.Status == "unhealthy" {
				overall = "unhealthy"
				break
			}
			if c.Status == "degraded" {
				overall = "degraded"
			}
		}
		code := http.StatusOK
		if overall == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, domain.HealthStatus{Status: overall, Components: components})
	}
}

func billingMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if metrics == nil {
			writeError(w, http.StatusServiceUnavailable, "metrics disabled")
			return
		}
		writeJSON(w, http.StatusOK, metrics.GetBillingSnapshot())
	}
}
