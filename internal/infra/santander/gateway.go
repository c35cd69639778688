package santander

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/observability"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/resilience"
)

var tracer = otel.Tracer("santander")

// errUpstream marks a 5xx exchange so the breaker counts it; the exchange
// itself is still interpreted by the caller.
var errUpstream = errors.New("upstream server error")

// Gateway is the protocol client for the collection API.
type Gateway struct {
	cfg        Config
	transport  *Transport
	tokens     TokenSource
	translator *Translator
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewGateway wires the gateway over one shared token source.
func NewGateway(cfg Config, t *Transport, tokens TokenSource, metrics *observability.Metrics, logger *zap.Logger) *Gateway {
	maxConc := cfg.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 10
	}
	return &Gateway{
		cfg:        cfg,
		transport:  t,
		tokens:     tokens,
		translator: NewTranslator(logger, time.Now),
		cb:         resilience.NewCircuitBreaker("santander", countsAsHealthy),
		bulkhead:   resilience.NewBulkhead(maxConc),
		metrics:    metrics,
		logger:     logger,
	}
}

// countsAsHealthy keeps caller cancellations and credential problems from
// tripping the breaker.
func countsAsHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var authErr *domain.ErrAuthenticationFailed
	return errors.As(err, &authErr)
}

type exchange struct {
	status      int
	contentType string
	body        []byte
}

func (e *exchange) ok() bool { return e.status >= 200 && e.status < 300 }

func (e *exchange) isJSON() bool {
	return strings.Contains(strings.ToLower(e.contentType), "json") && json.Valid(e.body)
}

// ============================================================
// Operations
// ============================================================

// Register posts a new bank slip. It is not safe to replay with the same
// (reference, reference date); the bank rejects that as a duplicate.
func (g *Gateway) Register(ctx context.Context, b *domain.Boleto) (*domain.BankResponse, error) {
	const op = "register"
	payload, err := g.registrationPayload(b)
	if err != nil {
		return nil, err
	}

	ex, err := g.call(ctx, op, http.MethodPost, workspacePath+url.PathEscape(g.cfg.WorkspaceID)+"/bank_slips", nil, payload)
	if err != nil {
		return nil, g.fail(op, err)
	}
	if !ex.ok() {
		be, err := g.classify(op, ex)
		if err != nil {
			return nil, g.fail(op, err)
		}
		g.logger.Error("bank rejected registration",
			zap.String("reference", b.ReferenceKey()),
			zap.Int("status", ex.status),
			zap.String("bank_error", be.String()),
		)
		return nil, g.fail(op, &domain.ErrRegistration{Reference: b.ReferenceKey(), Status: ex.status, Bank: be})
	}

	resp, err := g.decodeBankSlip(op, ex)
	if err != nil {
		return nil, g.fail(op, err)
	}
	if resp.Reference == "" {
		resp.Reference = b.ExternalReference
	}
	if resp.ReferenceDate.IsZero() {
		resp.ReferenceDate = b.ExternalReferenceDate
	}
	g.logger.Info("bank slip registered",
		zap.String("reference", b.ReferenceKey()),
		zap.String("bank_number", resp.BankNumber),
		zap.Bool("has_barcode", resp.Barcode != ""),
		zap.Bool("has_pix", resp.PixCode != ""),
	)
	return resp, nil
}

// Query reads one bank slip by covenant + bank number + reference date.
func (g *Gateway) Query(ctx context.Context, covenantCode, bankNumber string, referenceDate time.Time) (*domain.BankResponse, error) {
	const op = "query"
	path, query, err := g.bankSlipPath(covenantCode, bankNumber, referenceDate)
	if err != nil {
		return nil, err
	}

	ex, err := g.call(ctx, op, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, g.fail(op, err)
	}
	if !ex.ok() {
		if ex.status == http.StatusNotFound {
			return nil, g.fail(op, &domain.ErrNotFound{Resource: "bank slip", ID: covenantCode + bankNumber})
		}
		be, err := g.classify(op, ex)
		if err != nil {
			return nil, g.fail(op, err)
		}
		return nil, g.fail(op, &domain.ErrProtocol{Operation: op, Status: ex.status, Bank: &be})
	}
	resp, err := g.decodeBankSlip(op, ex)
	if err != nil {
		return nil, g.fail(op, err)
	}
	return resp, nil
}

// Cancel asks the bank to drop a bank slip. A bank refusal (already
// settled, already cancelled) yields false without error; transport and
// credential failures are returned.
func (g *Gateway) Cancel(ctx context.Context, covenantCode, bankNumber string, referenceDate time.Time) (bool, error) {
	const op = "cancel"
	path, query, err := g.bankSlipPath(covenantCode, bankNumber, referenceDate)
	if err != nil {
		return false, err
	}

	ex, err := g.call(ctx, op, http.MethodDelete, path, query, nil)
	if err != nil {
		return false, g.fail(op, err)
	}
	if ex.ok() {
		g.logger.Info("bank slip cancelled", zap.String("bank_slip", covenantCode+bankNumber))
		return true, nil
	}
	be, err := g.classify(op, ex)
	if err != nil {
		return false, g.fail(op, err)
	}
	g.metrics.IncrGatewayError(op, "refused")
	g.logger.Warn("bank refused cancellation",
		zap.String("bank_slip", covenantCode+bankNumber),
		zap.Int("status", ex.status),
		zap.String("bank_error", be.String()),
	)
	return false, nil
}

// QueryStatusByInternalNumber looks a bill up by the bank-assigned number.
func (g *Gateway) QueryStatusByInternalNumber(ctx context.Context, beneficiaryCode, bankNumber string) (*domain.StatusDetail, error) {
	if err := requireDigits("beneficiaryCode", beneficiaryCode); err != nil {
		return nil, err
	}
	if err := requireDigits("bankNumber", bankNumber); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("beneficiaryCode", beneficiaryCode)
	q.Set("bankNumber", bankNumber)
	return g.statusQuery(ctx, "status_internal_number", billsPath, q, domain.QueryKindDefault, beneficiaryCode+"/"+bankNumber)
}

// QueryStatusByClientReference looks a bill up by the composite
// client number + due date + nominal value key.
func (g *Gateway) QueryStatusByClientReference(ctx context.Context, beneficiaryCode, clientNumber string, dueDate time.Time, nominalValue decimal.Decimal) (*domain.StatusDetail, error) {
	if err := requireDigits("beneficiaryCode", beneficiaryCode); err != nil {
		return nil, err
	}
	if strings.TrimSpace(clientNumber) == "" {
		return nil, &domain.ErrArgument{Field: "clientNumber", Message: "required"}
	}
	if dueDate.IsZero() {
		return nil, &domain.ErrArgument{Field: "dueDate", Message: "required"}
	}
	if !nominalValue.IsPositive() {
		return nil, &domain.ErrArgument{Field: "nominalValue", Message: "must be greater than zero"}
	}
	q := url.Values{}
	q.Set("beneficiaryCode", beneficiaryCode)
	q.Set("clientNumber", clientNumber)
	q.Set("dueDate", dueDate.Format(domain.DateLayout))
	q.Set("nominalValue", FormatMoney(nominalValue))
	return g.statusQuery(ctx, "status_client_reference", billsPath, q, domain.QueryKindDefault, beneficiaryCode+"/"+clientNumber)
}

// QueryStatusByKind reads one of the typed detail views. The kind is
// checked against the allow-list before anything is sent.
func (g *Gateway) QueryStatusByKind(ctx context.Context, billID string, kind domain.QueryKind) (*domain.StatusDetail, error) {
	k, err := domain.ParseQueryKind(string(kind))
	if err != nil {
		return nil, err
	}
	billID = strings.TrimSpace(billID)
	if billID == "" {
		return nil, &domain.ErrArgument{Field: "billId", Message: "required"}
	}
	q := url.Values{}
	q.Set("tipoConsulta", string(k))
	return g.statusQuery(ctx, "status_by_kind", billsPath+"/"+url.PathEscape(billID), q, k, billID)
}

// PrintableLink asks the bank for the PDF link of a bank slip.
func (g *Gateway) PrintableLink(ctx context.Context, bankNumber, covenantCode, payerDocument string) (string, error) {
	const op = "printable_link"
	if err := requireDigits("bankNumber", bankNumber); err != nil {
		return "", err
	}
	if err := requireDigits("covenantCode", covenantCode); err != nil {
		return "", err
	}
	doc := domain.OnlyDigits(payerDocument)
	if doc == "" {
		return "", &domain.ErrArgument{Field: "payerDocumentNumber", Message: "required"}
	}

	path := billsPath + "/" + url.PathEscape(bankNumber+"."+covenantCode) + "/bank_slips"
	ex, err := g.call(ctx, op, http.MethodPost, path, nil, printableRequest{PayerDocumentNumber: doc})
	if err != nil {
		return "", g.fail(op, err)
	}
	if !ex.ok() {
		if ex.status == http.StatusNotFound {
			return "", g.fail(op, &domain.ErrNotFound{Resource: "bank slip", ID: bankNumber + "." + covenantCode})
		}
		be, err := g.classify(op, ex)
		if err != nil {
			return "", g.fail(op, err)
		}
		return "", g.fail(op, &domain.ErrProtocol{Operation: op, Status: ex.status, Bank: &be})
	}
	if !ex.isJSON() {
		return "", g.fail(op, nonJSON(op, ex))
	}
	var pr printableResponse
	if err := json.Unmarshal(ex.body, &pr); err != nil || pr.Link == "" {
		return "", g.fail(op, &domain.ErrProtocol{Operation: op, Status: ex.status, Err: fmt.Errorf("response has no link")})
	}
	return pr.Link, nil
}

// ============================================================
// Plumbing
// ============================================================

func (g *Gateway) statusQuery(ctx context.Context, op, path string, q url.Values, kind domain.QueryKind, lookup string) (*domain.StatusDetail, error) {
	ex, err := g.call(ctx, op, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, g.fail(op, err)
	}
	if !ex.ok() {
		if ex.status == http.StatusNotFound {
			return nil, g.fail(op, &domain.ErrNotFound{Resource: "bill", ID: lookup})
		}
		be, err := g.classify(op, ex)
		if err != nil {
			return nil, g.fail(op, err)
		}
		if ex.status == http.StatusBadRequest || ex.status == http.StatusUnprocessableEntity {
			return nil, g.fail(op, &domain.ErrArgument{Field: "query", Message: be.String()})
		}
		return nil, g.fail(op, &domain.ErrProtocol{Operation: op, Status: ex.status, Bank: &be})
	}
	if !ex.isJSON() {
		return nil, g.fail(op, nonJSON(op, ex))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(ex.body, &fields); err != nil {
		return nil, g.fail(op, &domain.ErrProtocol{Operation: op, Status: ex.status, Err: err})
	}

	var detail *domain.StatusDetail
	if _, paged := fields["_content"]; paged {
		var env billsEnvelope
		if err := json.Unmarshal(ex.body, &env); err != nil {
			return nil, g.fail(op, &domain.ErrProtocol{Operation: op, Status: ex.status, Err: err})
		}
		detail, err = g.translator.Bills(&env, kind, lookup)
	} else {
		var bill billData
		if err := json.Unmarshal(ex.body, &bill); err != nil {
			return nil, g.fail(op, &domain.ErrProtocol{Operation: op, Status: ex.status, Err: err})
		}
		detail, err = g.translator.Bill(&bill, kind)
	}
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, g.fail(op, err)
		}
		return nil, g.fail(op, &domain.ErrProtocol{Operation: op, Status: ex.status, Err: err})
	}
	return detail, nil
}

// call runs one exchange through the bulkhead and the breaker.
func (g *Gateway) call(ctx context.Context, op, method, path string, query url.Values, payload any) (*exchange, error) {
	ctx, span := tracer.Start(ctx, "Gateway."+op)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("bank.path", path))

	start := time.Now()
	defer func() { g.metrics.RecordGatewayCall(op, time.Since(start)) }()

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", op, err)
		}
	}

	if err := g.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrProtocol{Operation: op, Err: err}
	}
	defer g.bulkhead.Release()

	out, err := g.cb.Execute(func() (any, error) {
		ex, err := g.send(ctx, op, method, path, query, body)
		if err != nil {
			return nil, err
		}
		if ex.status >= 500 {
			return ex, errUpstream
		}
		return ex, nil
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		span.SetStatus(codes.Error, "circuit open")
		return nil, &domain.ErrProtocol{Operation: op, Err: err}
	case err != nil && !errors.Is(err, errUpstream):
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ex := out.(*exchange)
	span.SetAttributes(attribute.Int("http.status_code", ex.status))
	return ex, nil
}

// send performs the request, refreshing the token and retrying exactly once
// on a 401.
func (g *Gateway) send(ctx context.Context, op, method, path string, query url.Values, body []byte) (*exchange, error) {
	for attempt := 0; ; attempt++ {
		token, err := g.tokens.GetToken(ctx)
		if err != nil {
			return nil, err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := g.transport.NewRequest(ctx, method, path, query, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Application-Key", g.cfg.applicationKey())
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := g.transport.Do(req)
		if err != nil {
			return nil, &domain.ErrProtocol{Operation: op, Err: err}
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if err != nil {
			return nil, &domain.ErrProtocol{Operation: op, Status: resp.StatusCode, Err: err}
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			g.logger.Warn("bank rejected bearer token; refreshing once", zap.String("operation", op))
			g.tokens.Invalidate(token)
			continue
		}
		return &exchange{status: resp.StatusCode, contentType: resp.Header.Get("Content-Type"), body: data}, nil
	}
}

// classify turns non-business failures into errors and otherwise returns
// the bank's error envelope for the caller to wrap. Credential failures are
// recognised by status alone; gateways in front of the API answer them
// with HTML or plain text.
func (g *Gateway) classify(op string, ex *exchange) (domain.BankError, error) {
	if ex.status == http.StatusUnauthorized || ex.status == http.StatusForbidden {
		var be domain.BankError
		reason := http.StatusText(ex.status)
		var env errorEnvelope
		if ex.isJSON() && json.Unmarshal(ex.body, &env) == nil {
			be = g.translator.BankError(&env)
			reason = be.String()
		}
		return be, &domain.ErrAuthenticationFailed{Status: ex.status, Reason: reason}
	}
	if !ex.isJSON() {
		return domain.BankError{}, nonJSON(op, ex)
	}
	var env errorEnvelope
	if err := json.Unmarshal(ex.body, &env); err != nil {
		return domain.BankError{}, &domain.ErrProtocol{Operation: op, Status: ex.status, Err: err}
	}
	be := g.translator.BankError(&env)
	if ex.status >= 500 {
		return be, &domain.ErrProtocol{Operation: op, Status: ex.status, Bank: &be}
	}
	return be, nil
}

func (g *Gateway) decodeBankSlip(op string, ex *exchange) (*domain.BankResponse, error) {
	if !ex.isJSON() {
		return nil, nonJSON(op, ex)
	}
	var r bankSlipResponse
	if err := json.Unmarshal(ex.body, &r); err != nil {
		return nil, &domain.ErrProtocol{Operation: op, Status: ex.status, Err: err}
	}
	resp, err := g.translator.BankSlip(&r)
	if err != nil {
		return nil, &domain.ErrProtocol{Operation: op, Status: ex.status, Err: err}
	}
	return resp, nil
}

// fail counts and logs a failed operation and returns err unchanged.
func (g *Gateway) fail(op string, err error) error {
	kind := errorKind(err)
	g.metrics.IncrGatewayError(op, kind)
	if kind == "protocol" || kind == "auth" {
		g.logger.Error("bank gateway call failed", zap.String("operation", op), zap.String("kind", kind), zap.Error(err))
	}
	return err
}

func errorKind(err error) string {
	var (
		protoErr *domain.ErrProtocol
		authErr  *domain.ErrAuthenticationFailed
		regErr   *domain.ErrRegistration
		nfErr    *domain.ErrNotFound
		argErr   *domain.ErrArgument
	)
	switch {
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &protoErr):
		return "protocol"
	case errors.As(err, &regErr):
		return "registration"
	case errors.As(err, &nfErr):
		return "not_found"
	case errors.As(err, &argErr):
		return "argument"
	}
	return "other"
}

func nonJSON(op string, ex *exchange) error {
	ct := ex.contentType
	if ct == "" {
		ct = "unknown content type"
	}
	return &domain.ErrProtocol{
		Operation: op,
		Status:    ex.status,
		Err:       fmt.Errorf("bank returned non-JSON response (%s): %s", ct, truncate(string(ex.body), 200)),
	}
}

func (g *Gateway) bankSlipPath(covenantCode, bankNumber string, referenceDate time.Time) (string, url.Values, error) {
	if err := requireDigits("covenantCode", covenantCode); err != nil {
		return "", nil, err
	}
	if err := requireDigits("bankNumber", bankNumber); err != nil {
		return "", nil, err
	}
	if referenceDate.IsZero() {
		return "", nil, &domain.ErrArgument{Field: "referenceDate", Message: "required"}
	}
	path := workspacePath + url.PathEscape(g.cfg.WorkspaceID) + "/bank_slips/" + covenantCode + bankNumber
	q := url.Values{}
	q.Set("nsuDate", referenceDate.Format(domain.DateLayout))
	return path, q, nil
}

func requireDigits(field, v string) error {
	if v == "" {
		return &domain.ErrArgument{Field: field, Message: "required"}
	}
	if domain.OnlyDigits(v) != v {
		return &domain.ErrArgument{Field: field, Message: "must contain digits only"}
	}
	return nil
}

// registrationPayload renders the boleto with every amount as a two-digit
// fixed-point string.
func (g *Gateway) registrationPayload(b *domain.Boleto) (*registrationRequest, error) {
	if !b.NominalValue.IsPositive() {
		return nil, &domain.ErrArgument{Field: "nominalValue", Message: "must be greater than zero"}
	}
	if b.ExternalReference == "" || b.ExternalReferenceDate.IsZero() {
		return nil, &domain.ErrArgument{Field: "externalReference", Message: "reference and reference date are required"}
	}

	req := &registrationRequest{
		Environment:  g.cfg.environment(),
		NsuCode:      b.ExternalReference,
		NsuDate:      b.ExternalReferenceDate.Format(domain.DateLayout),
		CovenantCode: b.CovenantCode,
		BankNumber:   b.BankNumber,
		ClientNumber: b.ClientNumber,
		DueDate:      b.DueDate.Format(domain.DateLayout),
		IssueDate:    b.IssueDate.Format(domain.DateLayout),
		NominalValue: FormatMoney(b.NominalValue),
		Payer: wirePayer{
			Name:           b.Payer.Name,
			DocumentType:   b.Payer.DocumentType,
			DocumentNumber: b.Payer.DocumentNumber,
			Address:        b.Payer.Address,
			Neighborhood:   b.Payer.Neighborhood,
			City:           b.Payer.City,
			State:          b.Payer.State,
			ZipCode:        b.Payer.ZipCode,
		},
		DocumentKind: b.DocumentKind,
		PaymentType:  "REGISTRO",
		Messages:     b.Messages,
	}
	if req.DocumentKind == "" {
		req.DocumentKind = g.cfg.DocumentKind
	}
	if b.FinePercentage.Valid {
		req.FinePercentage = FormatMoney(b.FinePercentage.Decimal)
	}
	if b.FineQuantityDays != nil {
		req.FineQuantityDays = strconv.Itoa(*b.FineQuantityDays)
	}
	if b.InterestPercentage.Valid {
		req.InterestPercentage = FormatMoney(b.InterestPercentage.Decimal)
	}
	if b.DeductionValue.Valid {
		req.DeductionValue = FormatMoney(b.DeductionValue.Decimal)
	}
	if b.WriteOffQuantityDays != nil {
		req.WriteOffQuantityDays = strconv.Itoa(*b.WriteOffQuantityDays)
	}
	if g.cfg.PixKey != "" {
		keyType := g.cfg.PixKeyType
		if keyType == "" {
			keyType = "CNPJ"
		}
		req.Key = &wireKey{Type: keyType, DictKey: g.cfg.PixKey}
	}
	return req, nil
}
