package santander

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
)

var statusVocabulary = map[string]domain.BankStatus{
	"ATIVO":                  domain.BankStatusActive,
	"ACTIVE":                 domain.BankStatusActive,
	"ABERTO":                 domain.BankStatusActive,
	"EM ABERTO":              domain.BankStatusActive,
	"VENCIDO":                domain.BankStatusActive,
	"REGISTRADO":             domain.BankStatusRegistered,
	"REGISTERED":             domain.BankStatusRegistered,
	"BAIXADO":                domain.BankStatusWrittenOff,
	"BAIXA":                  domain.BankStatusWrittenOff,
	"WRITTEN OFF":            domain.BankStatusWrittenOff,
	"WRITTENOFF":             domain.BankStatusWrittenOff,
	"LIQUIDADO":              domain.BankStatusSettled,
	"PAGO":                   domain.BankStatusSettled,
	"PAID":                   domain.BankStatusSettled,
	"SETTLED":                domain.BankStatusSettled,
	"LIQUIDADO PARCIALMENTE": domain.BankStatusPartiallySettled,
	"LIQUIDADO PARCIAL":      domain.BankStatusPartiallySettled,
	"PARTIALLY SETTLED":      domain.BankStatusPartiallySettled,
	"CANCELADO":              domain.BankStatusCancelled,
	"CANCELLED":              domain.BankStatusCancelled,
	"CANCELED":               domain.BankStatusCancelled,
}

var statusDescriptions = map[domain.BankStatus]string{
	domain.BankStatusActive:           "Boleto em aberto (vencido ou a vencer)",
	domain.BankStatusWrittenOff:       "Boleto baixado (pagamento via PIX ou baixa manual)",
	domain.BankStatusSettled:          "Boleto liquidado (pagamento via linha digitável/código de barras)",
	domain.BankStatusPartiallySettled: "Boleto com pagamento parcial",
	domain.BankStatusCancelled:        "Boleto cancelado",
	domain.BankStatusRegistered:       "Boleto registrado, aguardando pagamento",
}

func canonicalStatus(raw string) string {
	s := strings.ToUpper(domain.FoldAccents(raw))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeStatus maps a raw bank status, in any case or wording, onto the
// closed internal set. Unrecognised values map to Unknown.
func NormalizeStatus(raw string) domain.BankStatus {
	if st, ok := statusVocabulary[canonicalStatus(raw)]; ok {
		return st
	}
	return domain.BankStatusUnknown
}

// DescribeStatus returns the human description for a raw status. Unknown
// values are echoed as received.
func DescribeStatus(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "Status não informado"
	}
	if d, ok := statusDescriptions[NormalizeStatus(raw)]; ok {
		return d
	}
	return raw
}

// Translator turns wire shapes into domain results. All parsing of the
// bank's loosely typed fields happens here.
type Translator struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewTranslator creates a translator.
func NewTranslator(logger *zap.Logger, now func() time.Time) *Translator {
	if now == nil {
		now = time.Now
	}
	return &Translator{logger: logger, now: now}
}

// BankError copies the error envelope verbatim.
func (t *Translator) BankError(env *errorEnvelope) domain.BankError {
	be := domain.BankError{
		Code:      env.ErrorCode.String(),
		Message:   env.Message,
		Details:   env.Details,
		Timestamp: env.Timestamp,
		TraceID:   env.TraceID,
	}
	for _, e := range env.Errors {
		be.Fields = append(be.Fields, domain.FieldError{Code: e.Code.String(), Field: e.Field, Message: e.Message})
	}
	return be
}

// BankSlip translates a registration or direct-query response.
func (t *Translator) BankSlip(r *bankSlipResponse) (*domain.BankResponse, error) {
	out := &domain.BankResponse{
		Reference:     r.NsuCode,
		CovenantCode:  r.CovenantCode.String(),
		BankNumber:    r.BankNumber.String(),
		ClientNumber:  r.ClientNumber.String(),
		Barcode:       r.BarCode,
		DigitableLine: r.DigitableLine,
		PixCode:       r.QrCodePix,
		PixURL:        r.QrCodeURL,
		RawStatus:     r.Status,
	}
	if r.Status != "" {
		out.Status = NormalizeStatus(r.Status)
	}

	refDate, err := parseDateOptional(r.NsuDate)
	if err != nil {
		return nil, fmt.Errorf("nsuDate: %w", err)
	}
	if refDate != nil {
		out.ReferenceDate = *refDate
	}
	if out.DueDate, err = parseDateOptional(r.DueDate); err != nil {
		return nil, fmt.Errorf("dueDate: %w", err)
	}
	if out.IssueDate, err = parseDateOptional(r.IssueDate); err != nil {
		return nil, fmt.Errorf("issueDate: %w", err)
	}
	if out.EntryDate, err = parseDateOptional(r.EntryDate); err != nil {
		return nil, fmt.Errorf("entryDate: %w", err)
	}
	nominal, err := parseMoney(r.NominalValue)
	if err != nil {
		return nil, fmt.Errorf("nominalValue: %w", err)
	}
	if nominal.Valid {
		out.NominalValue = nominal.Decimal
	}
	return out, nil
}

// Bills flattens the paginated status envelope to its first element. More
// than one element is not expected for the supported query shapes and is
// logged rather than silently dropped. An empty page is a NotFound.
func (t *Translator) Bills(env *billsEnvelope, kind domain.QueryKind, lookup string) (*domain.StatusDetail, error) {
	if env == nil || len(env.Content) == 0 {
		return nil, &domain.ErrNotFound{Resource: "bill", ID: lookup}
	}
	more := env.Pageable != nil && env.Pageable.MoreElements
	if len(env.Content) > 1 || more {
		t.logger.Warn("bank returned more than one bill for a single-document query; using the first",
			zap.String("lookup", lookup),
			zap.Int("elements", len(env.Content)),
			zap.Bool("more_elements", more),
		)
	}
	return t.Bill(&env.Content[0], kind)
}

// Bill translates one bill record into the flat status detail.
func (t *Translator) Bill(b *billData, kind domain.QueryKind) (*domain.StatusDetail, error) {
	d := &domain.StatusDetail{
		BeneficiaryCode: b.BeneficiaryCode.String(),
		BankNumber:      b.BankNumber.String(),
		ClientNumber:    b.ClientNumber.String(),
		Reference:       b.NsuCode,
		ReferenceDate:   b.NsuDate,
		RawStatus:       strings.ToUpper(strings.TrimSpace(b.Status)),
		Status:          NormalizeStatus(b.Status),
		Description:     DescribeStatus(b.Status),
		DueDate:         b.DueDate,
		IssueDate:       b.IssueDate,
		EntryDate:       b.EntryDate,
		SettlementDate:  b.SettlementDate,
		PixCode:         b.QrCodePix,
		PixURL:          b.QrCodeURL,
		Barcode:         b.BarCode,
		DigitableLine:   b.DigitableLine,
		DocumentKind:    b.DocumentKind,
		Messages:        b.Messages,
		Kind:            string(kind),
		QueriedAt:       t.now().UTC(),
	}
	if d.Status == domain.BankStatusUnknown && b.Status != "" {
		t.logger.Warn("unrecognised bank status", zap.String("status", b.Status))
	}

	money := []struct {
		name string
		src  flexString
		dst  *decimal.NullDecimal
	}{
		{"nominalValue", b.NominalValue, &d.NominalValue},
		{"paidValue", b.PaidValue, &d.PaidValue},
		{"discountValue", b.DiscountValue, &d.DiscountValue},
		{"fineValue", b.FineValue, &d.FineValue},
		{"interestValue", b.InterestValue, &d.InterestValue},
	}
	for _, m := range money {
		v, err := parseMoney(m.src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.name, err)
		}
		*m.dst = v
	}

	if b.Payer != nil {
		d.Payer = &domain.PayerInfo{
			Name:           b.Payer.Name,
			DocumentType:   b.Payer.DocumentType,
			DocumentNumber: b.Payer.DocumentNumber,
			Address:        b.Payer.Address,
			Neighborhood:   b.Payer.Neighborhood,
			City:           b.Payer.City,
			State:          b.Payer.State,
			ZipCode:        b.Payer.ZipCode,
		}
	}

	for _, s := range b.Settlements {
		v, err := parseMoney(s.SettlementValue)
		if err != nil {
			return nil, fmt.Errorf("settlementValue: %w", err)
		}
		d.Settlements = append(d.Settlements, domain.Settlement{
			Type:   s.SettlementType,
			Date:   s.SettlementDate,
			Value:  v,
			Origin: s.SettlementOrigin,
			Bank:   s.BankCode.String(),
			Branch: s.BankBranch.String(),
		})
	}

	if b.RegistryInfo != nil {
		cost, err := parseMoney(b.RegistryInfo.RegistryCost)
		if err != nil {
			return nil, fmt.Errorf("registryCost: %w", err)
		}
		d.Registry = &domain.RegistryInfo{
			Date:         b.RegistryInfo.RegistryDate,
			Number:       b.RegistryInfo.RegistryNumber.String(),
			NotaryOffice: b.RegistryInfo.NotaryOffice,
			Cost:         cost,
		}
	}
	return d, nil
}

// parseMoney reads a decimal string (or bare JSON number) without ever
// passing through float64. A lone comma is accepted as decimal separator.
func parseMoney(f flexString) (decimal.NullDecimal, error) {
	s := f.String()
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("malformed decimal %q", f.String())
	}
	return decimal.NewNullDecimal(d), nil
}

// FormatMoney renders a value with exactly two fractional digits.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func parseDateOptional(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := parseDateRequired(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDateRequired(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(domain.DateLayout) {
		s = s[:len(domain.DateLayout)]
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed date %q", s)
	}
	return t, nil
}
