package santander

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
)

// SimulatedPDF is the printable link every simulated bank slip returns.
const SimulatedPDF = "https://www.w3.org/WAI/ER/tests/xhtml/testfiles/resources/pdf/dummy.pdf"

type simulatedSlip struct {
	resp      domain.BankResponse
	payer     domain.PayerSnapshot
	rawStatus string
	paid      decimal.NullDecimal
	settledAt string
}

// Simulator stands in for the bank in development. It keeps an in-memory
// ledger, rejects reused references like the real API and produces
// well-formed barcode, digitable line and PIX artifacts.
type Simulator struct {
	cfg        Config
	translator *Translator
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	slips map[string]*simulatedSlip // covenant+bankNumber
	refs  map[string]string         // reference@date -> slip key
}

// NewSimulator creates an empty ledger.
func NewSimulator(cfg Config, logger *zap.Logger) *Simulator {
	logger.Warn("santander gateway running in SIMULATION mode; no bank slip is real")
	return &Simulator{
		cfg:        cfg,
		translator: NewTranslator(logger, time.Now),
		logger:     logger,
		now:        time.Now,
		slips:      make(map[string]*simulatedSlip),
		refs:       make(map[string]string),
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Simulator) WithClock(now func() time.Time) *Simulator {
	s.now = now
	s.translator = NewTranslator(s.logger, now)
	return s
}

func (s *Simulator) Register(_ context.Context, b *domain.Boleto) (*domain.BankResponse, error) {
	if !b.NominalValue.IsPositive() {
		return nil, &domain.ErrArgument{Field: "nominalValue", Message: "must be greater than zero"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := b.ReferenceKey()
	if _, taken := s.refs[ref]; taken {
		return nil, &domain.ErrRegistration{
			Reference: ref,
			Status:    400,
			Bank: domain.BankError{
				Code:    "400",
				Message: "Bad Request",
				Fields:  []domain.FieldError{{Code: "DUPLICATED", Field: "nsuCode", Message: "nsuCode already registered for nsuDate"}},
			},
		}
	}
	covenant := b.CovenantCode
	if covenant == "" {
		covenant = s.cfg.CovenantCode
	}
	key := covenant + b.BankNumber
	if _, taken := s.slips[key]; taken {
		return nil, &domain.ErrRegistration{
			Reference: ref,
			Status:    400,
			Bank: domain.BankError{
				Code:    "400",
				Message: "Bad Request",
				Fields:  []domain.FieldError{{Code: "DUPLICATED", Field: "bankNumber", Message: "bankNumber already registered"}},
			},
		}
	}

	now := s.now()
	entry := now
	due := b.DueDate
	issue := b.IssueDate
	barcode := simulatedBarcode(b.DueDate, b.NominalValue, covenant, b.BankNumber)
	resp := domain.BankResponse{
		Reference:     b.ExternalReference,
		ReferenceDate: b.ExternalReferenceDate,
		CovenantCode:  covenant,
		BankNumber:    b.BankNumber,
		ClientNumber:  b.ClientNumber,
		DueDate:       &due,
		IssueDate:     &issue,
		EntryDate:     &entry,
		NominalValue:  b.NominalValue,
		Barcode:       barcode,
		DigitableLine: digitableLine(barcode),
		PixCode:       simulatedPix(s.cfg.PixKey, b.ExternalReference, b.NominalValue),
		PixURL:        "https://pix.simulado.dev/qr/" + b.ExternalReference,
		RawStatus:     "ATIVO",
		Status:        domain.BankStatusActive,
	}
	s.slips[key] = &simulatedSlip{resp: resp, payer: b.Payer, rawStatus: "ATIVO"}
	s.refs[ref] = key

	s.logger.Info("simulated bank slip registered", zap.String("reference", ref), zap.String("bank_number", b.BankNumber))
	out := resp
	return &out, nil
}

func (s *Simulator) Query(_ context.Context, covenantCode, bankNumber string, referenceDate time.Time) (*domain.BankResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slip, ok := s.slips[covenantCode+bankNumber]
	if !ok || !slip.resp.ReferenceDate.Equal(referenceDate) {
		return nil, &domain.ErrNotFound{Resource: "bank slip", ID: covenantCode + bankNumber}
	}
	out := slip.resp
	out.RawStatus = slip.rawStatus
	out.Status = NormalizeStatus(slip.rawStatus)
	return &out, nil
}

func (s *Simulator) Cancel(_ context.Context, covenantCode, bankNumber string, referenceDate time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slip, ok := s.slips[covenantCode+bankNumber]
	if !ok || !slip.resp.ReferenceDate.Equal(referenceDate) {
		return false, nil
	}
	switch NormalizeStatus(slip.rawStatus) {
	case domain.BankStatusActive, domain.BankStatusRegistered:
		slip.rawStatus = "CANCELADO"
		return true, nil
	}
	return false, nil
}

func (s *Simulator) QueryStatusByInternalNumber(_ context.Context, beneficiaryCode, bankNumber string) (*domain.StatusDetail, error) {
	if err := requireDigits("beneficiaryCode", beneficiaryCode); err != nil {
		return nil, err
	}
	if err := requireDigits("bankNumber", bankNumber); err != nil {
		return nil, err
	}
	return s.find(func(sl *simulatedSlip) bool {
		return sl.resp.CovenantCode == beneficiaryCode && sl.resp.BankNumber == bankNumber
	}, domain.QueryKindDefault, beneficiaryCode+"/"+bankNumber)
}

func (s *Simulator) QueryStatusByClientReference(_ context.Context, beneficiaryCode, clientNumber string, dueDate time.Time, nominalValue decimal.Decimal) (*domain.StatusDetail, error) {
	if err := requireDigits("beneficiaryCode", beneficiaryCode); err != nil {
		return nil, err
	}
	return s.find(func(sl *simulatedSlip) bool {
		return sl.resp.CovenantCode == beneficiaryCode &&
			sl.resp.ClientNumber == clientNumber &&
			sl.resp.DueDate != nil && sl.resp.DueDate.Equal(dueDate) &&
			sl.resp.NominalValue.Equal(nominalValue)
	}, domain.QueryKindDefault, beneficiaryCode+"/"+clientNumber)
}

func (s *Simulator) QueryStatusByKind(_ context.Context, billID string, kind domain.QueryKind) (*domain.StatusDetail, error) {
	k, err := domain.ParseQueryKind(string(kind))
	if err != nil {
		return nil, err
	}
	// Bill ids are "covenant.bankNumber".
	covenant, number, ok := strings.Cut(billID, ".")
	if !ok {
		return nil, &domain.ErrArgument{Field: "billId", Message: "expected covenant.bankNumber"}
	}
	return s.find(func(sl *simulatedSlip) bool {
		return sl.resp.CovenantCode == covenant && sl.resp.BankNumber == number
	}, k, billID)
}

func (s *Simulator) PrintableLink(_ context.Context, bankNumber, covenantCode, payerDocument string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slips[covenantCode+bankNumber]; !ok {
		return "", &domain.ErrNotFound{Resource: "bank slip", ID: bankNumber + "." + covenantCode}
	}
	if domain.OnlyDigits(payerDocument) == "" {
		return "", &domain.ErrArgument{Field: "payerDocumentNumber", Message: "required"}
	}
	return SimulatedPDF, nil
}

// SetStatus changes the bank-side status of a simulated slip, e.g. to
// "LIQUIDADO" after a payment. It lets reconciliation be exercised
// without the real bank.
func (s *Simulator) SetStatus(covenantCode, bankNumber, rawStatus string, paid decimal.NullDecimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slip, ok := s.slips[covenantCode+bankNumber]
	if !ok {
		return &domain.ErrNotFound{Resource: "bank slip", ID: covenantCode + bankNumber}
	}
	slip.rawStatus = rawStatus
	slip.paid = paid
	if paid.Valid {
		slip.settledAt = s.now().Format(domain.DateLayout)
	}
	return nil
}

func (s *Simulator) find(match func(*simulatedSlip) bool, kind domain.QueryKind, lookup string) (*domain.StatusDetail, error) {
	s.mu.Lock()
	var env billsEnvelope
	for _, sl := range s.slips {
		if match(sl) {
			env.Content = append(env.Content, sl.bill())
		}
	}
	s.mu.Unlock()
	return s.translator.Bills(&env, kind, lookup)
}

// bill renders the slip in the bank's own wire shape so it goes through the
// same translation as real responses.
func (sl *simulatedSlip) bill() billData {
	r := sl.resp
	b := billData{
		BeneficiaryCode: flexString(r.CovenantCode),
		BankNumber:      flexString(r.BankNumber),
		ClientNumber:    flexString(r.ClientNumber),
		NsuCode:         r.Reference,
		NsuDate:         r.ReferenceDate.Format(domain.DateLayout),
		Status:          sl.rawStatus,
		NominalValue:    flexString(FormatMoney(r.NominalValue)),
		QrCodePix:       r.PixCode,
		QrCodeURL:       r.PixURL,
		BarCode:         r.Barcode,
		DigitableLine:   r.DigitableLine,
		SettlementDate:  sl.settledAt,
		Payer: &wirePayer{
			Name:           sl.payer.Name,
			DocumentType:   sl.payer.DocumentType,
			DocumentNumber: sl.payer.DocumentNumber,
			Address:        sl.payer.Address,
			Neighborhood:   sl.payer.Neighborhood,
			City:           sl.payer.City,
			State:          sl.payer.State,
			ZipCode:        sl.payer.ZipCode,
		},
	}
	if r.DueDate != nil {
		b.DueDate = r.DueDate.Format(domain.DateLayout)
	}
	if r.IssueDate != nil {
		b.IssueDate = r.IssueDate.Format(domain.DateLayout)
	}
	if r.EntryDate != nil {
		b.EntryDate = r.EntryDate.Format(domain.DateLayout)
	}
	if sl.paid.Valid {
		b.PaidValue = flexString(FormatMoney(sl.paid.Decimal))
		b.Settlements = []wireSettlement{{
			SettlementType:  "LIQUIDACAO",
			SettlementDate:  sl.settledAt,
			SettlementValue: flexString(FormatMoney(sl.paid.Decimal)),
			BankCode:        "033",
		}}
	}
	return b
}

// ============================================================
// Synthetic artifacts
// ============================================================

var dueFactorBase = time.Date(1997, 10, 7, 0, 0, 0, 0, time.UTC)

// simulatedBarcode lays out a 44-digit FEBRABAN barcode for bank 033 with
// a valid mod-11 check digit.
func simulatedBarcode(due time.Time, value decimal.Decimal, covenant, bankNumber string) string {
	y, m, d := due.Date()
	factor := int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Sub(dueFactorBase).Hours() / 24)
	if factor > 9999 {
		factor = (factor-10000)%9000 + 1000
	}
	cents := value.Shift(2).IntPart()
	free := "9" + leftPad(domain.OnlyDigits(covenant), 7) + leftPad(domain.OnlyDigits(bankNumber), 13) + "0101"
	body := "0339" + fmt.Sprintf("%04d%010d", factor, cents) + free
	return body[:4] + strconv.Itoa(mod11(body)) + body[4:]
}

// digitableLine renders the human-typed form of a 44-digit barcode.
func digitableLine(barcode string) string {
	if len(barcode) != 44 {
		return ""
	}
	f1 := barcode[0:4] + barcode[19:24]
	f2 := barcode[24:34]
	f3 := barcode[34:44]
	f1 += strconv.Itoa(mod10(f1))
	f2 += strconv.Itoa(mod10(f2))
	f3 += strconv.Itoa(mod10(f3))
	return fmt.Sprintf("%s.%s %s.%s %s.%s %s %s",
		f1[:5], f1[5:], f2[:5], f2[5:], f3[:5], f3[5:], barcode[4:5], barcode[5:19])
}

func mod10(digits string) int {
	sum, weight := 0, 2
	for i := len(digits) - 1; i >= 0; i-- {
		p := int(digits[i]-'0') * weight
		sum += p/10 + p%10
		weight = 3 - weight
	}
	return (10 - sum%10) % 10
}

func mod11(digits string) int {
	sum, weight := 0, 2
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	dv := 11 - sum%11
	if dv == 0 || dv == 1 || dv >= 10 {
		return 1
	}
	return dv
}

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s[len(s)-n:]
	}
	return strings.Repeat("0", n-len(s)) + s
}

// simulatedPix builds a static BR Code payload with a CRC16 trailer.
func simulatedPix(key, txid string, value decimal.Decimal) string {
	if key == "" {
		key = "simulado@pix.dev"
	}
	account := emv("00", "br.gov.bcb.pix") + emv("01", key)
	txid = leftPad(domain.OnlyDigits(txid), 10)
	payload := emv("00", "01") +
		emv("26", account) +
		emv("52", "0000") +
		emv("53", "986") +
		emv("54", FormatMoney(value)) +
		emv("58", "BR") +
		emv("59", "BOLETO SIMULADO") +
		emv("60", "SAO PAULO") +
		emv("62", emv("05", txid)) +
		"6304"
	return payload + fmt.Sprintf("%04X", crc16(payload))
}

func emv(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

// crc16 is CRC-16/CCITT-FALSE as required by the BR Code layout.
func crc16(s string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(s); i++ {
		crc ^= uint16(s[i]) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
