package service

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
)

// Bank field limits for the payer block.
const (
	maxPayerName     = 40
	maxAddress       = 40
	maxNeighborhood  = 30
	maxCity          = 20
	maxDocumentChars = 15
)

// BuilderConfig carries the biller-side constants stamped on every boleto.
type BuilderConfig struct {
	CovenantCode string
	DocumentKind string
}

// Builder turns a contract installment into a boleto ready for registration.
type Builder struct {
	cfg      BuilderConfig
	validate *validator.Validate

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBuilder creates a builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	return &Builder{
		cfg:      cfg,
		validate: validator.New(),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Build assembles a Pending boleto. The payer is snapshotted and sanitised
// here and never re-derived from the contract afterwards.
func (b *Builder) Build(c *domain.Contract, inst domain.Installment, reference string, now time.Time, opts domain.IssueOptions) (*domain.Boleto, error) {
	if err := b.validate.Struct(opts); err != nil {
		return nil, validationError(err)
	}
	if !inst.Value.IsPositive() {
		return nil, &domain.ErrArgument{Field: "nominalValue", Message: "must be greater than zero"}
	}
	today := dateOnly(now)
	if dateOnly(inst.DueDate).Before(today) {
		return nil, &domain.ErrArgument{Field: "dueDate", Message: "must not be in the past"}
	}

	clientNumber := opts.ClientNumber
	if clientNumber == "" {
		clientNumber = reference
	}
	bo := &domain.Boleto{
		ID:                    uuid.New().String(),
		ContractID:            c.ID,
		ExternalReference:     reference,
		ExternalReferenceDate: today,
		CovenantCode:          b.cfg.CovenantCode,
		BankNumber:            b.bankNumber(now),
		ClientNumber:          clientNumber,
		DueDate:               dateOnly(inst.DueDate),
		IssueDate:             today,
		NominalValue:          inst.Value.Round(2),
		DocumentKind:          b.cfg.DocumentKind,
		Payer:                 SanitizePayer(c.Payer),
		FinePercentage:        round2(opts.FinePercentage),
		FineQuantityDays:      opts.FineQuantityDays,
		InterestPercentage:    round2(opts.InterestPercentage),
		DeductionValue:        round2(opts.DeductionValue),
		WriteOffQuantityDays:  opts.WriteOffQuantityDays,
		Messages:              opts.Messages,
		Status:                domain.StatusPending,
		Active:                true,
		InstallmentNumber:     inst.Number,
		InstallmentTotal:      inst.Total,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := b.validate.Struct(bo); err != nil {
		return nil, validationError(err)
	}
	return bo, nil
}

// bankNumber is unix seconds followed by three random digits, 13 chars.
func (b *Builder) bankNumber(now time.Time) string {
	b.mu.Lock()
	n := b.rnd.Intn(1000)
	b.mu.Unlock()
	return fmt.Sprintf("%010d%03d", now.Unix()%10_000_000_000, n)
}

// SanitizePayer strips accents, truncates every field to the bank's limits
// and fills the address parts the bank requires.
func SanitizePayer(p domain.ContractPayer) domain.PayerSnapshot {
	doc := domain.OnlyDigits(p.DocumentNumber)
	docType := strings.ToUpper(strings.TrimSpace(p.DocumentType))
	if docType != "CPF" && docType != "CNPJ" {
		docType = "CPF"
		if len(doc) > 11 {
			docType = "CNPJ"
		}
	}
	state := strings.ToUpper(clean(p.State, 2))
	if len(state) != 2 {
		state = "SP"
	}
	return domain.PayerSnapshot{
		Name:           clean(p.Name, maxPayerName),
		DocumentType:   docType,
		DocumentNumber: truncate(doc, maxDocumentChars),
		Address:        orDefault(clean(p.Address, maxAddress), "Endereco nao informado"),
		Neighborhood:   orDefault(clean(p.Neighborhood, maxNeighborhood), "Bairro nao informado"),
		City:           orDefault(clean(p.City, maxCity), "Cidade nao informada"),
		State:          state,
		ZipCode:        FormatZipCode(p.ZipCode),
	}
}

// FormatZipCode renders a CEP as 00000-000. Short inputs are left-padded.
func FormatZipCode(raw string) string {
	d := domain.OnlyDigits(raw)
	if len(d) > 8 {
		d = d[:8]
	}
	d = strings.Repeat("0", 8-len(d)) + d
	return d[:5] + "-" + d[5:]
}

func clean(s string, max int) string {
	s = strings.Join(strings.Fields(domain.FoldAccents(s)), " ")
	return strings.TrimSpace(truncate(s, max))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func round2(d decimal.NullDecimal) decimal.NullDecimal {
	if !d.Valid {
		return d
	}
	return decimal.NewNullDecimal(d.Decimal.Round(2))
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &domain.ErrArgument{Field: fe.Namespace(), Message: fmt.Sprintf("failed %q validation", fe.Tag())}
	}
	return &domain.ErrArgument{Field: "boleto", Message: err.Error()}
}
