package santander

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
)

// Disabled is the gateway used when no client certificate could be loaded.
// The process still starts so local reads keep working, but every bank
// operation fails with the certificate error.
type Disabled struct {
	Err *domain.ErrCertificateNotFound
}

// NewDisabled returns a gateway that refuses every call.
func NewDisabled(cause *domain.ErrCertificateNotFound) *Disabled {
	if cause == nil {
		cause = &domain.ErrCertificateNotFound{}
	}
	return &Disabled{Err: cause}
}

// Available always reports the missing certificate.
func (d *Disabled) Available() error {
	return d.Err
}

func (d *Disabled) Register(context.Context, *domain.Boleto) (*domain.BankResponse, error) {
	return nil, d.Err
}

func (d *Disabled) Query(context.Context, string, string, time.Time) (*domain.BankResponse, error) {
	return nil, d.Err
}

func (d *Disabled) Cancel(context.Context, string, string, time.Time) (bool, error) {
	return false, d.Err
}

func (d *Disabled) QueryStatusByInternalNumber(context.Context, string, string) (*domain.StatusDetail, error) {
	return nil, d.Err
}

func (d *Disabled) QueryStatusByClientReference(context.Context, string, string, time.Time, decimal.Decimal) (*domain.StatusDetail, error) {
	return nil, d.Err
}

func (d *Disabled) QueryStatusByKind(context.Context, string, domain.QueryKind) (*domain.StatusDetail, error) {
	return nil, d.Err
}

func (d *Disabled) PrintableLink(context.Context, string, string, string) (string, error) {
	return "", d.Err
}
