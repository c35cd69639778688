// Package santander is the client for the bank's collection (boleto) API:
// an mTLS transport, an OAuth2 client-credentials token cache, the protocol
// gateway with its status translator, and an in-memory simulator.
package santander

import "time"

// Config is the opaque configuration object the issuance core receives.
type Config struct {
	BaseURL        string
	WorkspaceID    string
	CovenantCode   string
	ClientID       string
	ClientSecret   string
	ApplicationKey string // sent as X-Application-Key; defaults to ClientID

	Timeout            time.Duration
	Production         bool
	InsecureSkipVerify bool // refused when Production
	CAFile             string

	// Environment is echoed in registration payloads.
	Environment  string
	DocumentKind string
	PixKey       string
	PixKeyType   string

	TokenSafetyMargin time.Duration
	TokenDefaultTTL   time.Duration

	// MaxConcurrency bounds in-flight gateway calls.
	MaxConcurrency int
}

func (c Config) applicationKey() string {
	if c.ApplicationKey != "" {
		return c.ApplicationKey
	}
	return c.ClientID
}

func (c Config) environment() string {
	if c.Environment != "" {
		return c.Environment
	}
	if c.Production {
		return "PRODUCAO"
	}
	return "TESTE"
}

const (
	tokenPath       = "/auth/oauth/v2/token"
	workspacePath   = "/collection_bill_management/v2/workspaces/"
	billsPath       = "/collection_bill_management/v2/bills"
	defaultTimeout  = 30 * time.Second
	defaultTokenTTL = time.Hour
	defaultMargin   = 5 * time.Minute
)
