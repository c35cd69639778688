package santander

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Transport is an HTTPS client bound to the client certificate, a fixed base
// URL and a fixed timeout. It never retries; callers decide that.
type Transport struct {
	client  *http.Client
	baseURL string
}

// NewTransport builds the mTLS client. Relaxed server verification is an
// explicit opt-in and is refused for production configurations.
func NewTransport(cfg Config, cert *tls.Certificate) (*Transport, error) {
	if cert == nil {
		return nil, errors.New("santander transport: client certificate is required")
	}
	if cfg.InsecureSkipVerify && cfg.Production {
		return nil, errors.New("santander transport: insecure TLS verification is not allowed in production")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("santander transport: base URL is required")
	}

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		Certificates:       []tls.Certificate{*cert},
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.CAFile != "" {
		pemData, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("santander transport: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("santander transport: no certificates in %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = tlsCfg

	return &Transport{
		client:  &http.Client{Timeout: timeout, Transport: base},
		baseURL: cfg.BaseURL,
	}, nil
}

// NewTransportWithClient wraps an existing client, e.g. an httptest server client.
func NewTransportWithClient(baseURL string, client *http.Client) *Transport {
	return &Transport{client: client, baseURL: baseURL}
}

// BaseURL returns the fixed base address.
func (t *Transport) BaseURL() string { return t.baseURL }

// Timeout returns the per-request timeout.
func (t *Transport) Timeout() time.Duration { return t.client.Timeout }

// NewRequest builds a request against the base URL.
func (t *Transport) NewRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := t.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return http.NewRequestWithContext(ctx, method, u, body)
}

// Do sends the request once.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}
