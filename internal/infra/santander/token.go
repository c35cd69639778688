package santander

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/observability"
)

// TokenSource hands out bearer tokens.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
	// Invalidate drops the cached token if it is still the given one.
	Invalidate(stale string)
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenCache obtains a client-credentials token and keeps it until its TTL
// minus the safety margin. Concurrent callers that find it stale share one
// refresh.
type TokenCache struct {
	transport    *Transport
	clientID     string
	clientSecret string
	appKey       string
	margin       time.Duration
	defaultTTL   time.Duration
	now          func() time.Time

	mu    sync.RWMutex
	token *cachedToken
	group singleflight.Group

	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewTokenCache creates the process-wide token cache.
func NewTokenCache(t *Transport, cfg Config, metrics *observability.Metrics, logger *zap.Logger) *TokenCache {
	margin := cfg.TokenSafetyMargin
	if margin <= 0 {
		margin = defaultMargin
	}
	ttl := cfg.TokenDefaultTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenCache{
		transport:    t,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		appKey:       cfg.applicationKey(),
		margin:       margin,
		defaultTTL:   ttl,
		now:          time.Now,
		metrics:      metrics,
		logger:       logger,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *TokenCache) WithClock(now func() time.Time) *TokenCache {
	c.now = now
	return c
}

// GetToken returns a valid bearer token, refreshing it when stale.
func (c *TokenCache) GetToken(ctx context.Context) (string, error) {
	if tok, ok := c.current(); ok {
		return tok, nil
	}

	ch := c.group.DoChan("token", func() (any, error) {
		// Another flight may have refreshed while we queued.
		if tok, ok := c.current(); ok {
			return tok, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token when it matches stale, so a newer token
// fetched concurrently is kept.
func (c *TokenCache) Invalidate(stale string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.token.value == stale {
		c.token = nil
	}
}

func (c *TokenCache) current() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil || !c.now().Before(c.token.expiresAt) {
		return "", false
	}
	return c.token.value, true
}

func (c *TokenCache) refresh(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "TokenCache.refresh")
	defer span.End()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := c.transport.NewRequest(ctx, http.MethodPost, tokenPath, nil, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Application-Key", c.appKey)

	start := time.Now()
	resp, err := c.transport.Do(req)
	c.metrics.RecordGatewayCall("token", time.Since(start))
	if err != nil {
		c.metrics.IncrTokenRefresh("error")
		span.RecordError(err)
		return "", &domain.ErrProtocol{Operation: "token", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.metrics.IncrTokenRefresh("error")
		return "", &domain.ErrProtocol{Operation: "token", Status: resp.StatusCode, Err: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.IncrTokenRefresh("rejected")
		c.logger.Error("token grant rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 300)),
		)
		return "", &domain.ErrAuthenticationFailed{Status: resp.StatusCode, Reason: grantRejection(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		c.metrics.IncrTokenRefresh("rejected")
		if err == nil {
			err = fmt.Errorf("access_token missing")
		}
		return "", &domain.ErrAuthenticationFailed{Status: resp.StatusCode, Reason: "unparsable token response", Err: err}
	}

	ttl := c.defaultTTL
	if s := tr.ExpiresIn.String(); s != "" {
		secs, err := strconv.Atoi(s)
		if err != nil || secs <= 0 {
			return "", &domain.ErrAuthenticationFailed{Status: resp.StatusCode, Reason: "unparsable expires_in " + strconv.Quote(s)}
		}
		ttl = time.Duration(secs) * time.Second
	} else {
		c.logger.Warn("token response has no expires_in; assuming default TTL",
			zap.Duration("default_ttl", c.defaultTTL))
	}

	now := c.now()
	expiresAt := now.Add(ttl - c.margin)
	if ttl <= c.margin {
		expiresAt = now.Add(ttl / 2)
	}

	c.mu.Lock()
	c.token = &cachedToken{value: tr.AccessToken, expiresAt: expiresAt}
	c.mu.Unlock()

	c.metrics.IncrTokenRefresh("success")
	c.logger.Info("access token refreshed",
		observability.Redacted("token", tr.AccessToken),
		zap.Duration("ttl", ttl),
		zap.Time("refresh_at", expiresAt),
	)
	return tr.AccessToken, nil
}

func grantRejection(body []byte) string {
	var oauth struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(body, &oauth) == nil && oauth.Error != "" {
		if oauth.ErrorDescription != "" {
			return oauth.Error + ": " + oauth.ErrorDescription
		}
		return oauth.Error
	}
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && !env.empty() {
		return strings.TrimSpace(env.ErrorCode.String() + " " + env.Message)
	}
	return "grant rejected"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
