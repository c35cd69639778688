// Package supabase is the PostgREST persistence sink for boletos and batch
// runs, plus the contract billing view. It is the alternative to the gorm
// store for deployments whose data lives in Supabase.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/resilience"
)

var tracer = otel.Tracer("supabase")

const maxBody = 8 << 20

// Client wraps HTTP calls to the Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client. Reads are retried per cfg; writes
// are sent once.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cfg resilience.Config, logger *zap.Logger) *Client {
	if apiKey == "" {
		apiKey = serviceRoleKey
	}
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             resilience.NewCircuitBreaker("supabase", healthyUpstream),
		cfg:            cfg,
		logger:         logger,
	}
}

// apiError is PostgREST's error body plus the HTTP status.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("supabase returned %d", e.Status)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// uniqueViolation is the Postgres SQLSTATE PostgREST forwards on 409.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.Code == uniqueViolation
}

// healthyUpstream keeps 4xx answers from tripping the breaker.
func healthyUpstream(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Status < 500
	}
	return err == nil || errors.Is(err, context.Canceled)
}

// response is one PostgREST answer.
type response struct {
	status int
	body   []byte
	header http.Header
}

// total parses the Content-Range header ("0-19/57", "*/0") written when
// the request asked for an exact count.
func (r *response) total() int {
	cr := r.header.Get("Content-Range")
	i := strings.LastIndexByte(cr, '/')
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(cr[i+1:])
	if err != nil {
		return 0
	}
	return n
}

// ============================================================
// HTTP helpers
// ============================================================

// doGet reads path with retry. prefer may ask for an exact count.
func (c *Client) doGet(ctx context.Context, path, prefer string) (*response, error) {
	var out *response
	err := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
		resp, err := c.execute(ctx, http.MethodGet, path, nil, prefer)
		if err != nil {
			var ae *apiError
			if errors.As(err, &ae) && ae.Status < 500 {
				return resilience.Permanent(err)
			}
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

func (c *Client) doPost(ctx context.Context, table string, data any) (*response, error) {
	return c.execute(ctx, http.MethodPost, table, data, "return=representation")
}

func (c *Client) doPatch(ctx context.Context, path string, data any) (*response, error) {
	return c.execute(ctx, http.MethodPatch, path, data, "return=representation")
}

func (c *Client) execute(ctx context.Context, method, path string, data any, prefer string) (*response, error) {
	res, err := c.cb.Execute(func() (any, error) {
		return c.send(ctx, method, path, data, prefer)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("supabase: circuit open", zap.String("method", method), zap.String("path", path))
		}
		return nil, err
	}
	return res.(*response), nil
}

// send executes an authenticated request to Supabase PostgREST.
func (c *Client) send(ctx context.Context, method, path string, data any, prefer string) (*response, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)

	var body io.Reader
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceRoleKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read supabase response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ae := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(raw, ae) != nil {
			ae.Message = string(raw)
		}
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", ae.Code),
		)
		return nil, ae
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return &response{status: resp.StatusCode, body: raw, header: resp.Header}, nil
}

func decodeRows[T any](r *response) ([]T, error) {
	if len(bytes.TrimSpace(r.body)) == 0 {
		return nil, nil
	}
	var rows []T
	if err := json.Unmarshal(r.body, &rows); err != nil {
		return nil, fmt.Errorf("decode supabase rows: %w", err)
	}
	return rows, nil
}
