package santander_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/observability"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/santander"
)

type tokenServer struct {
	calls atomic.Int32
	body  string
	code  int
	delay time.Duration
	seen  http.Header
	form  map[string]string
	mu    sync.Mutex
}

func (ts *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ts.calls.Add(1)
	if ts.delay > 0 {
		time.Sleep(ts.delay)
	}
	_ = r.ParseForm()
	ts.mu.Lock()
	ts.seen = r.Header.Clone()
	ts.form = map[string]string{
		"grant_type":    r.PostForm.Get("grant_type"),
		"client_id":     r.PostForm.Get("client_id"),
		"client_secret": r.PostForm.Get("client_secret"),
	}
	ts.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if ts.code != 0 {
		w.WriteHeader(ts.code)
	}
	_, _ = w.Write([]byte(ts.body))
}

func newTokenCache(t *testing.T, ts *tokenServer) *santander.TokenCache {
	t.Helper()
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)
	cfg := santander.Config{ClientID: "client-id", ClientSecret: "client-secret", ApplicationKey: "app-key"}
	return santander.NewTokenCache(santander.NewTransportWithClient(srv.URL, srv.Client()), cfg, observability.NewMetrics(), zap.NewNop())
}

func TestTokenCache_SingleCallWithinWindow(t *testing.T) {
	ts := &tokenServer{body: `{"access_token":"tok-1","expires_in":900}`}
	tc := newTokenCache(t, ts)

	a, err := tc.GetToken(context.Background())
	require.NoError(t, err)
	b, err := tc.GetToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tok-1", a)
	assert.Equal(t, a, b)
	assert.Equal(t, int32(1), ts.calls.Load())

	assert.Equal(t, "app-key", ts.seen.Get("X-Application-Key"))
	assert.Equal(t, "application/x-www-form-urlencoded", ts.seen.Get("Content-Type"))
	assert.Equal(t, "client_credentials", ts.form["grant_type"])
	assert.Equal(t, "client-id", ts.form["client_id"])
	assert.Equal(t, "client-secret", ts.form["client_secret"])
}

func TestTokenCache_RefreshesAfterMargin(t *testing.T) {
	ts := &tokenServer{body: `{"access_token":"tok","expires_in":"900"}`}
	tc := newTokenCache(t, ts)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tc.WithClock(func() time.Time { return now })

	_, err := tc.GetToken(context.Background())
	require.NoError(t, err)

	// 900s TTL minus the 5 minute margin leaves 10 minutes.
	now = now.Add(9 * time.Minute)
	_, err = tc.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), ts.calls.Load())

	now = now.Add(time.Minute)
	_, err = tc.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), ts.calls.Load())
}

func TestTokenCache_ConcurrentCallersShareOneRefresh(t *testing.T) {
	ts := &tokenServer{body: `{"access_token":"shared","expires_in":3600}`, delay: 50 * time.Millisecond}
	tc := newTokenCache(t, ts)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := tc.GetToken(context.Background())
			if err == nil && tok != "shared" {
				err = assert.AnError
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), ts.calls.Load())
}

func TestTokenCache_MissingExpiresInUsesDefault(t *testing.T) {
	ts := &tokenServer{body: `{"access_token":"tok"}`}
	tc := newTokenCache(t, ts)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tc.WithClock(func() time.Time { return now })

	_, err := tc.GetToken(context.Background())
	require.NoError(t, err)

	now = now.Add(54 * time.Minute)
	_, _ = tc.GetToken(context.Background())
	assert.Equal(t, int32(1), ts.calls.Load(), "default TTL of one hour minus margin")

	now = now.Add(2 * time.Minute)
	_, _ = tc.GetToken(context.Background())
	assert.Equal(t, int32(2), ts.calls.Load())
}

func TestTokenCache_Rejected(t *testing.T) {
	ts := &tokenServer{code: http.StatusUnauthorized, body: `{"error":"invalid_client","error_description":"bad secret"}`}
	tc := newTokenCache(t, ts)

	_, err := tc.GetToken(context.Background())
	var authErr *domain.ErrAuthenticationFailed
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.Equal(t, "invalid_client: bad secret", authErr.Reason)
}

func TestTokenCache_UnparsableBody(t *testing.T) {
	ts := &tokenServer{body: `<html>gateway</html>`}
	tc := newTokenCache(t, ts)

	_, err := tc.GetToken(context.Background())
	var authErr *domain.ErrAuthenticationFailed
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "unparsable token response", authErr.Reason)
}

func TestTokenCache_InvalidateOnlyDropsStaleToken(t *testing.T) {
	ts := &tokenServer{body: `{"access_token":"current","expires_in":3600}`}
	tc := newTokenCache(t, ts)

	_, err := tc.GetToken(context.Background())
	require.NoError(t, err)

	tc.Invalidate("something-older")
	_, _ = tc.GetToken(context.Background())
	assert.Equal(t, int32(1), ts.calls.Load())

	tc.Invalidate("current")
	_, _ = tc.GetToken(context.Background())
	assert.Equal(t, int32(2), ts.calls.Load())
}
