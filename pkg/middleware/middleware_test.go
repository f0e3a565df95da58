package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/diagnosis/community-hub/pkg/logger"
	"github.com/diagnosis/community-hub/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recover)
	r.Use(Health)
	r.Use(Metrics(m))
	r.Get("/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := r.Context().Value(logger.RequestIDKey).(string)
		w.Write([]byte(id))
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) { panic("boom") })
	return r
}

func TestRequestID_GeneratedAndEchoed(t *testing.T) {
	srv := httptest.NewServer(newRouter(metrics.New("test")))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/things/1")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, resp.Header.Get("X-Request-ID"), string(body))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/things/2", nil)
	req.Header.Set("X-Request-ID", "given-id")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "given-id", resp2.Header.Get("X-Request-ID"))
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(newRouter(metrics.New("test")))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestRecover_ReturnsJSON500(t *testing.T) {
	srv := httptest.NewServer(newRouter(metrics.New("test")))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/boom")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestMetrics_RecordsRoutePattern(t *testing.T) {
	srv := httptest.NewServer(newRouter(metrics.New("test")))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/things/42")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Contains(t, string(body), `http_requests_total{method="GET",route="/things/{id}",service="test",status="200"} 1`)
}

type countingLimiter struct {
	counts map[string]int
}

func (c *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	c.counts[key]++
	return c.counts[key] <= limit, nil
}

func TestRateLimit(t *testing.T) {
	l := &countingLimiter{counts: map[string]int{}}
	h := RateLimit(l, RateLimitConfig{Requests: 2, Window: time.Minute, KeyFunc: ClientIPKey("test:")})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	)

	do := func(addr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:5678").Code)
	rec := do("10.0.0.1:9999")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")

	assert.Equal(t, http.StatusNoContent, do("10.0.0.2:1").Code)
	assert.Equal(t, 3, l.counts["test:ip:10.0.0.1"])
}

func TestRateLimit_NilLimiterPassesThrough(t *testing.T) {
	h := RateLimit(nil, RateLimitConfig{Requests: 1, Window: time.Minute, KeyFunc: ClientIPKey("")})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestParseTrustedProxies(t *testing.T) {
	nets, err := ParseTrustedProxies([]string{"10.0.0.0/8", "127.0.0.1", "::1"})
	require.NoError(t, err)
	require.Len(t, nets, 3)
	assert.True(t, peerTrusted("10.1.2.3:80", nets))
	assert.True(t, peerTrusted("127.0.0.1:5000", nets))
	assert.True(t, peerTrusted("[::1]:5000", nets))
	assert.False(t, peerTrusted("127.0.0.2:5000", nets))
	assert.False(t, peerTrusted("192.0.2.1:80", nil))

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}

func TestTrustedRealIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	var seen string
	h := TrustedRealIP(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.RemoteAddr
	}))

	do := func(peer, xff string) string {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = peer
		r.Header.Set("X-Forwarded-For", xff)
		h.ServeHTTP(httptest.NewRecorder(), r)
		return seen
	}

	assert.Equal(t, "198.51.100.7", do("10.0.0.5:4000", "198.51.100.7"))
	assert.Equal(t, "192.0.2.1:4000", do("192.0.2.1:4000", "198.51.100.7"))
}

func TestRateLimit_IgnoresSpoofedForwardingHeaders(t *testing.T) {
	l := &countingLimiter{counts: map[string]int{}}
	h := TrustedRealIP(nil)(RateLimit(l, RateLimitConfig{Requests: 2, Window: time.Minute, KeyFunc: ClientIPKey("test:")})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	))

	var codes []int
	for i := 0; i < 4; i++ {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.RemoteAddr = "192.0.2.1:1234"
		r.Header.Set("X-Forwarded-For", "203.0.113."+strconv.Itoa(i))
		r.Header.Set("X-Real-IP", "203.0.113."+strconv.Itoa(i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{204, 204, 429, 429}, codes)
}
