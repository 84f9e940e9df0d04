package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const sampleFeed = "aw_product_id,product_name,search_price\n1001,Trail Shoe,89.99\n"

func newTestFetcher() *HTTPFetcher {
	f := NewHTTPFetcher(HTTPOptions{
		UserAgent:  "feedsync-test",
		Timeout:    5 * time.Second,
		MaxRetries: 3,
	})
	f.backoffBase = time.Millisecond
	return f
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "feedsync-test", r.Header.Get("User-Agent"))
		assert.Empty(t, r.Header.Get("If-None-Match"))
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("ETag", `"feed-v1"`)
		io.WriteString(w, sampleFeed) //nolint:errcheck
	}))
	defer srv.Close()

	res, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/datafeed.csv")
	require.NoError(t, err)
	defer res.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, sampleFeed, string(body))
	assert.Equal(t, "text/csv", res.ContentType)
	assert.Equal(t, `"feed-v1"`, res.ETag)
}

func TestHTTPFetcher_FetchIfChanged_NotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"feed-v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"feed-v1"`)
		io.WriteString(w, sampleFeed) //nolint:errcheck
	}))
	defer srv.Close()

	f := newTestFetcher()

	res, unchanged, err := f.FetchIfChanged(context.Background(), srv.URL, "")
	require.NoError(t, err)
	assert.False(t, unchanged)
	require.NotNil(t, res)
	assert.Equal(t, `"feed-v1"`, res.ETag)
	require.NoError(t, res.Body.Close())

	res, unchanged, err = f.FetchIfChanged(context.Background(), srv.URL, `"feed-v1"`)
	require.NoError(t, err)
	assert.True(t, unchanged)
	assert.Nil(t, res)
}

func TestHTTPFetcher_FetchIfChanged_StaleValidator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `"feed-v1"`, r.Header.Get("If-None-Match"))
		w.Header().Set("ETag", `"feed-v2"`)
		io.WriteString(w, sampleFeed) //nolint:errcheck
	}))
	defer srv.Close()

	res, unchanged, err := newTestFetcher().FetchIfChanged(context.Background(), srv.URL, `"feed-v1"`)
	require.NoError(t, err)
	assert.False(t, unchanged)
	require.NotNil(t, res)
	assert.Equal(t, `"feed-v2"`, res.ETag)
	require.NoError(t, res.Body.Close())
}

func TestHTTPFetcher_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, sampleFeed) //nolint:errcheck
	}))
	defer srv.Close()

	res, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPFetcher_RetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPFetcher_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), hits.Load(), "a 4xx is permanent, not retried")
}

func TestHTTPFetcher_InvalidURL(t *testing.T) {
	_, err := newTestFetcher().Fetch(context.Background(), "://bad-url")
	require.Error(t, err)
}

func TestHTTPFetcher_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestFetcher().Fetch(ctx, srv.URL)
	require.Error(t, err)
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, retryableStatus(http.StatusTooManyRequests))
	assert.True(t, retryableStatus(http.StatusInternalServerError))
	assert.True(t, retryableStatus(http.StatusBadGateway))
	assert.True(t, retryableStatus(http.StatusGatewayTimeout))
	assert.False(t, retryableStatus(http.StatusOK))
	assert.False(t, retryableStatus(http.StatusNotModified))
	assert.False(t, retryableStatus(http.StatusNotFound))
	assert.False(t, retryableStatus(http.StatusForbidden))
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, 30*time.Second, f.opts.Timeout)
	assert.Equal(t, 3, f.opts.MaxRetries)
	assert.Equal(t, "feedsync/1.0", f.opts.UserAgent)
}

func TestDefaultRateLimiters_CoverFeedHosts(t *testing.T) {
	fixed := DefaultRateLimiters()
	adaptive := DefaultAdaptiveLimiters()
	for _, h := range feedHosts {
		assert.Contains(t, fixed, h)
		assert.Contains(t, adaptive, h)
	}
}

func TestHTTPFetcher_WaitPicksConfiguredLimiter(t *testing.T) {
	lim := rate.NewLimiter(1, 1)
	f := NewHTTPFetcher(HTTPOptions{
		RateLimiters: map[string]*rate.Limiter{"slow.example.com": lim},
	})

	// A configured fixed host yields no adaptive limiter.
	a, err := f.wait(context.Background(), "https://slow.example.com/feed.csv")
	require.NoError(t, err)
	assert.Nil(t, a)

	// The affiliate feed hosts get the adaptive limiter.
	a, err = f.wait(context.Background(), "https://productdata.awin.com/datafeed/download")
	require.NoError(t, err)
	assert.NotNil(t, a)

	// Unknown hosts fall back to the permissive default.
	a, err = f.wait(context.Background(), "https://cdn.example.net/feed.csv")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestAdaptiveLimiter_Retune(t *testing.T) {
	a := NewAdaptiveLimiter(8, 8)

	a.OnSuccess()
	assert.Greater(t, float64(a.Limit()), 8.0)

	a.OnRateLimit()
	a.OnRateLimit()
	assert.Less(t, float64(a.Limit()), 8.0)
}

func TestAdaptiveLimiter_StaysInBand(t *testing.T) {
	a := NewAdaptiveLimiter(8, 8)

	for i := 0; i < 50; i++ {
		a.OnSuccess()
	}
	assert.InDelta(t, 16.0, float64(a.Limit()), 1e-9, "growth caps at double the initial rate")

	for i := 0; i < 50; i++ {
		a.OnRateLimit()
	}
	assert.InDelta(t, 2.0, float64(a.Limit()), 1e-9, "shrink bottoms out at a quarter of the initial rate")
}

func TestAdaptiveLimiter_Wait(t *testing.T) {
	a := NewAdaptiveLimiter(100, 1)
	require.NoError(t, a.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, a.Wait(ctx))
}

func TestHTTPFetcher_429ShrinksAdaptiveRate(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, sampleFeed) //nolint:errcheck
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	f := newTestFetcher()
	a := NewAdaptiveLimiter(1000, 1000)
	f.adaptive = map[string]*AdaptiveLimiter{u.Host: a}
	before := a.Limit()

	res, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())

	assert.Equal(t, int32(2), hits.Load())
	// The 429 halved the rate; the success afterwards regrows it only partway.
	assert.Less(t, float64(a.Limit()), float64(before))
}
