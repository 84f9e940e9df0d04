package fetcher

import (
	"context"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RateLimiters map[string]*rate.Limiter
}

// Adaptive rate tuning: grow gently on success, back off hard on 429.
const (
	adaptiveGrow   = 1.2
	adaptiveShrink = 0.5
)

// AdaptiveLimiter self-tunes a rate.Limiter between initial/4 and 2x initial
// based on how the feed host responds.
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	floor   rate.Limit
	ceil    rate.Limit
	current rate.Limit
}

// NewAdaptiveLimiter creates an adaptive limiter centered on initialRate.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(initialRate, burst),
		floor:   initialRate / 4,
		ceil:    initialRate * 2,
		current: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

func (a *AdaptiveLimiter) retune(factor float64) rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.current * rate.Limit(factor)
	if next > a.ceil {
		next = a.ceil
	}
	if next < a.floor {
		next = a.floor
	}
	a.current = next
	a.limiter.SetLimit(next)
	return next
}

// OnSuccess nudges the rate up after a clean response.
func (a *AdaptiveLimiter) OnSuccess() {
	a.retune(adaptiveGrow)
}

// OnRateLimit halves the rate after a 429.
func (a *AdaptiveLimiter) OnRateLimit() {
	next := a.retune(adaptiveShrink)
	zap.L().Warn("fetch: host rate limited, slowing down",
		zap.Float64("new_rate", float64(next)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// HTTPFetcher implements Fetcher over net/http with retry and per-host rate
// limiting for the affiliate feed hosts.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	fixed    map[string]*rate.Limiter
	adaptive map[string]*AdaptiveLimiter

	// backoffBase anchors the retry schedule; shortened in tests.
	backoffBase time.Duration
}

// feedHosts lists the affiliate network download hosts that get dedicated
// limiters; unknown hosts fall back to a permissive default.
var feedHosts = []string{
	"productdata.awin.com",
	"datafeeds.cj.com",
	"feeds.impact.com",
}

// DefaultRateLimiters returns the fixed per-host limiters for the feed hosts.
func DefaultRateLimiters() map[string]*rate.Limiter {
	m := make(map[string]*rate.Limiter, len(feedHosts))
	for _, h := range feedHosts {
		m[h] = rate.NewLimiter(5, 5)
	}
	return m
}

// DefaultAdaptiveLimiters returns self-tuning limiters for the feed hosts.
func DefaultAdaptiveLimiters() map[string]*AdaptiveLimiter {
	m := make(map[string]*AdaptiveLimiter, len(feedHosts))
	for _, h := range feedHosts {
		m[h] = NewAdaptiveLimiter(5, 5)
	}
	return m
}

// NewHTTPFetcher creates an HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "feedsync/1.0"
	}
	fixed := make(map[string]*rate.Limiter)
	for host, lim := range opts.RateLimiters {
		fixed[host] = lim
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:        opts,
		fixed:       fixed,
		adaptive:    DefaultAdaptiveLimiters(),
		backoffBase: time.Second,
	}
}

func (f *HTTPFetcher) wait(ctx context.Context, rawURL string) (*AdaptiveLimiter, error) {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	if a, ok := f.adaptive[host]; ok {
		return a, eris.Wrap(a.Wait(ctx), "fetch: rate limiter wait")
	}
	lim, ok := f.fixed[host]
	if !ok {
		lim = rate.NewLimiter(20, 20)
	}
	return nil, eris.Wrap(lim.Wait(ctx), "fetch: rate limiter wait")
}

// retryableStatus reports whether the response status warrants another
// attempt rather than a hard failure.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// retrieve executes the request with rate limiting, retrying transport
// errors, 429s, and 5xx responses with jittered exponential backoff.
func (f *HTTPFetcher) retrieve(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= f.opts.MaxRetries; attempt++ {
		adaptive, err := f.wait(ctx, req.URL.String())
		if err != nil {
			return nil, err
		}

		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			zap.L().Warn("fetch: request failed",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if attempt < f.opts.MaxRetries {
				f.backoff(ctx, attempt)
			}
			continue
		}

		if retryableStatus(resp.StatusCode) {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("fetch: http %d from %s", resp.StatusCode, req.URL.String())
			if resp.StatusCode == http.StatusTooManyRequests && adaptive != nil {
				adaptive.OnRateLimit()
			}
			zap.L().Warn("fetch: retryable status",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt),
			)
			if attempt < f.opts.MaxRetries {
				f.backoff(ctx, attempt)
			}
			continue
		}

		if adaptive != nil {
			adaptive.OnSuccess()
		}
		return resp, nil
	}
	return nil, eris.Wrap(lastErr, "fetch: retries exhausted")
}

func (f *HTTPFetcher) backoff(ctx context.Context, attempt int) {
	const ceiling = 30 * time.Second
	d := time.Duration(float64(f.backoffBase) * math.Pow(2, float64(attempt-1)))
	if d > ceiling {
		d = ceiling
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (f *HTTPFetcher) feedRequest(ctx context.Context, rawURL, etag string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	return req, nil
}

// Fetch retrieves the URL and returns the response body with its declared
// content type and ETag, for downstream archive detection and change checks.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	res, _, err := f.FetchIfChanged(ctx, rawURL, "")
	return res, err
}

// FetchIfChanged retrieves the URL with an If-None-Match validator. A 304
// response means the feed is unchanged: no body is returned and the caller
// can skip the run.
func (f *HTTPFetcher) FetchIfChanged(ctx context.Context, rawURL, etag string) (*Result, bool, error) {
	req, err := f.feedRequest(ctx, rawURL, etag)
	if err != nil {
		return nil, false, err
	}

	resp, err := f.retrieve(ctx, req)
	if err != nil {
		return nil, false, err
	}

	if resp.StatusCode == http.StatusNotModified {
		_ = resp.Body.Close()
		return nil, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, false, eris.Errorf("fetch: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	return &Result{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
	}, false, nil
}
