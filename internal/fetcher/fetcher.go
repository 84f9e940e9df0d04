// Package fetcher downloads remote product feeds over HTTP(S) and FTP with
// retry, backoff, and per-host rate limiting.
package fetcher

import (
	"context"
	"io"
	"strings"
)

// Result is a fetched feed stream plus the transport's declared content type
// and validator. The caller owns Body and must close it.
type Result struct {
	Body        io.ReadCloser
	ContentType string
	// ETag is the transport's cache validator, "" when the transport has
	// none (FTP, or an HTTP server that does not send one).
	ETag string
}

// Fetcher downloads a remote feed. Implementations exist for HTTP(S) and FTP.
type Fetcher interface {
	// Fetch retrieves the URL and returns the response body with its
	// declared content type (empty when the transport has none).
	Fetch(ctx context.Context, url string) (*Result, error)
}

// ConditionalFetcher is implemented by transports that can validate a cached
// ETag and skip the download when the feed has not changed.
type ConditionalFetcher interface {
	// FetchIfChanged retrieves the URL unless the server confirms the
	// content still matches etag, in which case it returns (nil, true, nil)
	// without a body.
	FetchIfChanged(ctx context.Context, url, etag string) (res *Result, unchanged bool, err error)
}

// ForURL returns the fetcher matching the URL scheme: ftp:// URLs go to the
// FTP fetcher, everything else to HTTP.
func ForURL(url string, httpF *HTTPFetcher, ftpF *FTPFetcher) Fetcher {
	if strings.HasPrefix(url, "ftp://") {
		return ftpF
	}
	return httpF
}
