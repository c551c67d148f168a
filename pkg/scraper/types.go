package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// Options configures a Scraper. Zero Delay, BackoffFactor and MaxRetries are
// all valid and switch the matching behaviour off.
type Options struct {
	// Domain is the target site hostname used for the Origin and Referer headers.
	Domain    string
	UserAgent string
	Timeout   time.Duration

	// MaxRetries is the number of extra attempts after the first one.
	MaxRetries int
	// Delay is slept before every fetch.
	Delay time.Duration
	// BackoffFactor in seconds; retry n waits BackoffFactor * 2^(n-1).
	BackoffFactor float64

	// Proxy, when set, is used for every request. Otherwise, with
	// UseRandomProxies, a proxy is drawn from ProxyPool (DefaultProxyPool
	// when empty) for each fetch. An empty pool entry means no proxy.
	Proxy            string
	UseRandomProxies bool
	ProxyPool        []string

	// MaxBodySize caps a page in bytes; a larger page is a FetchError
	// wrapping ErrBodyTooLarge. Zero means no limit.
	MaxBodySize int

	RespectRobotsTxt bool
	DetectCharset    bool
}

// Scraper fetches product pages one at a time.
type Scraper struct {
	opts    Options
	proxies *ProxyPicker
	log     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// FetchError is returned when a page could not be fetched after all retries.
// StatusCode is zero when no response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 && e.Err != nil {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s): %v", e.URL, e.StatusCode, e.Attempts, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// proxyLabel is what gets logged for a proxy; credentials are never printed.
func proxyLabel(u *url.URL) string {
	if u == nil {
		return "direct"
	}
	return u.Redacted()
}
