package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// retryStatuses are answers worth asking again for.
var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var (
	// ErrBadURL is returned for addresses that are not absolute http(s) URLs.
	ErrBadURL = errors.New("not an absolute http(s) url")
	// ErrBodyTooLarge is returned instead of a truncated page.
	ErrBodyTooLarge = errors.New("response body exceeds size limit")
)

// NewScraper validates opts and returns a Scraper. log may be nil.
func NewScraper(opts Options, log *slog.Logger) (*Scraper, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative, got %d", opts.MaxRetries)
	}
	if opts.MaxBodySize < 0 {
		return nil, fmt.Errorf("max body size must not be negative, got %d", opts.MaxBodySize)
	}
	if opts.BackoffFactor < 0 {
		return nil, fmt.Errorf("backoff factor must not be negative, got %v", opts.BackoffFactor)
	}

	proxies, err := NewProxyPicker(opts)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Scraper{
		opts:    opts,
		proxies: proxies,
		log:     log,
		sleep:   sleepContext,
	}, nil
}

// Fetch downloads address and returns the page body. Transient failures are
// retried with exponential backoff; anything left after the last attempt is
// returned as a *FetchError. Every fetch gets its own session, whose
// connections are released before Fetch returns.
func (s *Scraper) Fetch(ctx context.Context, address string) (string, error) {
	if u, err := url.Parse(address); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &FetchError{URL: address, Err: ErrBadURL}
	}

	if s.opts.Delay > 0 {
		s.log.Debug("waiting before request", "delay", s.opts.Delay)
		if err := s.sleep(ctx, s.opts.Delay); err != nil {
			return "", &FetchError{URL: address, Err: err}
		}
	}

	proxy := s.proxies.Pick()
	transport := newTransport()
	defer transport.CloseIdleConnections()

	c := s.newCollector(transport, proxy)

	var (
		status int
		body   []byte
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})

	s.log.Info("fetching", "url", address, "proxy", proxyLabel(proxy))

	attempts := s.opts.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", &FetchError{URL: address, Attempts: attempt - 1, Err: err}
		}

		status, body = 0, nil
		err := c.Visit(address)

		switch {
		case err == nil && status >= 200 && status < 300:
			if s.opts.MaxBodySize > 0 && len(body) > s.opts.MaxBodySize {
				s.log.Error("fetch failed", "url", address, "err", ErrBodyTooLarge, "limit", s.opts.MaxBodySize)
				return "", &FetchError{URL: address, StatusCode: status, Attempts: attempt, Err: ErrBodyTooLarge}
			}
			s.log.Debug("fetched", "url", address, "status", status, "attempts", attempt)
			return string(body), nil

		case err == nil && !retryStatuses[status]:
			s.log.Error("fetch failed", "url", address, "status", status)
			return "", &FetchError{URL: address, StatusCode: status, Attempts: attempt}

		case err != nil && !retryableError(err):
			s.log.Error("fetch failed", "url", address, "err", err)
			return "", &FetchError{URL: address, Attempts: attempt, Err: err}
		}

		if attempt >= attempts {
			s.log.Error("fetch failed, retries exhausted", "url", address, "status", status, "attempts", attempt, "err", err)
			return "", &FetchError{URL: address, StatusCode: status, Attempts: attempt, Err: err}
		}

		wait := s.backoff(attempt)
		s.log.Warn("request failed, retrying", "url", address, "status", status, "err", err, "attempt", attempt, "wait", wait)
		if err := s.sleep(ctx, wait); err != nil {
			return "", &FetchError{URL: address, StatusCode: status, Attempts: attempt, Err: err}
		}
	}
}

// backoff is the pause before retry n (1-based).
func (s *Scraper) backoff(n int) time.Duration {
	secs := s.opts.BackoffFactor * math.Pow(2, float64(n-1))
	return time.Duration(secs * float64(time.Second))
}

func (s *Scraper) newCollector(transport *http.Transport, proxy *url.URL) *colly.Collector {
	options := []colly.CollectorOption{
		colly.UserAgent(s.opts.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		// colly truncates silently; read one byte past the limit to notice
		colly.MaxBodySize(bodyLimit(s.opts.MaxBodySize)),
	}
	if s.opts.DetectCharset {
		options = append(options, colly.DetectCharset())
	}

	c := colly.NewCollector(options...)
	c.IgnoreRobotsTxt = !s.opts.RespectRobotsTxt
	c.WithTransport(transport)
	c.SetProxyFunc(proxyFunc(proxy))
	c.SetRequestTimeout(s.opts.Timeout)

	origin := "https://" + s.opts.Domain
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.5")
		r.Headers.Set("Connection", "keep-alive")
		r.Headers.Set("DNT", "1")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
		if s.opts.Domain != "" {
			r.Headers.Set("Origin", origin)
			r.Headers.Set("Referer", origin+"/")
		}
	})

	return c
}

// bodyLimit is the colly read limit for max; colly treats 0 as unlimited.
func bodyLimit(max int) int {
	if max <= 0 {
		return 0
	}
	return max + 1
}

func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// retryableError reports whether err came from the network rather than from
// colly refusing the request (robots.txt, forbidden domain, ...). Addresses
// are validated before the first attempt, so a *url.Error here is a
// transport failure.
func retryableError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
