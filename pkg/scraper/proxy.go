package scraper

import (
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
)

// DefaultProxyPool is used when random proxies are enabled without a pool.
// The empty entry stands for a direct connection.
var DefaultProxyPool = []string{
	"",
	"http://test.com:8000",
	"http://example.com:8080",
	"http://foo.com:3128",
}

// ProxyPicker chooses the proxy for one fetch.
type ProxyPicker struct {
	fixed  *url.URL
	pool   []*url.URL
	random bool
	intn   func(n int) int
}

// NewProxyPicker builds a picker from opts. An explicit Proxy wins over the
// random pool; with neither every fetch goes direct.
func NewProxyPicker(opts Options) (*ProxyPicker, error) {
	p := &ProxyPicker{intn: rand.Intn}

	if strings.TrimSpace(opts.Proxy) != "" {
		u, err := parseProxy(opts.Proxy)
		if err != nil {
			return nil, err
		}
		p.fixed = u
		return p, nil
	}

	if !opts.UseRandomProxies {
		return p, nil
	}

	pool := opts.ProxyPool
	if len(pool) == 0 {
		pool = DefaultProxyPool
	}
	for _, entry := range pool {
		u, err := parseProxy(entry)
		if err != nil {
			return nil, err
		}
		p.pool = append(p.pool, u)
	}
	p.random = true
	return p, nil
}

// Pick returns the proxy to use, or nil for a direct connection.
func (p *ProxyPicker) Pick() *url.URL {
	switch {
	case p.fixed != nil:
		return p.fixed
	case p.random && len(p.pool) > 0:
		return p.pool[p.intn(len(p.pool))]
	default:
		return nil
	}
}

// proxyFunc pins the transport to u for the lifetime of one fetch.
func proxyFunc(u *url.URL) func(*http.Request) (*url.URL, error) {
	return func(*http.Request) (*url.URL, error) {
		return u, nil
	}
}

func parseProxy(s string) (*url.URL, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return nil, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", s, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy %q: scheme and host are required", s)
	}
	return u, nil
}
