package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchRetriesTransientStatus(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>ok</html>")
	}))
	defer ts.Close()

	s, sleeps := newTestScraper(t, Options{MaxRetries: 5, BackoffFactor: 0.5})

	body, err := s.Fetch(context.Background(), ts.URL+"/dp/B0BS6G9WG6")
	if err != nil {
		t.Fatal(err)
	}
	if body != "<html>ok</html>" {
		t.Errorf("wrong body: got %q", body)
	}
	if hits != 3 {
		t.Errorf("wrong number of requests: got %d expected %d", hits, 3)
	}

	expected := []time.Duration{500 * time.Millisecond, time.Second}
	if len(*sleeps) != len(expected) {
		t.Fatalf("wrong number of sleeps: got %v expected %v", *sleeps, expected)
	}
	for i, d := range expected {
		if (*sleeps)[i] != d {
			t.Errorf("wrong backoff for retry %d: got %v expected %v", i+1, (*sleeps)[i], d)
		}
	}
}

func TestFetchRetriesExhausted(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	s, _ := newTestScraper(t, Options{MaxRetries: 3})

	_, err := s.Fetch(context.Background(), ts.URL)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
	if fetchErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("wrong status: got %d expected %d", fetchErr.StatusCode, http.StatusInternalServerError)
	}
	if fetchErr.Attempts != 4 || hits != 4 {
		t.Errorf("wrong number of attempts: got %d (%d requests) expected 4", fetchErr.Attempts, hits)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer ts.Close()

	s, sleeps := newTestScraper(t, Options{MaxRetries: 5})

	_, err := s.Fetch(context.Background(), ts.URL)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 *FetchError, got %v", err)
	}
	if hits != 1 || len(*sleeps) != 0 {
		t.Errorf("404 should not be retried: %d requests, sleeps %v", hits, *sleeps)
	}
}

func TestFetchTransportErrorIsRetried(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	s, sleeps := newTestScraper(t, Options{MaxRetries: 2, Timeout: time.Second})

	_, err := s.Fetch(context.Background(), addr)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
	if fetchErr.StatusCode != 0 || fetchErr.Err == nil {
		t.Errorf("expected a transport error without status, got %+v", fetchErr)
	}
	if fetchErr.Attempts != 3 || len(*sleeps) != 2 {
		t.Errorf("wrong number of attempts: %d, sleeps %v", fetchErr.Attempts, *sleeps)
	}
}

func TestFetchRejectsBadURL(t *testing.T) {
	s, _ := newTestScraper(t, Options{})

	for _, u := range []string{"", "www.amazon.com/dp/1", "ftp://example.com/file"} {
		_, err := s.Fetch(context.Background(), u)
		if !errors.Is(err, ErrBadURL) {
			t.Errorf("Fetch(%q): expected ErrBadURL, got %v", u, err)
		}
	}
}

func TestFetchSendsBrowserHeaders(t *testing.T) {
	var got http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		fmt.Fprint(w, "ok")
	}))
	defer ts.Close()

	s, _ := newTestScraper(t, Options{Domain: "www.amazon.com", UserAgent: "test-agent/1.0"})
	if _, err := s.Fetch(context.Background(), ts.URL); err != nil {
		t.Fatal(err)
	}

	expected := map[string]string{
		"User-Agent":      "test-agent/1.0",
		"Accept-Language": "en-US,en;q=0.5",
		"Origin":          "https://www.amazon.com",
		"Referer":         "https://www.amazon.com/",
		"Dnt":             "1",
	}
	for k, v := range expected {
		if got.Get(k) != v {
			t.Errorf("wrong %s header: got %q expected %q", k, got.Get(k), v)
		}
	}
	if got.Get("Accept") == "" {
		t.Error("missing Accept header")
	}
}

func TestFetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gp/product/1", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dp/1", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/dp/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "product 1")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	s, _ := newTestScraper(t, Options{})
	body, err := s.Fetch(context.Background(), ts.URL+"/gp/product/1")
	if err != nil {
		t.Fatal(err)
	}
	if body != "product 1" {
		t.Errorf("wrong body: got %q", body)
	}
}

func TestFetchWaitsBeforeRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer ts.Close()

	s, sleeps := newTestScraper(t, Options{Delay: 1500 * time.Millisecond})
	if _, err := s.Fetch(context.Background(), ts.URL); err != nil {
		t.Fatal(err)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 1500*time.Millisecond {
		t.Errorf("expected a single 1.5s delay, got %v", *sleeps)
	}
}

func TestFetchReturnsLargePagesWhole(t *testing.T) {
	page := strings.Repeat("a", 11<<20) + `<span id="productTitle">end</span>`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer ts.Close()

	s, _ := newTestScraper(t, Options{})
	body, err := s.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(body) != len(page) {
		t.Errorf("body truncated: got %d bytes expected %d", len(body), len(page))
	}
}

func TestFetchRejectsBodyOverLimit(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, strings.Repeat("x", 2048))
	}))
	defer ts.Close()

	s, _ := newTestScraper(t, Options{MaxBodySize: 1024, MaxRetries: 3})
	_, err := s.Fetch(context.Background(), ts.URL)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
	if hits != 1 {
		t.Errorf("oversized body should not be retried, got %d requests", hits)
	}

	exact, _ := newTestScraper(t, Options{MaxBodySize: 2048})
	body, err := exact.Fetch(context.Background(), ts.URL)
	if err != nil || len(body) != 2048 {
		t.Errorf("body at the limit should pass: %d bytes, %v", len(body), err)
	}
}

func TestFetchCancelledDuringBackoff(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	s, err := NewScraper(Options{MaxRetries: 5, BackoffFactor: 60}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	s.sleep = func(ctx context.Context, d time.Duration) error {
		once.Do(cancel)
		return sleepContext(ctx, d)
	}

	_, err = s.Fetch(ctx, ts.URL)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFetchThroughProxy(t *testing.T) {
	var proxied string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = r.URL.String()
		fmt.Fprint(w, "via proxy")
	}))
	defer proxy.Close()

	s, _ := newTestScraper(t, Options{Proxy: proxy.URL})
	body, err := s.Fetch(context.Background(), "http://shop.invalid/dp/42")
	if err != nil {
		t.Fatal(err)
	}
	if body != "via proxy" {
		t.Errorf("wrong body: got %q", body)
	}
	if proxied != "http://shop.invalid/dp/42" {
		t.Errorf("proxy saw wrong request URL: %q", proxied)
	}
}

func TestProxyPicker(t *testing.T) {
	fixed, err := NewProxyPicker(Options{Proxy: "socks5h://127.0.0.1:12334", UseRandomProxies: true})
	if err != nil {
		t.Fatal(err)
	}
	if u := fixed.Pick(); u == nil || u.Host != "127.0.0.1:12334" {
		t.Errorf("explicit proxy should win, got %v", u)
	}

	direct, err := NewProxyPicker(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if u := direct.Pick(); u != nil {
		t.Errorf("expected no proxy, got %v", u)
	}

	pool, err := NewProxyPicker(Options{UseRandomProxies: true})
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for i := range DefaultProxyPool {
		pool.intn = func(int) int { return i }
		seen[proxyLabel(pool.Pick())] = true
	}
	for _, want := range []string{"direct", "http://test.com:8000", "http://example.com:8080", "http://foo.com:3128"} {
		if !seen[want] {
			t.Errorf("pool never produced %s: %v", want, seen)
		}
	}

	if _, err := NewProxyPicker(Options{UseRandomProxies: true, ProxyPool: []string{"none", "not a proxy"}}); err == nil {
		t.Error("expected error for malformed pool entry")
	}
}

func newTestScraper(t *testing.T, opts Options) (*Scraper, *[]time.Duration) {
	t.Helper()
	s, err := NewScraper(opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	sleeps := []time.Duration{}
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return s, &sleeps
}
