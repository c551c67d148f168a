package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/geniass/pricewatch/pkg/scraper"
)

// Environment keys.
const (
	KeyDatabaseURL      = "DATABASE_URL"
	KeyProductsFile     = "PRODUCTS_FILE"
	KeyReportsDir       = "REPORTS_DIR"
	KeyProxy            = "SCRAPER_PROXY"
	KeyUseRandomProxies = "SCRAPER_USE_RANDOM_PROXIES"
	KeyProxyPool        = "SCRAPER_PROXY_POOL"
	KeyRequestTimeout   = "REQUEST_TIMEOUT"
	KeyRequestRetries   = "REQUEST_RETRIES"
	KeyRequestDelay     = "REQUEST_DELAY"
	KeyBackoffFactor    = "REQUEST_BACKOFF_FACTOR"
	KeyMaxBodySize      = "SCRAPER_MAX_BODY_SIZE"
	KeyDomain           = "AMAZON_DOMAIN"
	KeyUserAgent        = "USER_AGENT"
	KeyLogLevel         = "LOG_LEVEL"
	KeyLogFile          = "LOG_FILE"
	KeySiteProfile      = "SITE_PROFILE"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config is every tunable of a run. It is built once at startup and handed to
// the constructors that need it.
type Config struct {
	DatabaseURL  string
	ProductsFile string
	ReportsDir   string

	Proxy            string
	UseRandomProxies bool
	// ProxyPool overrides the built-in pool; empty keeps it.
	ProxyPool []string

	RequestTimeout time.Duration
	RequestRetries int
	RequestDelay   time.Duration
	// BackoffFactor in seconds.
	BackoffFactor float64
	// MaxBodySize in bytes; zero reads pages of any size.
	MaxBodySize int

	Domain    string
	UserAgent string

	LogLevel string
	LogFile  string

	// SiteProfile is a YAML selector table; empty uses the built-in one.
	SiteProfile string
}

// Error is a configuration value that cannot be used.
type Error struct {
	Key   string
	Value string
	Err   error
}

func (e *Error) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("config %s=%q: %v", e.Key, e.Value, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Default() Config {
	return Config{
		DatabaseURL:    "sqlite:///data.db",
		ProductsFile:   "products.txt",
		ReportsDir:     "reports",
		RequestTimeout: 30 * time.Second,
		RequestRetries: 5,
		RequestDelay:   time.Second,
		BackoffFactor:  1.0,
		Domain:         "www.amazon.com",
		UserAgent:      DefaultUserAgent,
		LogLevel:       "INFO",
		LogFile:        "logs/pricewatch.log",
	}
}

// FromEnv starts from Default and overrides every key lookup knows about.
// Pass os.LookupEnv for the process environment.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	c := Default()
	e := env{lookup: lookup}

	e.str(KeyDatabaseURL, &c.DatabaseURL)
	e.str(KeyProductsFile, &c.ProductsFile)
	e.str(KeyReportsDir, &c.ReportsDir)
	e.str(KeyProxy, &c.Proxy)
	e.boolean(KeyUseRandomProxies, &c.UseRandomProxies)
	e.list(KeyProxyPool, &c.ProxyPool)
	e.seconds(KeyRequestTimeout, &c.RequestTimeout)
	e.integer(KeyRequestRetries, &c.RequestRetries)
	e.seconds(KeyRequestDelay, &c.RequestDelay)
	e.float(KeyBackoffFactor, &c.BackoffFactor)
	e.integer(KeyMaxBodySize, &c.MaxBodySize)
	e.str(KeyDomain, &c.Domain)
	e.str(KeyUserAgent, &c.UserAgent)
	e.str(KeyLogLevel, &c.LogLevel)
	e.str(KeyLogFile, &c.LogFile)
	e.str(KeySiteProfile, &c.SiteProfile)

	if e.err != nil {
		return Config{}, e.err
	}
	return c, c.Validate()
}

// Validate reports the first value no component can work with.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.DatabaseURL) == "":
		return &Error{Key: KeyDatabaseURL, Err: errEmpty}
	case strings.TrimSpace(c.ProductsFile) == "":
		return &Error{Key: KeyProductsFile, Err: errEmpty}
	case c.RequestTimeout <= 0:
		return &Error{Key: KeyRequestTimeout, Value: c.RequestTimeout.String(), Err: errNotPositive}
	case c.RequestRetries < 0:
		return &Error{Key: KeyRequestRetries, Value: strconv.Itoa(c.RequestRetries), Err: errNegative}
	case c.RequestDelay < 0:
		return &Error{Key: KeyRequestDelay, Value: c.RequestDelay.String(), Err: errNegative}
	case c.BackoffFactor < 0:
		return &Error{Key: KeyBackoffFactor, Value: strconv.FormatFloat(c.BackoffFactor, 'f', -1, 64), Err: errNegative}
	case c.MaxBodySize < 0:
		return &Error{Key: KeyMaxBodySize, Value: strconv.Itoa(c.MaxBodySize), Err: errNegative}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return &Error{Key: KeyLogLevel, Value: c.LogLevel, Err: err}
	}
	return nil
}

// ScraperOptions maps the request settings onto the fetch client.
func (c Config) ScraperOptions() scraper.Options {
	return scraper.Options{
		Domain:           c.Domain,
		UserAgent:        c.UserAgent,
		Timeout:          c.RequestTimeout,
		MaxRetries:       c.RequestRetries,
		Delay:            c.RequestDelay,
		BackoffFactor:    c.BackoffFactor,
		MaxBodySize:      c.MaxBodySize,
		Proxy:            c.Proxy,
		UseRandomProxies: c.UseRandomProxies,
		ProxyPool:        c.ProxyPool,
	}
}

// LevelCritical sits above slog.LevelError for CRITICAL log settings.
const LevelCritical = slog.LevelError + 4

// ParseLevel accepts the usual level names in any case.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	case "CRITICAL", "FATAL":
		return LevelCritical, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
