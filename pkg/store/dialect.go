package store

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrUnsupportedScheme is returned by Open for descriptors it cannot map to
// an engine.
var ErrUnsupportedScheme = errors.New("unsupported storage scheme")

type dialect struct {
	name       string
	driver     string
	dsn        string
	schema     []string
	positional bool // $1, $2 placeholders instead of ?
}

// parseDescriptor maps a connection descriptor such as sqlite:///data.db or
// postgres://user@host/db to a driver and DSN.
func parseDescriptor(descriptor string) (dialect, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(descriptor), "://")
	if !ok {
		return dialect{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, descriptor)
	}

	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
		// sqlite:///relative.db, sqlite:////abs/path.db, sqlite:///:memory:
		path := strings.TrimPrefix(rest, "/")
		if path == "" {
			return dialect{}, fmt.Errorf("%w: sqlite descriptor %q has no path", ErrUnsupportedScheme, descriptor)
		}
		return dialect{
			name:   "sqlite",
			driver: "sqlite",
			dsn:    sqliteDSN(path),
			schema: sqliteSchema,
		}, nil

	case "postgres", "postgresql":
		if _, err := url.Parse(descriptor); err != nil {
			return dialect{}, fmt.Errorf("%w: %v", ErrUnsupportedScheme, err)
		}
		return dialect{
			name:       "postgres",
			driver:     "pgx",
			dsn:        descriptor,
			schema:     postgresSchema,
			positional: true,
		}, nil
	}

	return dialect{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
}

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

func sqliteDSN(path string) string {
	return "file:" + path + "?" + sqlitePragmas
}

// rebind rewrites ? placeholders for engines that number their parameters.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
